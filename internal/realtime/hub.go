// Package realtime 通过 websocket 向在线成员推送新的待评分
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/user/flicklog/internal/events"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/metrics"
)

const (
	MessageTypePendingRating = "pending_rating"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// Message 推送给浏览器的消息
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// PendingNotice pending_rating 消息体
type PendingNotice struct {
	LogEntryID uuid.UUID `json:"log_entry_id"`
	SpaceID    uuid.UUID `json:"space_id"`
	SpaceName  string    `json:"space_name"`
	TmdbID     string    `json:"tmdb_id"`
	TmdbType   string    `json:"tmdb_type"`
	FromName   string    `json:"from_name"`
}

// Subscriber 事件订阅来源
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Hub 按用户分组的在线连接
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeClients.Inc()
	logging.Debug().Str("user_id", c.userID.String()).Uint64("client_id", c.id).Msg("[Realtime] 客户端已连接")
}

// Unregister 可重复调用
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	metrics.RealtimeClients.Dec()
}

// SendToUser 推送给该用户的所有连接；缓冲已满的慢连接直接断开
func (h *Hub) SendToUser(userID uuid.UUID, msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	var slow []*Client
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		logging.Warn().Uint64("client_id", c.id).Msg("[Realtime] 客户端过慢，已断开")
		h.removeLocked(c)
	}
	return delivered
}

// reply 回复单个连接，连接已移除或缓冲已满时丢弃
func (h *Hub) reply(c *Client, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.userID][c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// ClientCount 某用户的在线连接数
func (h *Hub) ClientCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Run 消费 PendingCreated 事件并推送，阻塞直到 ctx 结束
func (h *Hub) Run(ctx context.Context, sub Subscriber) error {
	msgs, err := sub.Subscribe(ctx, events.TopicPendingCreated)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TopicPendingCreated, err)
	}
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case msg, ok := <-msgs:
			if !ok {
				h.closeAll()
				return nil
			}
			h.handle(msg)
			msg.Ack()
		}
	}
}

func (h *Hub) handle(msg *message.Message) {
	evt, err := events.Decode[events.PendingCreated](msg)
	if err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("[Realtime] 事件解析失败")
		return
	}
	notice := Message{
		Type: MessageTypePendingRating,
		Data: PendingNotice{
			LogEntryID: evt.LogEntryID,
			SpaceID:    evt.SpaceID,
			SpaceName:  evt.SpaceName,
			TmdbID:     evt.TmdbID,
			TmdbType:   evt.TmdbType,
			FromName:   evt.FromName,
		},
	}
	for _, uid := range evt.UserIDs {
		h.SendToUser(uid, notice)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}
