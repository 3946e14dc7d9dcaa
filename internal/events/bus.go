// Package events 事务提交后的进程内事件（Webhook 通知、实时推送）
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	TopicEntryLogged    = "flicklog.entry_logged"
	TopicPendingCreated = "flicklog.pending_created"
)

// Author 评分作者快照
type Author struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

// EntryLogged 一条评分已提交，且所在空间配置了 Webhook
type EntryLogged struct {
	SpaceID    uuid.UUID `json:"space_id"`
	SpaceName  string    `json:"space_name"`
	WebhookURL string    `json:"webhook_url"` // 已解密
	LogEntryID uuid.UUID `json:"log_entry_id"`
	TmdbID     string    `json:"tmdb_id"`
	TmdbType   string    `json:"tmdb_type"`
	Rating     float64   `json:"rating"`
	QuickTake  string    `json:"quick_take,omitempty"`
	Author     Author    `json:"author"`
	LoggedAt   time.Time `json:"logged_at"`
}

// PendingCreated 共享空间中为其他成员生成了待评分
type PendingCreated struct {
	SpaceID    uuid.UUID   `json:"space_id"`
	SpaceName  string      `json:"space_name"`
	LogEntryID uuid.UUID   `json:"log_entry_id"`
	TmdbID     string      `json:"tmdb_id"`
	TmdbType   string      `json:"tmdb_type"`
	FromUserID uuid.UUID   `json:"from_user_id"`
	FromName   string      `json:"from_name"`
	UserIDs    []uuid.UUID `json:"user_ids"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Bus 基于 watermill GoChannel 的发布订阅，Publish 不等待消费结果
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus(logger watermill.LoggerAdapter) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger),
	}
}

// Publish 序列化后发布
func (b *Bus) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	return b.pubsub.Publish(topic, msg)
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode 反序列化消息体
func Decode[T any](msg *message.Message) (T, error) {
	var v T
	err := json.Unmarshal(msg.Payload, &v)
	return v, err
}
