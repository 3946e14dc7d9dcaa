package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/user/flicklog/internal/config"
	"github.com/user/flicklog/internal/events"
	"github.com/user/flicklog/internal/logging"
	"github.com/user/flicklog/internal/metrics"
	"github.com/user/flicklog/internal/model"
	"github.com/user/flicklog/internal/utils"
	"golang.org/x/time/rate"
)

const (
	embedColor     = 13915497
	footerText     = "Logged with Flicklog"
	footerIconURL  = "https://i.imgur.com/hC4zF24.png"
	tmdbWebBaseURL = "https://www.themoviedb.org"
)

// Subscriber 事件订阅来源
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// DiscordPayload Discord 兼容的 Webhook 消息体
type DiscordPayload struct {
	Content string         `json:"content"`
	Embeds  []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Description string        `json:"description"`
	Color       int           `json:"color"`
	Image       *DiscordImage `json:"image,omitempty"`
	Author      DiscordAuthor `json:"author"`
	Footer      DiscordFooter `json:"footer"`
	Timestamp   string        `json:"timestamp"`
}

type DiscordImage struct {
	URL string `json:"url"`
}

type DiscordAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type DiscordFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// Notifier 消费 EntryLogged 事件并推送 Webhook，每个事件只 POST 一次，不重试
type Notifier struct {
	sub     Subscriber
	lookup  MetadataLookup
	client  *utils.HTTPClient
	limiter *rate.Limiter
	timeout time.Duration
}

func NewNotifier(sub Subscriber, lookup MetadataLookup, cfg config.WebhookConfig) *Notifier {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Notifier{
		sub:     sub,
		lookup:  lookup,
		client:  utils.NewHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		timeout: cfg.Timeout,
	}
}

// Run 阻塞直到 ctx 结束
func (n *Notifier) Run(ctx context.Context) error {
	msgs, err := n.sub.Subscribe(ctx, events.TopicEntryLogged)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TopicEntryLogged, err)
	}
	logging.Info().Msg("[Notifier] 已启动")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			n.handle(ctx, msg)
			msg.Ack()
		}
	}
}

func (n *Notifier) handle(ctx context.Context, msg *message.Message) {
	evt, err := events.Decode[events.EntryLogged](msg)
	if err != nil {
		metrics.WebhookDispatchTotal.WithLabelValues("payload_error").Inc()
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("[Notifier] 事件解析失败")
		return
	}
	n.Dispatch(ctx, evt)
}

// Dispatch 构造消息并推送，任何失败只记日志和指标
func (n *Notifier) Dispatch(ctx context.Context, evt events.EntryLogged) {
	if evt.WebhookURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		metrics.WebhookDispatchTotal.WithLabelValues("throttled").Inc()
		logging.Warn().Err(err).Str("space_id", evt.SpaceID.String()).Msg("[Notifier] 超出推送频率，已丢弃")
		return
	}

	details := n.lookup.GetMediaDetails(ctx, evt.TmdbID, model.MediaType(evt.TmdbType))
	if details == nil {
		metrics.WebhookDispatchTotal.WithLabelValues("payload_error").Inc()
		logging.Warn().Str("tmdb_id", evt.TmdbID).Str("tmdb_type", evt.TmdbType).Msg("[Notifier] 获取影视信息失败，放弃推送")
		return
	}

	payload := BuildDiscordPayload(evt, details)
	if err := n.client.PostJSON(ctx, evt.WebhookURL, payload); err != nil {
		result := "network_error"
		var se *utils.StatusError
		if errors.As(err, &se) {
			result = "http_error"
		}
		metrics.WebhookDispatchTotal.WithLabelValues(result).Inc()
		logging.Warn().Err(err).Str("space_id", evt.SpaceID.String()).Msg("[Notifier] Webhook 推送失败")
		return
	}
	metrics.WebhookDispatchTotal.WithLabelValues("success").Inc()
	logging.Debug().Str("space_id", evt.SpaceID.String()).Msg("[Notifier] Webhook 推送成功")
}

// BuildDiscordPayload 渲染通知内容
func BuildDiscordPayload(evt events.EntryLogged, details MediaDetails) DiscordPayload {
	name := evt.Author.DisplayName
	if name == "" {
		name = evt.Author.Username
	}

	description := fmt.Sprintf("**%.1f** %s\n", evt.Rating, Stars(evt.Rating))
	if evt.QuickTake != "" {
		description += "> " + evt.QuickTake
	}

	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s (%s)", details.DisplayTitle(), ReleaseYear(details)),
		URL:         fmt.Sprintf("%s/%s/%s", tmdbWebBaseURL, evt.TmdbType, evt.TmdbID),
		Description: description,
		Color:       embedColor,
		Author: DiscordAuthor{
			Name:    fmt.Sprintf("%s (@%s)", name, evt.Author.Username),
			IconURL: evt.Author.AvatarURL,
		},
		Footer:    DiscordFooter{Text: footerText, IconURL: footerIconURL},
		Timestamp: evt.LoggedAt.UTC().Format(time.RFC3339),
	}
	if poster := PosterURL(details.Poster(), "w500"); poster != "" {
		embed.Image = &DiscordImage{URL: poster}
	}

	return DiscordPayload{
		Content: fmt.Sprintf("%s just logged a new entry!", name),
		Embeds:  []DiscordEmbed{embed},
	}
}

// Stars 整数部分每分一颗 ⭐，有半分再加 ✨
func Stars(value float64) string {
	whole := int(math.Floor(value))
	if whole < 0 {
		whole = 0
	}
	s := strings.Repeat("⭐", whole)
	if value-math.Floor(value) != 0 {
		s += "✨"
	}
	return s
}
