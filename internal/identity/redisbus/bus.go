// Package redisbus はRedis Pub/Subで認証イベントをインスタンス間に中継するEventBusを提供する。
//
// 発行したイベントは1つのチャネルに流れ、各インスタンスのRunがローカルのMemoryBusへ配信する。
// 同じクライアントのリコンサイラーがどのインスタンスにマウントされていても通知が届く。
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/model"
)

// DefaultChannel は認証イベントを流すRedisチャネル名。
const DefaultChannel = "virtucalls:auth-events"

// Bus はRedisを経由するEventBus。
type Bus struct {
	client  *redis.Client
	channel string
	local   *identity.MemoryBus
	logger  *slog.Logger
}

// New はBusを生成する。channelが空の場合はDefaultChannelを使う。
func New(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		client:  client,
		channel: channel,
		local:   identity.NewMemoryBus(),
		logger:  logger,
	}
}

// Publish はイベントをRedisチャネルに発行する。
// 発行元のインスタンスにもRun経由で配信される。
func (b *Bus) Publish(ctx context.Context, event model.AuthEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode auth event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish auth event: %w", err)
	}
	return nil
}

// Subscribe はクライアントのリスナーを登録する。
// Redisに到達できない場合はエラーを返し、呼び出し側の再試行に任せる。
func (b *Bus) Subscribe(ctx context.Context, clientID string, fn identity.Listener) (identity.Unsubscribe, error) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("auth event channel unavailable: %w", err)
	}
	return b.local.Subscribe(ctx, clientID, fn)
}

// Run はRedisチャネルを購読し、受信したイベントをローカルのリスナーに配信する。
// ctxがキャンセルされるまでブロックする。
func (b *Bus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// 購読の確立を待つ
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe auth event channel: %w", err)
	}
	b.logger.Info("auth event relay started", slog.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("auth event relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event model.AuthEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("discarding malformed auth event",
					slog.String("error", err.Error()),
				)
				continue
			}
			b.local.Deliver(event)
		}
	}
}

// compile-time interface check
var _ identity.EventBus = (*Bus)(nil)
