package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes batch ids on a pub/sub channel and lets every
// worker instance subscribe to it.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, channel string, logger *slog.Logger) *RedisNotifier {
	if channel == "" {
		channel = "ingest:jobs:pending"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, channel: channel, logger: logger}
}

func (n *RedisNotifier) Notify(ctx context.Context, batchID uuid.UUID) error {
	return n.rdb.Publish(ctx, n.channel, batchID.String()).Err()
}

func (n *RedisNotifier) Nudges(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := n.rdb.Subscribe(ctx, n.channel)

	go func() {
		defer func() {
			if err := sub.Close(); err != nil {
				n.logger.Warn("notify.redis.close_error", "err", err)
			}
		}()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				n.logger.Debug("notify.redis.nudge", "batch_id", msg.Payload)
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
