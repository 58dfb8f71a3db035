package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier publishes seat updates to one Redis pub/sub channel per
// showtime. Redis pub/sub is exactly at-most-once: subscribers that are
// connected receive the message, everyone else misses it, which matches
// the notifier contract.
type RedisNotifier struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisNotifier builds a notifier over the given client. A nil client
// degrades to a no-op so the service still runs without Redis pub/sub.
func NewRedisNotifier(client *redis.Client, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, log: log}
}

// Topic returns the pub/sub channel name for a showtime's seat map.
func Topic(showtimeID uint64) string {
	return fmt.Sprintf("topic:seat:%d", showtimeID)
}

func (n *RedisNotifier) BroadcastSeatUpdate(ctx context.Context, update SeatUpdate) {
	if n.client == nil {
		return
	}
	body, err := json.Marshal(update)
	if err != nil {
		n.log.Error("seat update marshal failed", zap.Error(err))
		return
	}
	if err := n.client.Publish(ctx, Topic(update.ShowtimeID), body).Err(); err != nil {
		n.log.Warn("seat update publish failed",
			zap.Uint64("showtime_id", update.ShowtimeID),
			zap.String("status", string(update.Status)),
			zap.Error(err))
	}
}

// Subscribe opens a subscription on a showtime's seat topic and returns
// a channel of decoded updates. The channel closes when ctx is canceled.
// Used by the SSE handler to relay updates to browsers.
func (n *RedisNotifier) Subscribe(ctx context.Context, showtimeID uint64) (<-chan SeatUpdate, error) {
	if n.client == nil {
		return nil, fmt.Errorf("notify: redis client not configured")
	}
	sub := n.client.Subscribe(ctx, Topic(showtimeID))
	// Force the SUBSCRIBE round trip so a dead connection fails here,
	// not silently on the first missed message.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan SeatUpdate)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update SeatUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					n.log.Warn("seat update decode failed", zap.Error(err))
					continue
				}
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
