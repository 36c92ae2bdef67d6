package notifications

import (
	"context"
	"log"
	"runtime/debug"

	"github.com/redis/go-redis/v9"

	"campfire/internal/middleware"
)

// Notifier publishes realtime events into Redis channels so every server
// instance can fan them out to its own websocket clients.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Publish sends an encoded event envelope to its channel.
func (n *Notifier) Publish(ctx context.Context, event *Event) error {
	if n.rdb == nil {
		return nil
	}
	data, err := event.Encode()
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, event.Channel, data).Err(); err != nil {
		middleware.BroadcastFailures.WithLabelValues(event.Channel).Inc()
		return err
	}
	middleware.BroadcastEvents.WithLabelValues(event.Type).Inc()
	return nil
}

// StartPatternSubscriber subscribes to the room, user, and shared badge
// patterns and calls onMessage for each incoming message.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "room:*", "user:*", "rooms:*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in PatternSubscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
