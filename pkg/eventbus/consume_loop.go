package eventbus

import (
	"context"
	"log/slog"
	"time"
)

const (
	reconnectFloor = time.Second
	reconnectCeil  = 60 * time.Second
)

// ConsumeLoop keeps a consumer group attached to a routing key for the
// life of ctx. When the delivery channel closes (connection or channel
// loss) it redials with exponential backoff and resumes; unacked
// deliveries are redelivered by the broker, and dedup absorbs the
// replays.
func ConsumeLoop(ctx context.Context, bus *Bus, key RoutingKey, consumerGroup string, dedup *Dedup, handle func(Envelope) error) {
	backoff := reconnectFloor
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := bus.Subscribe(key, consumerGroup)
		if err != nil {
			slog.Error("eventbus: subscribe failed, backing off",
				"key", string(key), "group", consumerGroup, "backoff", backoff, "error", err)
		} else {
			backoff = reconnectFloor
			RunConsumer(ctx, deliveries, dedup, handle)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("eventbus: delivery channel closed, reconnecting",
				"key", string(key), "group", consumerGroup)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err := bus.Reconnect(0); err != nil {
			slog.Error("eventbus: reconnect failed", "error", err)
		}
		backoff *= 2
		if backoff > reconnectCeil {
			backoff = reconnectCeil
		}
	}
}
