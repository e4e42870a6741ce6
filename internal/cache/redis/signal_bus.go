package redis

import (
	"context"
	"fmt"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps the durable event stream via XADD MAXLEN ~. Ten thousand
// entries comfortably covers the dispatcher's catch-up window between
// restarts; older events live in Postgres and cold storage anyway.
const streamMaxLen int64 = 10000

// SignalBus fans committed engine events out of the writer. Pub/Sub carries
// the live feed for websocket clients; a Redis stream keeps a short durable
// tail so the notification dispatcher can resume from its last cursor after
// a restart instead of dropping events.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish broadcasts a serialized event on a Pub/Sub channel. Delivery is
// best effort: subscribers that are not connected at publish time miss the
// message, which is fine for the live feed since late joiners replay from
// the stream or from Postgres.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and returns a channel of raw
// payloads. The subscription is confirmed before Subscribe returns, so a
// successful call means the caller will see every subsequent Publish on the
// channel. Cancelling the context tears the subscription down and closes
// the returned channel.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so the publish/subscribe
	// ordering guarantee above actually holds.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamAppend appends an event to the durable stream. Trimming is
// approximate (MAXLEN ~) so Redis can drop whole macro nodes cheaply.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries appended after lastID. Pass "0" to
// read from the oldest retained entry. The read does not block: when the
// stream has nothing new it returns a nil slice, letting the dispatcher
// poll on its own interval.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		// go-redis treats Block == 0 as BLOCK 0 (wait forever); -1 omits
		// the BLOCK argument entirely.
		Block: -1,
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"]
			if !ok {
				continue
			}

			// go-redis hands stream values back as strings; accept
			// []byte too in case that ever changes.
			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			messages = append(messages, domain.StreamMessage{
				ID:      msg.ID,
				Payload: data,
			})
		}
	}

	return messages, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
