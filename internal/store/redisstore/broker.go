package redisstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultEventChannel = "chat:events"

// Broker fans deliveries out to every subscribed process over redis pub/sub.
// Pub/sub is fire-and-forget: a process that is not subscribed misses the
// frame, which clients recover from by refetching history on reconnect.
type Broker struct {
	rdb     *redis.Client
	channel string
}

func (s *Store) Broker(channel string) *Broker {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &Broker{rdb: s.rdb, channel: channel}
}

func (b *Broker) Publish(ctx context.Context, payload []byte) error {
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", b.channel)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed, so nothing published
// after it returns is missed. The channel closes when ctx is done.
func (b *Broker) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(err, "subscribe %s", b.channel)
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					log.Warn().Str("channel", b.channel).Msg("redis subscription closed")
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
