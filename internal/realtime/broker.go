package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// Broker carries encoded deliveries between every process that holds client
// connections (server replicas) or produces events (the reply worker).
// Implementations must deliver frames from one publisher in publish order.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// LocalBroker is an in-process Broker for single-instance deployments and tests.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: map[chan []byte]struct{}{}}
}

func (b *LocalBroker) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Publisher frames events as deliveries on a Broker. Processes that hold no
// connections, like the reply worker, use it directly as their chat.EventSink.
type Publisher struct {
	broker Broker
}

func NewPublisher(b Broker) *Publisher {
	return &Publisher{broker: b}
}

func (p *Publisher) PublishSession(ctx context.Context, sessionID string, ev protocol.Event) error {
	return p.publish(ctx, delivery{SessionID: sessionID}, ev)
}

// PublishUser reaches every connection (tab, device) of the user regardless
// of room.
func (p *Publisher) PublishUser(ctx context.Context, userID uint64, ev protocol.Event) error {
	return p.publish(ctx, delivery{UserID: userID}, ev)
}

func (p *Publisher) publish(ctx context.Context, d delivery, ev protocol.Event) error {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	d.Frame = frame
	payload, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode delivery")
	}
	return p.broker.Publish(ctx, payload)
}
