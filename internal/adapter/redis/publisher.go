package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/splitpulse/internal/adapter/metrics"
	"github.com/pscheid92/splitpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// PushChannel carries push frames for every user. Each instance receives
// every frame and only the one holding the user's connection delivers it.
const PushChannel = "splitpulse:push"

// BrokerPublisher fans pushes out to all instances through Redis pub/sub.
// Instances connected to the same user both deliver; payloads are absolute
// counts, so duplicates are harmless.
type BrokerPublisher struct {
	rdb        *goredis.Client
	dispatcher domain.LocalDispatcher
	metrics    *metrics.PubSubMetrics

	readyOnce sync.Once
	ready     chan struct{}
}

var _ domain.Publisher = (*BrokerPublisher)(nil)

func NewBrokerPublisher(rdb *goredis.Client, dispatcher domain.LocalDispatcher, m *metrics.PubSubMetrics) *BrokerPublisher {
	return &BrokerPublisher{
		rdb:        rdb,
		dispatcher: dispatcher,
		metrics:    m,
		ready:      make(chan struct{}),
	}
}

func (p *BrokerPublisher) Publish(ctx context.Context, userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}
	frame, err := json.Marshal(domain.PushFrame{UserID: userID, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal push frame: %w", err)
	}

	if err := p.rdb.Publish(ctx, PushChannel, frame).Err(); err != nil {
		p.countPublished("failed")
		return fmt.Errorf("failed to publish push frame: %w", err)
	}
	p.countPublished("published")
	return nil
}

// Ready is closed once the subscription is confirmed by Redis.
func (p *BrokerPublisher) Ready() <-chan struct{} {
	return p.ready
}

// Run subscribes to the push channel and dispatches every frame to the local
// registry. Blocks until ctx is cancelled. Reconnects are handled by go-redis.
func (p *BrokerPublisher) Run(ctx context.Context) error {
	pubsub := p.rdb.Subscribe(ctx, PushChannel)
	defer func() {
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", PushChannel, err)
	}
	p.readyOnce.Do(func() { close(p.ready) })

	if p.metrics != nil {
		p.metrics.SubscriptionActive.Set(1)
		defer p.metrics.SubscriptionActive.Set(0)
	}
	slog.Info("Subscribed to push channel", "channel", PushChannel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			p.handleMessage(msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *BrokerPublisher) handleMessage(payload string) {
	var frame domain.PushFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil || frame.UserID == "" || len(frame.Data) == 0 {
		slog.Warn("Malformed push frame on broker channel", "payload_bytes", len(payload), "error", err)
		p.countReceived("malformed")
		return
	}

	if p.dispatcher.DispatchLocal(frame.UserID, frame.Data) {
		p.countReceived("delivered")
		return
	}
	p.countReceived("no_connection")
}

func (p *BrokerPublisher) countPublished(result string) {
	if p.metrics != nil {
		p.metrics.Published.WithLabelValues("broker", result).Inc()
	}
}

func (p *BrokerPublisher) countReceived(outcome string) {
	if p.metrics != nil {
		p.metrics.Received.WithLabelValues(outcome).Inc()
	}
}
