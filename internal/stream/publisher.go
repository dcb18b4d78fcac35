package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pscheid92/splitpulse/internal/adapter/metrics"
	"github.com/pscheid92/splitpulse/internal/domain"
)

// DirectPublisher delivers pushes to this process only. Used when no broker
// is configured.
type DirectPublisher struct {
	dispatcher domain.LocalDispatcher
	metrics    *metrics.PubSubMetrics
}

var _ domain.Publisher = (*DirectPublisher)(nil)

func NewDirectPublisher(dispatcher domain.LocalDispatcher, m *metrics.PubSubMetrics) *DirectPublisher {
	return &DirectPublisher{dispatcher: dispatcher, metrics: m}
}

func (p *DirectPublisher) Publish(_ context.Context, userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	delivered := p.dispatcher.DispatchLocal(userID, data)
	if p.metrics != nil {
		result := "no_connection"
		if delivered {
			result = "delivered"
		}
		p.metrics.Published.WithLabelValues("direct", result).Inc()
	}
	return nil
}
