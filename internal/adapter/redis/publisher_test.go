package redis

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/splitpulse/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	connected map[string]bool
	delivered map[string][]string
}

func newRecordingDispatcher(connected ...string) *recordingDispatcher {
	d := &recordingDispatcher{connected: map[string]bool{}, delivered: map[string][]string{}}
	for _, u := range connected {
		d.connected[u] = true
	}
	return d
}

func (d *recordingDispatcher) DispatchLocal(userID string, data []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected[userID] {
		return false
	}
	d.delivered[userID] = append(d.delivered[userID], string(data))
	return true
}

func (d *recordingDispatcher) frames(userID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.delivered[userID]...)
}

func TestHandleMessage_DispatchesEmbeddedUser(t *testing.T) {
	d := newRecordingDispatcher("user-a")
	m := metrics.NewPubSubMetrics(prometheus.NewRegistry())
	p := NewBrokerPublisher(nil, d, m)

	p.handleMessage(`{"userId":"user-a","data":{"unread":3}}`)
	p.handleMessage(`{"userId":"user-b","data":{"unread":1}}`)

	assert.Equal(t, []string{`{"unread":3}`}, d.frames("user-a"))
	assert.Empty(t, d.frames("user-b"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Received.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Received.WithLabelValues("no_connection")))
}

func TestHandleMessage_SkipsMalformed(t *testing.T) {
	d := newRecordingDispatcher("user-a")
	m := metrics.NewPubSubMetrics(prometheus.NewRegistry())
	p := NewBrokerPublisher(nil, d, m)

	for _, payload := range []string{
		`not json`,
		`{"data":{"unread":1}}`,
		`{"userId":"user-a"}`,
	} {
		p.handleMessage(payload)
	}

	assert.Empty(t, d.frames("user-a"))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Received.WithLabelValues("malformed")))
}
