package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

// Archiver persists published events for replay.
type Archiver interface {
	Store(ctx context.Context, evt events.Event) error
}

// Bus is a content-based pub/sub router. Delivery is at-least-once: a
// target failure is logged and counted but never propagated to the
// publisher, and replays may hand a target the same event again. Targets
// must be idempotent.
type Bus struct {
	name   string
	logger logging.Logger

	mu    sync.RWMutex
	rules []Rule

	archive Archiver

	published *prometheus.CounterVec
	delivered *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// Option configures the bus.
type Option func(*Bus)

// WithArchive attaches an event archive; every published event is stored
// before delivery.
func WithArchive(a Archiver) Option {
	return func(b *Bus) {
		b.archive = a
	}
}

// WithMetrics attaches the per-detail-type delivery counters.
func WithMetrics(published, delivered *prometheus.CounterVec, duration *prometheus.HistogramVec) Option {
	return func(b *Bus) {
		b.published = published
		b.delivered = delivered
		b.duration = duration
	}
}

// New creates a bus with the given name.
func New(name string, logger logging.Logger, opts ...Option) *Bus {
	b := &Bus{
		name:   name,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a routing rule. Rules are evaluated in subscription
// order, but no delivery ordering across rules or targets is guaranteed.
func (b *Bus) Subscribe(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.rules {
		if existing.Name == rule.Name {
			return fmt.Errorf("rule %s already subscribed", rule.Name)
		}
	}
	b.rules = append(b.rules, rule)
	return nil
}

// Publish stamps the event once and delivers it to every matching target.
// The returned error covers only publish-side validation; target failures
// surface through logs and metrics.
func (b *Bus) Publish(ctx context.Context, evt events.Event) error {
	if evt.DetailType == "" {
		return fmt.Errorf("event requires a detail type")
	}
	if len(evt.Detail) == 0 {
		return fmt.Errorf("event %s requires a detail payload", evt.DetailType)
	}

	// Write-once stamping: never overwrite an id set by a replay.
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.BusName == "" {
		evt.BusName = b.name
	}

	if b.published != nil {
		b.published.WithLabelValues(string(evt.DetailType)).Inc()
	}

	if b.archive != nil {
		if err := b.archive.Store(ctx, evt); err != nil {
			// Archive failure must not block delivery.
			b.logger.WithError(err).WithFields(logging.Fields{
				"event_id":    evt.ID,
				"detail_type": evt.DetailType,
			}).Error("Failed to archive event")
		}
	}

	b.mu.RLock()
	rules := make([]Rule, len(b.rules))
	copy(rules, b.rules)
	b.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Matches(evt) {
			continue
		}
		b.deliver(ctx, rule, evt)
	}

	return nil
}

func (b *Bus) deliver(ctx context.Context, rule Rule, evt events.Event) {
	start := time.Now()
	err := rule.Target.Deliver(ctx, evt)
	if b.duration != nil {
		b.duration.WithLabelValues(rule.Name).Observe(time.Since(start).Seconds())
	}

	status := "ok"
	if err != nil {
		status = "error"
		b.logger.WithError(err).WithFields(logging.Fields{
			"event_id":    evt.ID,
			"detail_type": evt.DetailType,
			"rule":        rule.Name,
			"target":      rule.Target.Name(),
		}).Error("Failed to deliver event to target")
	}
	if b.delivered != nil {
		b.delivered.WithLabelValues(string(evt.DetailType), rule.Name, status).Inc()
	}
}
