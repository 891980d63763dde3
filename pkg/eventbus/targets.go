package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

// Target receives events matched by a routing rule.
type Target interface {
	Name() string
	Deliver(ctx context.Context, evt events.Event) error
}

// HandlerTarget adapts an in-process handler function into a target.
type HandlerTarget struct {
	name    string
	handler func(ctx context.Context, evt events.Event) error
}

// NewHandlerTarget wraps a handler function.
func NewHandlerTarget(name string, handler func(ctx context.Context, evt events.Event) error) *HandlerTarget {
	return &HandlerTarget{name: name, handler: handler}
}

func (t *HandlerTarget) Name() string { return t.name }

func (t *HandlerTarget) Deliver(ctx context.Context, evt events.Event) error {
	return t.handler(ctx, evt)
}

// WorkflowTarget starts one asynchronous execution per delivered event.
// Delivery succeeds once the execution is accepted; the execution outcome
// is reported by the workflow itself, not the bus.
type WorkflowTarget struct {
	name   string
	logger logging.Logger
	start  func(ctx context.Context, evt events.Event) error
}

// NewWorkflowTarget wraps a workflow start function.
func NewWorkflowTarget(name string, logger logging.Logger, start func(ctx context.Context, evt events.Event) error) *WorkflowTarget {
	return &WorkflowTarget{name: name, logger: logger, start: start}
}

func (t *WorkflowTarget) Name() string { return t.name }

func (t *WorkflowTarget) Deliver(ctx context.Context, evt events.Event) error {
	// Detach from the publish context so the execution outlives the
	// publishing request.
	execCtx := context.WithoutCancel(ctx)
	go func() {
		if err := t.start(execCtx, evt); err != nil {
			t.logger.WithError(err).WithFields(logging.Fields{
				"event_id": evt.ID,
				"workflow": t.name,
			}).Error("Workflow execution failed")
		}
	}()
	return nil
}

// StreamProducer is the subset of the Kafka producer the stream target needs.
type StreamProducer interface {
	ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error
}

// StreamTarget forwards events to an external stream for analytics
// ingestion.
type StreamTarget struct {
	name     string
	topic    string
	producer StreamProducer
}

// NewStreamTarget creates a target producing onto the given topic.
func NewStreamTarget(name, topic string, producer StreamProducer) *StreamTarget {
	return &StreamTarget{name: name, topic: topic, producer: producer}
}

func (t *StreamTarget) Name() string { return t.name }

func (t *StreamTarget) Deliver(_ context.Context, evt events.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	headers := map[string]string{
		"source":      evt.Source,
		"detail_type": string(evt.DetailType),
	}
	return t.producer.ProduceMessage(t.topic, []byte(evt.ID), value, headers)
}

// LogTarget is the catch-all observability sink: it logs every event it
// receives with structured context.
type LogTarget struct {
	name   string
	logger logging.Logger
}

// NewLogTarget creates the catch-all log sink.
func NewLogTarget(name string, logger logging.Logger) *LogTarget {
	return &LogTarget{name: name, logger: logger}
}

func (t *LogTarget) Name() string { return t.name }

func (t *LogTarget) Deliver(_ context.Context, evt events.Event) error {
	t.logger.WithFields(logging.Fields{
		"event_id":    evt.ID,
		"source":      evt.Source,
		"detail_type": evt.DetailType,
		"bus_name":    evt.BusName,
		"detail":      json.RawMessage(evt.Detail),
	}).Info("Event observed")
	return nil
}

// Broadcaster is the subset of the WebSocket hub the feed target needs.
type Broadcaster interface {
	Broadcast(message []byte)
}

// FeedTarget pushes events onto the live WebSocket feed.
type FeedTarget struct {
	name string
	hub  Broadcaster
}

// NewFeedTarget creates a target broadcasting onto the given hub.
func NewFeedTarget(name string, hub Broadcaster) *FeedTarget {
	return &FeedTarget{name: name, hub: hub}
}

func (t *FeedTarget) Name() string { return t.name }

func (t *FeedTarget) Deliver(_ context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}
	t.hub.Broadcast(payload)
	return nil
}
