package lake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/makit/aws-serverless-twitter-bot/pkg/database"
	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/kafka"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

// Metrics holds the Prometheus metrics for the lake writer.
type Metrics struct {
	Events         *prometheus.CounterVec
	InsertDuration *prometheus.HistogramVec
}

type clickhouseBatch interface {
	Append(v ...interface{}) error
	Send() error
}

type clickhouseConn interface {
	PrepareBatch(ctx context.Context, query string) (clickhouseBatch, error)
}

// nativeConn adapts the ClickHouse driver connection to the narrow
// interface the writer needs.
type nativeConn struct {
	conn database.ClickHouseNativeConn
}

func (n nativeConn) PrepareBatch(ctx context.Context, query string) (clickhouseBatch, error) {
	return n.conn.PrepareBatch(ctx, query)
}

// dlqProducer sends undecodable records to the dead letter topic.
type dlqProducer interface {
	ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error
}

// Writer consumes the mirrored event stream from Kafka and lands every
// envelope in the ClickHouse event lake. Envelopes that do not decode are
// routed to the dead letter topic and dropped rather than blocking the
// partition; insert failures are returned so the consumer retries the
// record.
type Writer struct {
	clickhouse clickhouseConn
	logger     logging.Logger
	metrics    *Metrics
	dlq        dlqProducer
	dlqTopic   string
}

// Option configures the writer.
type Option func(*Writer)

// WithDLQ routes undecodable envelopes to the given dead letter topic.
func WithDLQ(producer dlqProducer, topic string) Option {
	return func(w *Writer) {
		w.dlq = producer
		w.dlqTopic = topic
	}
}

// NewWriter creates a lake writer over a native ClickHouse connection.
func NewWriter(conn database.ClickHouseNativeConn, logger logging.Logger, metrics *Metrics, opts ...Option) *Writer {
	w := &Writer{
		clickhouse: nativeConn{conn: conn},
		logger:     logger,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnsureSchema creates the lake table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context, conn database.ClickHouseNativeConn) error {
	return conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			timestamp   DateTime64(3),
			event_id    String,
			source      String,
			detail_type String,
			bus_name    String,
			detail      String
		) ENGINE = MergeTree()
		ORDER BY (detail_type, timestamp)`)
}

// HandleMessage is the Kafka handler for the mirrored event topic.
func (w *Writer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	start := time.Now()

	var evt events.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		w.logger.WithError(err).WithFields(logging.Fields{
			"topic": msg.Topic,
			"key":   string(msg.Key),
		}).Warn("Dropping undecodable event envelope")
		w.deadLetter(msg, err)
		if w.metrics != nil {
			w.metrics.Events.WithLabelValues("unknown", "dropped").Inc()
		}
		return nil
	}

	detailType := string(evt.DetailType)
	if err := w.insert(ctx, evt); err != nil {
		w.logger.WithError(err).WithFields(logging.Fields{
			"event_id":    evt.ID,
			"detail_type": detailType,
		}).Error("Failed to insert event into ClickHouse")
		if w.metrics != nil {
			w.metrics.Events.WithLabelValues(detailType, "error").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.Events.WithLabelValues(detailType, "inserted").Inc()
		w.metrics.InsertDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	}
	return nil
}

// deadLetter forwards a failed record to the dead letter topic. DLQ
// failures are logged and swallowed; the record is dropped either way.
func (w *Writer) deadLetter(msg kafka.Message, cause error) {
	if w.dlq == nil {
		return
	}

	payload, err := kafka.EncodeDLQMessage(msg, cause, "spyglass")
	if err != nil {
		w.logger.WithError(err).Error("Failed to encode DLQ payload")
		return
	}

	if err := w.dlq.ProduceMessage(w.dlqTopic, msg.Key, payload, nil); err != nil {
		w.logger.WithError(err).WithField("topic", w.dlqTopic).Error("Failed to produce DLQ message")
	}
}

func (w *Writer) insert(ctx context.Context, evt events.Event) error {
	batch, err := w.clickhouse.PrepareBatch(ctx, `
		INSERT INTO events (
			timestamp, event_id, source, detail_type, bus_name, detail
		)`)
	if err != nil {
		return err
	}

	if err := batch.Append(
		evt.Timestamp,
		evt.ID,
		evt.Source,
		string(evt.DetailType),
		evt.BusName,
		string(evt.Detail),
	); err != nil {
		return err
	}

	return batch.Send()
}
