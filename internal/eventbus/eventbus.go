// Package eventbus is a best-effort typed publisher for session lifecycle
// events, per spec.md §4.10. No Kafka client exists anywhere in the
// retrieved corpus; this is grounded on the original's kafka_utils.py
// lazy-producer-with-one-reconnect semantics but built on
// github.com/segmentio/kafka-go, a real ecosystem library named (not
// pack-grounded) per SPEC_FULL.md §3.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hpcfleet/cfs/internal/cfsmetrics"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

const produceTimeout = 500 * time.Millisecond

// event is the wire payload published to the topic, per spec.md §6.
type event struct {
	Type string           `json:"type"`
	Data *cfsmodel.Session `json:"data"`
}

// Bus is the EventBus collaborator. The underlying writer is created lazily
// on first publish and torn down/reopened once when a produce fails (a
// timeout or any other write error);
// failures never roll back the preceding store write (spec.md §4.10).
type Bus struct {
	brokers []string
	topic   string
	logger  *slog.Logger

	mu     sync.Mutex
	writer *kafka.Writer
}

// New builds a Bus. No connection is opened until the first Publish call.
func New(brokers []string, topic string, logger *slog.Logger) *Bus {
	return &Bus{brokers: brokers, topic: topic, logger: logger}
}

func (b *Bus) ensureWriter() *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer == nil {
		b.writer = &kafka.Writer{
			Addr:         kafka.TCP(b.brokers...),
			Topic:        b.topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: produceTimeout,
			RequiredAcks: kafka.RequireOne,
		}
	}
	return b.writer
}

func (b *Bus) resetWriter() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer != nil {
		_ = b.writer.Close()
		b.writer = nil
	}
}

// Publish implements sessionfsm.EventPublisher: best-effort, at-most-once
// delivery with one reconnect-and-retry attempt after a failed write.
func (b *Bus) Publish(ctx context.Context, eventType string, session *cfsmodel.Session) {
	payload, err := json.Marshal(event{Type: eventType, Data: session})
	if err != nil {
		b.log("marshal session event failed", err)
		return
	}
	msg := kafka.Message{Key: []byte(session.Name), Value: payload}

	writeCtx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()
	if err := b.ensureWriter().WriteMessages(writeCtx, msg); err != nil {
		b.log("publish failed, reconnecting once", err)
		b.resetWriter()

		retryCtx, cancel2 := context.WithTimeout(ctx, produceTimeout)
		defer cancel2()
		if err := b.ensureWriter().WriteMessages(retryCtx, msg); err != nil {
			b.log("publish failed after reconnect, dropping event", err)
			cfsmetrics.EventBusPublished.WithLabelValues(eventType, "dropped").Inc()
			return
		}
		cfsmetrics.EventBusPublished.WithLabelValues(eventType, "retried").Inc()
		return
	}
	cfsmetrics.EventBusPublished.WithLabelValues(eventType, "ok").Inc()
}

// Ping dials the first configured broker to confirm reachability, used by
// HealthProbe (spec.md §4.11). It does not require an existing writer.
func (b *Bus) Ping(ctx context.Context) error {
	if len(b.brokers) == 0 {
		return nil
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close releases the underlying writer, if any.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer == nil {
		return nil
	}
	err := b.writer.Close()
	b.writer = nil
	return err
}

func (b *Bus) log(msg string, err error) {
	if b.logger != nil {
		b.logger.Warn(msg, "error", err, "topic", b.topic)
	}
}
