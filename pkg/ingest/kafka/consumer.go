// Package kafka feeds signals from a Kafka topic into the compliance
// service.
//
// Each message value is one JSON-encoded signal. The message key, when the
// signal omits vendorId, names the vendor; producers key by vendor so one
// vendor's signals stay ordered on one partition. W3C trace context in the
// message headers is continued.
//
// Offsets are committed after a message is handled, whatever the outcome:
// malformed messages and rejected signals are logged and skipped so one bad
// message never stalls its partition. Delivery is at least once.
package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/telemetry/logging"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

const (
	tracerName = "mercator-hq/warden/pkg/ingest/kafka"

	// SignalSource labels signals consumed here in metrics.
	SignalSource = "kafka"

	// DefaultFetchBackoff is the pause after a failed fetch.
	DefaultFetchBackoff = time.Second
)

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Ingester records a signal and evaluates its vendor.
type Ingester interface {
	IngestSignal(ctx context.Context, sig facts.Signal) (*service.IngestResult, error)
}

// Recorder counts consumed signals by outcome.
type Recorder interface {
	RecordSignal(source, outcome string)
}

// NewReader creates a consumer-group reader from configuration. Blank
// broker entries are ignored.
func NewReader(cfg *config.KafkaConfig) (*kafkago.Reader, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	}), nil
}

// Consumer reads signals from Kafka and ingests them.
type Consumer struct {
	reader       Reader
	ingester     Ingester
	recorder     Recorder
	logger       *slog.Logger
	fetchBackoff time.Duration
	running      atomic.Bool
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithRecorder counts consumed signals on r.
func WithRecorder(r Recorder) Option {
	return func(c *Consumer) { c.recorder = r }
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) Option {
	return func(c *Consumer) { c.fetchBackoff = d }
}

// NewConsumer creates a consumer.
func NewConsumer(reader Reader, ingester Ingester, logger *slog.Logger, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		reader:       reader,
		ingester:     ingester,
		logger:       logger.With("component", "ingest.kafka"),
		fetchBackoff: DefaultFetchBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("consumer is already running")
	}
	defer c.running.Store(false)

	c.logger.Info("kafka consumer started")
	defer c.logger.Info("kafka consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err, "retry_in", c.fetchBackoff.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.fetchBackoff):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The message will be redelivered; ingestion is at least once.
			c.logger.Error("failed to commit offset",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}
	}
}

// IsRunning reports whether Run is active.
func (c *Consumer) IsRunning() bool {
	return c.running.Load()
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	ctx = tracing.ExtractFromMap(ctx, headerMap(msg.Headers))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	logger := c.logger.With("partition", msg.Partition, "offset", msg.Offset)

	sig, err := decodeSignal(msg)
	if err != nil {
		logger.Warn("skipping malformed message", "error", err)
		tracing.SetStatus(span, err)
		c.record("invalid")
		return
	}
	span.SetAttributes(tracing.AttrVendorID.String(sig.VendorID), tracing.AttrEventType.String(sig.EventType))

	ctx = logging.WithVendor(ctx, sig.VendorID)
	result, err := c.ingester.IngestSignal(ctx, sig)
	tracing.SetStatus(span, err)
	if err != nil {
		outcome := "failed"
		if faults.IsValidation(err) {
			outcome = "invalid"
		}
		logger.Error("failed to ingest signal",
			"error", err,
			"vendor_id", sig.VendorID,
			"event_type", sig.EventType,
			"outcome", outcome,
		)
		c.record(outcome)
		return
	}

	c.record("recorded")
	logger.Debug("signal consumed",
		"event_id", result.Event.ID,
		"vendor_id", sig.VendorID,
		"matched", len(result.Evaluation.Matched),
	)
}

func (c *Consumer) record(outcome string) {
	if c.recorder != nil {
		c.recorder.RecordSignal(SignalSource, outcome)
	}
}

func decodeSignal(msg kafkago.Message) (facts.Signal, error) {
	var sig facts.Signal
	if len(msg.Value) == 0 {
		return sig, errors.New("empty message")
	}
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sig); err != nil {
		return sig, fmt.Errorf("invalid signal JSON: %w", err)
	}
	if sig.VendorID == "" && len(msg.Key) > 0 {
		sig.VendorID = string(msg.Key)
	}
	return sig, nil
}

func headerMap(headers []kafkago.Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Key)] = string(h.Value)
	}
	return m
}
