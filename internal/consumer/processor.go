// Package consumer reads lead-movement events from Kafka and hands them to a Handler.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"example.com/cadence/internal/outbox"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Message is the decoded representation of a Kafka record.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	Key           string
	EventType     string
	TenantID      string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetry sets how many times a failing message is handled before it is dead-lettered, and
// the base delay of the doubling backoff between attempts.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if baseDelay >= 0 {
			p.baseDelay = baseDelay
		}
	}
}

// WithDeadLetter sets where messages go once their retries are exhausted.
func WithDeadLetter(d DeadLetterer) Option {
	return func(p *Processor) {
		p.deadLetter = d
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     logrus.FieldLogger
	attempts   int
	baseDelay  time.Duration
	deadLetter DeadLetterer
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:    reader,
		handler:   handler,
		logger:    logrus.StandardLogger().WithField("component", "consumer"),
		attempts:  3,
		baseDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
//
// A message that still fails after its retries is handed to the DeadLetterer and committed. If
// there is none, or it fails too, Run returns the error without committing: committing any later
// offset would skip the message for good, so the caller must stop and let the group resume from
// the last committed offset.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.WithError(err).Error("fetch failed")
			continue
		}

		log := p.logger.WithFields(logrus.Fields{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		})

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			log.WithError(decodeErr).Warn("dropping undecodable message")
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				log.WithError(commitErr).Error("commit after decode failure failed")
			}
			continue
		}

		handleErr := p.handleWithRetry(ctx, event)
		if handleErr != nil {
			if errors.Is(handleErr, context.Canceled) {
				return handleErr
			}
			log = log.WithFields(logrus.Fields{
				"event_type": event.EventType,
				"tenant_id":  event.TenantID,
			})
			recordHandlerError(event)
			if err := p.deadLetterMessage(ctx, event, handleErr); err != nil {
				log.WithError(err).Error("handler failed and message could not be dead-lettered, stopping")
				return fmt.Errorf("%s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			log.WithError(handleErr).Warn("handler failed, message dead-lettered")
			recordDeadLettered(event)
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			log.WithError(commitErr).Error("commit failed")
		} else if handleErr == nil {
			recordProcessed(event)
		}
	}
}

func (p *Processor) deadLetterMessage(ctx context.Context, msg Message, cause error) error {
	if p.deadLetter == nil {
		return cause
	}
	if err := p.deadLetter.DeadLetter(ctx, msg, cause); err != nil {
		return errors.Join(cause, fmt.Errorf("dead letter: %w", err))
	}
	return nil
}

func (p *Processor) handleWithRetry(ctx context.Context, msg Message) error {
	var err error
	delay := p.baseDelay
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		if attempt == p.attempts {
			break
		}
		recordRetry(msg)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// decodeMessage accepts Confluent-framed values from the outbox dispatcher as well as raw JSON.
func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) == 0 {
		return Message{}, errors.New("empty payload")
	}

	schemaID, body := outbox.DecodeWireFormat(msg.Value)
	if !json.Valid(body) {
		return Message{}, fmt.Errorf("payload is not valid JSON (%d bytes)", len(body))
	}

	eventType, _ := headerValue(msg, outbox.HeaderEventType)
	tenantID, _ := headerValue(msg, outbox.HeaderTenantID)
	schemaSubject, _ := headerValue(msg, outbox.HeaderSchemaSubject)

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		Key:           string(msg.Key),
		EventType:     string(eventType),
		TenantID:      string(tenantID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      schemaID,
		Payload:       json.RawMessage(append([]byte(nil), body...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
