package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the JetStream ingest consumer.
type Config struct {
	StreamName    string
	ConsumerName  string
	Subject       string // messages arrive on Subject.submit and Subject.batch
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

func DefaultConfig() Config {
	return Config{
		StreamName:    "ALN_INGEST",
		ConsumerName:  "aln-orchestrator",
		Subject:       "aln.ingest",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
	}
}

// Consumer pulls scans from JetStream and hands them to a Processor.
type Consumer struct {
	js        jetstream.JetStream
	consumer  jetstream.Consumer
	processor *Processor
	config    Config
}

// NewConsumer ensures the ingest stream and durable consumer exist.
func NewConsumer(ctx context.Context, nc *nats.Conn, processor *Processor, config Config) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{js: js, processor: processor, config: config}
	if err := c.ensureConsumer(ctx); err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        c.config.StreamName,
		Description: "Scans submitted by devices over NATS",
		Subjects:    []string{c.config.Subject + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          c.config.ConsumerName,
		Durable:       c.config.ConsumerName,
		Description:   "Session manager ingest consumer",
		FilterSubject: c.config.Subject + ".>",
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.config.MaxDeliver,
		AckWait:       c.config.AckWait,
		MaxAckPending: c.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("stream", c.config.StreamName).
		Str("subject", c.config.Subject).
		Msg("JetStream ingest consumer ready")
	c.consumer = consumer
	return nil
}

// Start consumes until ctx is cancelled. Messages are processed one at a
// time so scans from one device keep their publish order.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("stream", c.config.StreamName).
		Msg("starting JetStream ingest consumer")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ingest consumer shutting down")
			return nil
		case msg := <-messageCh:
			c.settle(msg, c.processor.Handle(ctx, msg.Subject(), msg.Data()))
		}
	}
}

func (c *Consumer) settle(msg jetstream.Msg, outcome Outcome) {
	var err error
	switch outcome {
	case OutcomeAck:
		err = msg.Ack()
	case OutcomeTerm:
		err = msg.Term()
	default:
		err = msg.Nak()
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("subject", msg.Subject()).
			Stringer("outcome", outcome).
			Msg("failed to settle message")
	}
}
