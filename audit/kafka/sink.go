// Package kafka publishes engine audit events to a Kafka topic with
// franz-go.
//
// Events are encoded as the same JSON objects JSONWriterSink writes, keyed
// by user id when known and by the masked e-mail otherwise, so events for
// one reader land on one partition. Produce is asynchronous; delivery
// failures are logged and counted, never returned to the engine.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/bullishbrief/briefauth"
)

var ErrNoBrokers = errors.New("kafka: no seed brokers")

// producer is the subset of *kgo.Client the sink uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Sink is a briefauth.AuditSink backed by a Kafka producer.
type Sink struct {
	producer producer
	topic    string
	logger   *zap.Logger
	produced atomic.Uint64
	failed   atomic.Uint64
}

var _ briefauth.AuditSink = (*Sink)(nil)

// NewSink connects a franz-go client for cfg.
func NewSink(cfg Config, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return newSink(client, cfg.Topic, logger), nil
}

func newSink(p producer, topic string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{producer: p, topic: topic, logger: logger}
}

// Emit encodes event and hands it to the producer.
func (s *Sink) Emit(ctx context.Context, event briefauth.AuditEvent) {
	if s == nil || s.producer == nil {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("audit event encode failed", zap.Error(err))
		return
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(recordKey(event)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	s.producer.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			s.failed.Add(1)
			s.logger.Warn("audit event delivery failed",
				zap.String("event_type", event.EventType),
				zap.Error(err))
			return
		}
		s.produced.Add(1)
	})
}

// Close flushes buffered records and closes the client.
func (s *Sink) Close(ctx context.Context) error {
	if s == nil || s.producer == nil {
		return nil
	}
	err := s.producer.Flush(ctx)
	s.producer.Close()
	return err
}

func (s *Sink) Produced() uint64 { return s.produced.Load() }
func (s *Sink) Failed() uint64   { return s.failed.Load() }

func recordKey(event briefauth.AuditEvent) string {
	if event.UserID != "" {
		return event.UserID
	}
	return event.Email
}
