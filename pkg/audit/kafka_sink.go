/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/config"
	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/metrics"
)

// Kafka header names. Batch headers repeat on every message of a batch so
// consumers can regroup by batch-id and verify the shared signature.
const (
	KafkaHeaderEventType      = "event-type"
	KafkaHeaderSensitivity    = "sensitivity"
	KafkaHeaderTimestamp      = "timestamp"
	KafkaHeaderKeyID          = "key-id"
	KafkaHeaderSignature      = "signature"
	KafkaHeaderBatchID        = "batch-id"
	KafkaHeaderBatchSize      = "batch-size"
	KafkaHeaderBatchIndex     = "batch-index"
	KafkaHeaderBatchSignature = "batch-signature"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	Name    string
	Brokers []string
	Topic   string

	// CACert is a PEM bundle used to verify brokers. TLS is enabled when
	// TLSEnabled is set or a bundle is given.
	TLSEnabled bool
	CACert     []byte

	// SASLMechanism is one of PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string

	// WriteTimeout defaults to 10s.
	WriteTimeout time.Duration
	// RequiredAcks defaults to all in-sync replicas.
	RequiredAcks int
	// CompressionCodec is one of none, gzip, snappy, lz4 or zstd. Default snappy.
	CompressionCodec string
}

// KafkaSinkConfigFromConfig translates the file configuration, reading the
// CA bundle from disk when one is configured.
func KafkaSinkConfigFromConfig(name string, cfg config.KafkaSink) (KafkaSinkConfig, error) {
	out := KafkaSinkConfig{
		Name:             name,
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		TLSEnabled:       cfg.TLSEnabled,
		SASLMechanism:    cfg.SASLMechanism,
		SASLUsername:     cfg.SASLUsername,
		SASLPassword:     cfg.SASLPassword,
		WriteTimeout:     config.Duration(cfg.WriteTimeout, 10*time.Second),
		RequiredAcks:     cfg.RequiredAcks,
		CompressionCodec: cfg.CompressionCodec,
	}
	if cfg.TLSEnabled && cfg.TLSCAFile != "" {
		ca, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return out, fmt.Errorf("failed to read Kafka CA file: %w", err)
		}
		out.CACert = ca
	}
	return out, nil
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes canonical envelopes to a topic, keyed by event id so
// that redeliveries of one event land on the same partition.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	written atomic.Int64
	failed  atomic.Int64
	batches atomic.Int64
}

// NewKafkaSink creates a KafkaSink with a synchronous writer. The writer
// makes a single attempt per call; retries belong to the pipeline.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	transport, err := kafkaTransport(cfg)
	if err != nil {
		return nil, err
	}
	compression, err := kafkaCompression(cfg.CompressionCodec)
	if err != nil {
		return nil, err
	}

	acks := kafka.RequireAll
	if cfg.RequiredAcks > 0 {
		acks = kafka.RequiredAcks(cfg.RequiredAcks)
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: timeout,
		RequiredAcks: acks,
		MaxAttempts:  1,
		Compression:  compression,
		Transport:    transport,
	}

	sink := newKafkaSink(cfg.Name, writer, logger)
	sink.logger.Info("Kafka audit sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", transport.TLS != nil),
		zap.String("sasl", cfg.SASLMechanism))
	return sink, nil
}

func newKafkaSink(name string, writer messageWriter, logger *zap.Logger) *KafkaSink {
	if name == "" {
		name = "kafka"
	}
	metrics.AuditSinkConnected.WithLabelValues(name).Set(1)
	return &KafkaSink{
		name:   name,
		writer: writer,
		logger: logger.Named("kafka-sink").With(zap.String("sink", name)),
	}
}

func kafkaTransport(cfg KafkaSinkConfig) (*kafka.Transport, error) {
	transport := &kafka.Transport{}
	if cfg.TLSEnabled || len(cfg.CACert) > 0 {
		tc := &tls.Config{MinVersion: tls.VersionTLS12}
		if len(cfg.CACert) > 0 {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(cfg.CACert) {
				return nil, errors.New("failed to parse Kafka CA certificate")
			}
			tc.RootCAs = pool
		}
		transport.TLS = tc
	}
	if cfg.SASLMechanism != "" {
		mech, err := saslMechanism(cfg.SASLMechanism, cfg.SASLUsername, cfg.SASLPassword)
		if err != nil {
			return nil, err
		}
		transport.SASL = mech
	}
	return transport, nil
}

func saslMechanism(name, user, pass string) (sasl.Mechanism, error) {
	switch name {
	case "PLAIN":
		return plain.Mechanism{Username: user, Password: pass}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, user, pass)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, user, pass)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", name)
	}
}

func kafkaCompression(codec string) (kafka.Compression, error) {
	switch codec {
	case "", "snappy":
		return kafka.Snappy, nil
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown Kafka compression codec %q", codec)
	}
}

// kafkaFailure classifies a write error and names its cause for logs.
// Broker rejections that cannot heal on retry are permanent.
func kafkaFailure(err error) (ErrorKind, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient, "timeout"
	case errors.Is(err, context.Canceled):
		return KindTransient, "cancelled"
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e == nil {
				continue
			}
			if kind, cause := kafkaFailure(e); kind == KindPermanent {
				return kind, cause
			}
		}
		return KindTransient, "partial"
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.SASLAuthenticationFailed, kafka.TopicAuthorizationFailed,
			kafka.ClusterAuthorizationFailed, kafka.UnsupportedSASLMechanism:
			return KindPermanent, "auth"
		case kafka.UnknownTopicOrPartition, kafka.InvalidTopic:
			return KindPermanent, "topic"
		case kafka.MessageSizeTooLarge:
			return KindPermanent, "message"
		}
		if kerr.Temporary() {
			return KindTransient, "broker"
		}
		return KindPermanent, "broker"
	}

	var certErr *tls.CertificateVerificationError
	var unknownCA x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &unknownCA) {
		return KindPermanent, "tls"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTransient, "timeout"
		}
		return KindTransient, "network"
	}
	return KindTransient, "other"
}

func envelopeHeaders(env *Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: KafkaHeaderEventType, Value: []byte(env.Type)},
		{Key: KafkaHeaderSensitivity, Value: []byte(env.Sensitivity)},
		{Key: KafkaHeaderTimestamp, Value: []byte(env.Timestamp.Format(time.RFC3339Nano))},
		{Key: KafkaHeaderKeyID, Value: []byte(env.KeyID)},
	}
}

func signatureHeaders(prefix string, sig envelope.Signature) []kafka.Header {
	return []kafka.Header{
		{Key: prefix, Value: []byte(base64.StdEncoding.EncodeToString(sig.Value))},
		{Key: prefix + "-alg", Value: []byte(sig.Algorithm)},
		{Key: prefix + "-key-id", Value: []byte(sig.KeyID)},
	}
}

func (s *KafkaSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *KafkaSink) closedError() error {
	return &DeliveryError{Sink: s.name, Kind: KindPermanent, Err: errors.New("kafka sink is closed")}
}

// SubmitEvent writes one envelope with its signature in the message headers.
func (s *KafkaSink) SubmitEvent(ctx context.Context, env *Envelope, sig envelope.Signature) error {
	if s.isClosed() {
		return s.closedError()
	}
	value, err := env.Canonical()
	if err != nil {
		s.failed.Add(1)
		return &DeliveryError{Sink: s.name, Kind: KindPermanent, Err: fmt.Errorf("failed to marshal envelope: %w", err)}
	}

	msg := kafka.Message{
		Key:     []byte(env.ID),
		Value:   value,
		Headers: append(envelopeHeaders(env), signatureHeaders(KafkaHeaderSignature, sig)...),
	}
	if err := s.write(ctx, msg); err != nil {
		s.logger.Warn("failed to publish audit event",
			zap.Error(err),
			zap.String("event_id", env.ID),
			zap.String("event_type", string(env.Type)))
		return err
	}
	return nil
}

// SubmitBatch writes one message per envelope, all sharing a batch id and
// the batch signature.
func (s *KafkaSink) SubmitBatch(ctx context.Context, envs []*Envelope, sig envelope.Signature) error {
	if s.isClosed() {
		return s.closedError()
	}
	if len(envs) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	shared := append([]kafka.Header{
		{Key: KafkaHeaderBatchID, Value: []byte(batchID)},
		{Key: KafkaHeaderBatchSize, Value: []byte(strconv.Itoa(len(envs)))},
	}, signatureHeaders(KafkaHeaderBatchSignature, sig)...)

	msgs := make([]kafka.Message, len(envs))
	for i, env := range envs {
		value, err := env.Canonical()
		if err != nil {
			s.failed.Add(int64(len(envs)))
			return &DeliveryError{Sink: s.name, Kind: KindPermanent, Err: fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)}
		}
		headers := envelopeHeaders(env)
		headers = append(headers, shared...)
		headers = append(headers, kafka.Header{Key: KafkaHeaderBatchIndex, Value: []byte(strconv.Itoa(i))})
		msgs[i] = kafka.Message{Key: []byte(env.ID), Value: value, Headers: headers}
	}

	if err := s.write(ctx, msgs...); err != nil {
		s.logger.Warn("failed to publish audit batch",
			zap.Error(err),
			zap.String("batch_id", batchID),
			zap.Int("batch_size", len(msgs)))
		return err
	}
	s.batches.Add(1)
	return nil
}

func (s *KafkaSink) write(ctx context.Context, msgs ...kafka.Message) error {
	inFlight := metrics.AuditKafkaMessagesInFlight.WithLabelValues(s.name)
	inFlight.Add(float64(len(msgs)))
	defer inFlight.Sub(float64(len(msgs)))

	start := time.Now()
	err := s.writer.WriteMessages(ctx, msgs...)
	metrics.AuditSinkLatency.WithLabelValues(s.name).Observe(time.Since(start).Seconds())

	if err != nil {
		s.failed.Add(int64(len(msgs)))
		kind, cause := kafkaFailure(err)
		if kind == KindTransient {
			metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)
		} else {
			s.logger.Error("Kafka rejected audit write", zap.String("cause", cause), zap.Error(err))
		}
		return &DeliveryError{Sink: s.name, Kind: kind, Err: fmt.Errorf("kafka write failed (%s): %w", cause, err)}
	}

	metrics.AuditSinkConnected.WithLabelValues(s.name).Set(1)
	s.written.Add(int64(len(msgs)))
	return nil
}

// Counters returns the sink's delivery totals.
func (s *KafkaSink) Counters() SinkCounters {
	return SinkCounters{
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
		Batches: s.batches.Load(),
	}
}

// Close flushes and closes the writer. Closing twice is a no-op.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)

	c := s.Counters()
	s.logger.Info("closing Kafka audit sink",
		zap.Int64("messages_written", c.Written),
		zap.Int64("messages_failed", c.Failed),
		zap.Int64("batches_sent", c.Batches))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

// Name returns the sink identifier.
func (s *KafkaSink) Name() string {
	return s.name
}
