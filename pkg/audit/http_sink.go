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
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/config"
	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/metrics"
	"github.com/telekom/phi-audit/pkg/version"
)

// Headers set on every submission.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderSignature      = "X-Audit-Signature"
	HeaderSignatureAlg   = "X-Audit-Signature-Alg"
	HeaderKeyID          = "X-Audit-Key-Id"
	HeaderBatchSize      = "X-Batch-Size"
	HeaderBatchID        = "X-Batch-Id"
)

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	Name string
	URL  string
	// BatchURL is an optional separate endpoint for batches (e.g. /events/batch).
	BatchURL string
	Headers  map[string]string
	Timeout  time.Duration
	// OAuth2 enables client-credentials authentication when set.
	OAuth2 *config.OAuth2
	// HTTPClient overrides the underlying transport, mainly for tests.
	HTTPClient *http.Client
}

// HTTPSink posts canonical envelopes to the ingestion endpoint.
// The request body is exactly the signed bytes.
type HTTPSink struct {
	name     string
	url      string
	batchURL string
	client   *resty.Client
	logger   *zap.Logger

	eventsWritten  atomic.Int64
	eventsFailed   atomic.Int64
	batchesWritten atomic.Int64
}

// NewHTTPSink creates a new HTTPSink.
func NewHTTPSink(cfg HTTPSinkConfig, logger *zap.Logger) (*HTTPSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("http sink url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	batchURL := cfg.BatchURL
	if batchURL == "" {
		batchURL = cfg.URL
	}
	name := cfg.Name
	if name == "" {
		name = "http"
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.OAuth2 != nil {
		hc = cfg.OAuth2.HTTPClient(hc)
	}
	client := resty.NewWithClient(hc).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent()).
		SetHeaders(cfg.Headers)

	sink := &HTTPSink{
		name:     name,
		url:      cfg.URL,
		batchURL: batchURL,
		client:   client,
		logger:   logger.Named("http-sink"),
	}
	metrics.AuditSinkConnected.WithLabelValues(name).Set(1)

	sink.logger.Info("HTTP audit sink created",
		zap.String("name", name),
		zap.String("url", cfg.URL),
		zap.String("batchURL", batchURL),
		zap.Duration("timeout", timeout),
		zap.Bool("oauth2", cfg.OAuth2 != nil))
	return sink, nil
}

// SubmitEvent posts one envelope. The event id doubles as idempotency key.
func (s *HTTPSink) SubmitEvent(ctx context.Context, env *Envelope, sig envelope.Signature) error {
	body, err := env.Canonical()
	if err != nil {
		s.eventsFailed.Add(1)
		return &DeliveryError{Sink: s.name, Kind: KindPermanent, Err: fmt.Errorf("failed to marshal envelope: %w", err)}
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader(HeaderIdempotencyKey, env.ID).
		SetBody(body)
	setSignatureHeaders(req, sig)

	if err := s.post(req, s.url); err != nil {
		s.eventsFailed.Add(1)
		s.logger.Debug("audit event submission failed",
			zap.String("event_id", env.ID),
			zap.String("event_type", string(env.Type)),
			zap.Error(err))
		return err
	}
	s.eventsWritten.Add(1)
	return nil
}

// SubmitBatch posts the canonical JSON array of envs.
func (s *HTTPSink) SubmitBatch(ctx context.Context, envs []*Envelope, sig envelope.Signature) error {
	if len(envs) == 0 {
		return nil
	}
	body, err := CanonicalBatch(envs)
	if err != nil {
		s.eventsFailed.Add(int64(len(envs)))
		return &DeliveryError{Sink: s.name, Kind: KindPermanent, Err: fmt.Errorf("failed to marshal batch: %w", err)}
	}

	batchID := uuid.NewString()
	req := s.client.R().
		SetContext(ctx).
		SetHeader(HeaderIdempotencyKey, batchID).
		SetHeader(HeaderBatchID, batchID).
		SetHeader(HeaderBatchSize, strconv.Itoa(len(envs))).
		SetBody(body)
	setSignatureHeaders(req, sig)

	if err := s.post(req, s.batchURL); err != nil {
		s.eventsFailed.Add(int64(len(envs)))
		s.logger.Debug("audit batch submission failed",
			zap.String("batch_id", batchID),
			zap.Int("batch_size", len(envs)),
			zap.Error(err))
		return err
	}
	s.eventsWritten.Add(int64(len(envs)))
	s.batchesWritten.Add(1)
	return nil
}

func (s *HTTPSink) post(req *resty.Request, url string) error {
	start := time.Now()
	resp, err := req.Post(url)
	metrics.AuditSinkLatency.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)
		return &DeliveryError{Sink: s.name, Kind: KindTransient, Err: err}
	}
	metrics.AuditSinkConnected.WithLabelValues(s.name).Set(1)
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		if msg == "" {
			msg = resp.Status()
		}
		return &DeliveryError{
			Sink:       s.name,
			Kind:       KindForStatus(resp.StatusCode()),
			StatusCode: resp.StatusCode(),
			Err:        errors.New(msg),
		}
	}
	return nil
}

func setSignatureHeaders(req *resty.Request, sig envelope.Signature) {
	req.SetHeader(HeaderSignature, base64.StdEncoding.EncodeToString(sig.Value)).
		SetHeader(HeaderSignatureAlg, sig.Algorithm).
		SetHeader(HeaderKeyID, sig.KeyID)
}

// Counters returns the sink's delivery totals.
func (s *HTTPSink) Counters() SinkCounters {
	return SinkCounters{
		Written: s.eventsWritten.Load(),
		Failed:  s.eventsFailed.Load(),
		Batches: s.batchesWritten.Load(),
	}
}

// Close is a no-op for HTTPSink.
func (s *HTTPSink) Close() error {
	s.logger.Info("closing HTTP audit sink",
		zap.String("name", s.name),
		zap.Int64("events_written", s.eventsWritten.Load()),
		zap.Int64("events_failed", s.eventsFailed.Load()),
		zap.Int64("batches_written", s.batchesWritten.Load()))
	return nil
}

// Name returns the sink identifier.
func (s *HTTPSink) Name() string {
	return s.name
}
