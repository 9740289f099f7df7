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
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/compliance"
	"github.com/telekom/phi-audit/pkg/config"
	"github.com/telekom/phi-audit/pkg/enrich"
	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/fallback"
)

const openTimeout = 30 * time.Second

// ReportGenerator answers compliance report queries.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, req compliance.ReportRequest) (*compliance.Report, error)
}

type serviceOptions struct {
	sink       Sink
	backend    fallback.Backend
	enc        envelope.Encryptor
	signer     envelope.Signer
	geo        enrich.GeoLookup
	enricher   Enricher
	clock      Clock
	classifier *Classifier
	reports    ReportGenerator
}

// Option overrides a collaborator NewService would otherwise build from
// configuration.
type Option func(*serviceOptions)

// WithSink uses sink instead of the configured one. It is not wrapped in a
// circuit breaker.
func WithSink(sink Sink) Option {
	return func(o *serviceOptions) { o.sink = sink }
}

// WithFallbackBackend persists fallback entries to backend.
func WithFallbackBackend(backend fallback.Backend) Option {
	return func(o *serviceOptions) { o.backend = backend }
}

// WithEncryptor sets the field encryptor.
func WithEncryptor(enc envelope.Encryptor) Option {
	return func(o *serviceOptions) { o.enc = enc }
}

// WithSigner sets the payload signer.
func WithSigner(signer envelope.Signer) Option {
	return func(o *serviceOptions) { o.signer = signer }
}

// WithGeoLookup sets the geo lookup used when enrichment is enabled.
func WithGeoLookup(geo enrich.GeoLookup) Option {
	return func(o *serviceOptions) { o.geo = geo }
}

// WithEnricher replaces enrichment entirely.
func WithEnricher(enricher Enricher) Option {
	return func(o *serviceOptions) { o.enricher = enricher }
}

// WithClock sets the clock used for event timestamps.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) { o.clock = clock }
}

// WithClassifier replaces the default rule table.
func WithClassifier(c *Classifier) Option {
	return func(o *serviceOptions) { o.classifier = c }
}

// WithReportClient sets the compliance report backend.
func WithReportClient(r ReportGenerator) Option {
	return func(o *serviceOptions) { o.reports = r }
}

// ServiceStats is a point-in-time view of the whole service.
type ServiceStats struct {
	Sink     string         `json:"sink"`
	Circuit  string         `json:"circuit,omitempty"`
	Counters *SinkCounters  `json:"counters,omitempty"`
	Pipeline PipelineStats  `json:"pipeline"`
	Fallback fallback.Stats `json:"fallback"`
}

// Service owns the audit pipeline. Business code records events through the
// embedded Recorder; there is no package-level instance.
type Service struct {
	*Recorder

	pipeline *Pipeline
	store    *fallback.Store
	sink     Sink
	reports  ReportGenerator
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewService builds the sink, fallback store, keys, enricher and report
// client from cfg. Options replace individual collaborators.
func NewService(cfg config.Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	cfg.Defaults()
	o := &serviceOptions{}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.Named("audit")

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	if o.enc == nil || o.signer == nil {
		key, err := loadMasterKey(cfg.Crypto)
		if err != nil {
			return nil, err
		}
		if o.enc == nil {
			enc, err := key.Encryptor()
			if err != nil {
				return nil, fmt.Errorf("failed to create encryptor: %w", err)
			}
			o.enc = enc
		}
		if o.signer == nil {
			signer, err := key.Signer(cfg.Crypto.Signer)
			if err != nil {
				return nil, fmt.Errorf("failed to create signer: %w", err)
			}
			o.signer = signer
		}
	}

	sink := o.sink
	if sink == nil {
		var err error
		if sink, err = BuildSink(cfg.Sink, log); err != nil {
			return nil, err
		}
	}

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = OpenFallbackBackend(ctx, cfg.Fallback); err != nil {
			_ = sink.Close()
			return nil, err
		}
	}
	store, err := fallback.Open(ctx, backend, cfg.Fallback.Capacity, log)
	if err != nil {
		_ = sink.Close()
		_ = backend.Close()
		return nil, err
	}

	enricher := o.enricher
	if enricher == nil && cfg.Enrichment.Enabled {
		geo := o.geo
		if geo == nil && cfg.Enrichment.GeoURL != "" {
			geo = enrich.NewHTTPGeoLookup(cfg.Enrichment.GeoURL, config.Duration(cfg.Enrichment.Timeout, enrich.DefaultTimeout))
		}
		enricher = NewLookupEnricher(enrich.NewService(geo, enrich.Config{
			Timeout:   config.Duration(cfg.Enrichment.Timeout, enrich.DefaultTimeout),
			RateLimit: cfg.Enrichment.RateLimit,
			Burst:     cfg.Enrichment.Burst,
			CacheTTL:  config.Duration(cfg.Enrichment.CacheTTL, enrich.DefaultCacheTTL),
		}, log))
	}

	reports := o.reports
	if reports == nil && cfg.Compliance.URL != "" {
		client, err := NewReportClient(cfg.Compliance, log)
		if err != nil {
			_ = sink.Close()
			_ = store.Close()
			return nil, err
		}
		reports = client
	}

	pipeline := NewPipeline(PipelineConfig{
		BatchSize:       cfg.Pipeline.BatchSize,
		FlushInterval:   config.Duration(cfg.Pipeline.FlushInterval, DefaultFlushInterval),
		Retry:           RetryPolicyFromConfig(cfg.Pipeline),
		SubmitTimeout:   config.Duration(cfg.Pipeline.SubmitTimeout, defaultSubmitTimeout),
		IntakeQueueSize: cfg.Pipeline.IntakeQueueSize,
		EnrichWorkers:   cfg.Pipeline.EnrichWorkers,
	}, sink, o.enc, o.signer, store, enricher, log)

	return &Service{
		Recorder: NewRecorder(pipeline, o.classifier, o.clock, log),
		pipeline: pipeline,
		store:    store,
		sink:     sink,
		reports:  reports,
		logger:   log,
	}, nil
}

// BuildSink creates the sink named by cfg.Type, wrapped in a circuit breaker
// when enabled.
func BuildSink(cfg config.Sink, logger *zap.Logger) (Sink, error) {
	var sink Sink
	switch cfg.Type {
	case "http", "":
		var oauth *config.OAuth2
		if cfg.HTTP.OAuth2.Enabled() {
			o := cfg.HTTP.OAuth2
			oauth = &o
		}
		s, err := NewHTTPSink(HTTPSinkConfig{
			Name:     cfg.Name,
			URL:      cfg.HTTP.URL,
			BatchURL: cfg.HTTP.BatchURL,
			Headers:  cfg.HTTP.Headers,
			Timeout:  config.Duration(cfg.HTTP.Timeout, 5*time.Second),
			OAuth2:   oauth,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create http sink: %w", err)
		}
		sink = s
	case "kafka":
		kcfg, err := KafkaSinkConfigFromConfig(cfg.Name, cfg.Kafka)
		if err != nil {
			return nil, err
		}
		s, err := NewKafkaSink(kcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka sink: %w", err)
		}
		sink = s
	case "log":
		sink = NewLogSink(logger)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}

	if cfg.CircuitBreaker.Enabled {
		sink = NewBreakerSink(sink, BreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			OpenTimeout:      config.Duration(cfg.CircuitBreaker.OpenTimeout, DefaultBreakerConfig().OpenTimeout),
		}, logger)
	}
	return sink, nil
}

// OpenFallbackBackend opens the persistence backend named by cfg.Backend.
func OpenFallbackBackend(ctx context.Context, cfg config.Fallback) (fallback.Backend, error) {
	switch cfg.Backend {
	case "memory", "":
		return fallback.NewMemoryBackend(), nil
	case "sqlite":
		b, err := fallback.NewSQLiteBackend(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite fallback: %w", err)
		}
		return b, nil
	case "redis":
		b, err := fallback.OpenRedisBackend(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis fallback: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown fallback backend %q", cfg.Backend)
	}
}

// NewReportClient creates the compliance report client for cfg.
func NewReportClient(cfg config.Compliance, logger *zap.Logger) (*compliance.Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoReportClient
	}
	opts := []compliance.Option{
		compliance.WithTimeout(config.Duration(cfg.Timeout, compliance.DefaultTimeout)),
		compliance.WithLogger(logger),
	}
	if cfg.OAuth2.Enabled() {
		opts = append(opts, compliance.WithOAuth2(cfg.OAuth2))
	}
	client, err := compliance.New(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create report client: %w", err)
	}
	return client, nil
}

func loadMasterKey(cfg config.Crypto) (envelope.MasterKey, error) {
	switch cfg.KeySource {
	case "env", "":
		return envelope.LoadFromEnv(cfg.KeyID, cfg.KeyEnv)
	case "file":
		return envelope.LoadFromFile(cfg.KeyID, cfg.KeyFile)
	case "keyring":
		return envelope.LoadFromKeyring(cfg.KeyID, cfg.KeyringService, cfg.KeyringUser)
	default:
		return envelope.MasterKey{}, fmt.Errorf("unknown key source %q", cfg.KeySource)
	}
}

// Start launches the pipeline workers. Events recorded before Start wait in
// the intake queue.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.pipeline.Start()
}

// Stop drains the pipeline, then closes the sink and the fallback store.
// Events recorded before a Start that never came are parked in fallback.
// Recording after Stop is a counted no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	var errs []error
	if err := s.pipeline.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close fallback store: %w", err))
	}
	s.logger.Info("audit service stopped")
	return errors.Join(errs...)
}

func (s *Service) running() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServiceStopped
	}
	return nil
}

// Flush sends everything currently batched and waits for the result.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.running(); err != nil {
		return err
	}
	return s.pipeline.Flush(ctx)
}

// GenerateReport delegates to the compliance report client. Errors are
// returned unchanged.
func (s *Service) GenerateReport(ctx context.Context, req compliance.ReportRequest) (*compliance.Report, error) {
	if s.reports == nil {
		return nil, ErrNoReportClient
	}
	return s.reports.GenerateReport(ctx, req)
}

// ReplayFallback re-submits every entry in the fallback store and removes
// those the sink accepts.
func (s *Service) ReplayFallback(ctx context.Context) (ReplayResult, error) {
	if err := s.running(); err != nil {
		return ReplayResult{}, err
	}
	return s.pipeline.ReplayFallback(ctx)
}

// Fallback exposes the fallback store for inspection.
func (s *Service) Fallback() *fallback.Store {
	return s.store
}

// Stats returns a snapshot of pipeline, sink and fallback state.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{
		Sink:     s.sink.Name(),
		Pipeline: s.pipeline.Stats(),
		Fallback: s.store.Stats(),
	}
	if bs, ok := s.sink.(*BreakerSink); ok {
		stats.Circuit = bs.Breaker().State().String()
	}
	if c, ok := s.sink.(counting); ok {
		counters := c.Counters()
		stats.Counters = &counters
	}
	return stats
}
