// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/fallback"
	"github.com/telekom/phi-audit/pkg/metrics"
	"github.com/telekom/phi-audit/pkg/system"
)

// Delivery paths used in metrics and logs.
const (
	pathImmediate = "immediate"
	pathBatch     = "batch"
	pathReplay    = "replay"
)

// Reasons recorded on fallback entries.
const (
	ReasonPending   = "pending"
	ReasonExhausted = "exhausted"
	ReasonShutdown  = "shutdown"
)

const (
	defaultSubmitTimeout   = 10 * time.Second
	defaultIntakeQueueSize = 10000
	defaultEnrichWorkers   = 4
	replayConcurrency      = 4
	stopGracePeriod        = 2 * time.Second
)

// PipelineConfig configures a Pipeline. Zero values take defaults.
type PipelineConfig struct {
	BatchSize       int
	FlushInterval   time.Duration
	Retry           RetryPolicy
	SubmitTimeout   time.Duration
	IntakeQueueSize int
	EnrichWorkers   int
}

// PipelineStats is a point-in-time view of the pipeline.
type PipelineStats struct {
	IntakeLength     int   `json:"intakeLength"`
	QueueLength      int   `json:"queueLength"`
	PendingRetries   int   `json:"pendingRetries"`
	Delivered        int64 `json:"delivered"`
	FailedAttempts   int64 `json:"failedAttempts"`
	Exhausted        int64 `json:"exhausted"`
	Dropped          int64 `json:"dropped"`
	FallbackLen      int   `json:"fallbackLen"`
	FallbackCapacity int   `json:"fallbackCapacity"`
}

// ReplayResult summarises one ReplayFallback run.
type ReplayResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Pipeline moves recorded events through enrichment, sealing, signing and
// delivery. Critical events are written to the fallback store, sent
// immediately on their own goroutine and removed from the store once the
// sink accepts them; everything else is batched.
type Pipeline struct {
	cfg      PipelineConfig
	sink     Sink
	enc      envelope.Encryptor
	signer   envelope.Signer
	store    *fallback.Store
	enricher Enricher
	batcher  *Batcher
	logger   *zap.Logger
	tracer   trace.Tracer

	runCtx    context.Context
	cancelRun context.CancelFunc

	intakeMu sync.RWMutex
	intake   chan *Event
	started  bool
	closed   bool
	workers  sync.WaitGroup

	sends     sync.WaitGroup
	retryMu   sync.Mutex
	retries   map[string]*time.Timer
	retriesOn bool

	delivered atomic.Int64
	failed    atomic.Int64
	exhausted atomic.Int64
	dropped   atomic.Int64
}

// NewPipeline wires a pipeline. enricher may be nil.
func NewPipeline(cfg PipelineConfig, sink Sink, enc envelope.Encryptor, signer envelope.Signer,
	store *fallback.Store, enricher Enricher, logger *zap.Logger) *Pipeline {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.IntakeQueueSize <= 0 {
		cfg.IntakeQueueSize = defaultIntakeQueueSize
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = defaultEnrichWorkers
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	cfg.Retry = cfg.Retry.withDefaults()

	runCtx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:       cfg,
		sink:      sink,
		enc:       enc,
		signer:    signer,
		store:     store,
		enricher:  enricher,
		logger:    logger.Named("audit-pipeline"),
		tracer:    otel.Tracer("phi-audit"),
		runCtx:    runCtx,
		cancelRun: cancel,
		intake:    make(chan *Event, cfg.IntakeQueueSize),
		retries:   make(map[string]*time.Timer),
		retriesOn: true,
	}
	p.batcher = NewBatcher(BatcherConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, p.flushBatch, logger)
	return p
}

// Start launches the intake workers and the batcher. Starting a stopped
// pipeline does nothing.
func (p *Pipeline) Start() {
	p.intakeMu.Lock()
	if p.started || p.closed {
		p.intakeMu.Unlock()
		return
	}
	p.started = true
	p.intakeMu.Unlock()

	p.batcher.Start(p.runCtx)
	for i := 0; i < p.cfg.EnrichWorkers; i++ {
		p.workers.Add(1)
		go p.intakeWorker()
	}
	p.logger.Info("audit pipeline started",
		zap.String("sink", p.sink.Name()),
		zap.Int("enrich_workers", p.cfg.EnrichWorkers),
		zap.Int("batch_size", p.batcher.cfg.BatchSize),
		zap.Duration("flush_interval", p.batcher.cfg.FlushInterval))
}

// Submit hands e to the intake queue without blocking. When the queue is
// full a critical event is dispatched directly without enrichment and a
// non-critical one is dropped. It reports whether the event was accepted.
func (p *Pipeline) Submit(e *Event) bool {
	p.intakeMu.RLock()
	defer p.intakeMu.RUnlock()

	if p.closed {
		p.drop(e, "stopped")
		return false
	}

	select {
	case p.intake <- e:
		return true
	default:
	}

	if !IsCritical(e) {
		metrics.AuditIntakeOverflow.WithLabelValues("dropped").Inc()
		p.drop(e, "intake_full")
		return false
	}

	metrics.AuditIntakeOverflow.WithLabelValues("dispatched").Inc()
	p.logger.Warn("intake queue full, dispatching critical audit event without enrichment",
		eventFields(e)...)
	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		p.process(e)
	}()
	return true
}

func (p *Pipeline) intakeWorker() {
	defer p.workers.Done()
	for e := range p.intake {
		if p.enricher != nil {
			p.enricher.Enrich(p.runCtx, e)
		}
		p.process(e)
	}
}

// seal builds the work unit for e. It returns nil when e was dropped.
func (p *Pipeline) seal(e *Event) *WorkUnit {
	u := newWorkUnit(e, IsCritical(e), p.cfg.Retry.MaxRetries)

	env, err := Seal(e, p.enc)
	if err != nil {
		_ = u.Drop()
		p.dropped.Add(1)
		metrics.AuditEventsDropped.WithLabelValues("encryption").Inc()
		p.logger.Error("failed to seal audit event, dropping it", append(eventFields(e), zap.Error(err))...)
		return nil
	}
	u.env = env
	return u
}

// process seals e and routes it to the immediate or batched path.
func (p *Pipeline) process(e *Event) {
	u := p.seal(e)
	if u == nil {
		return
	}
	if u.critical {
		p.dispatchCritical(u)
		return
	}
	if !p.batcher.Add(u) {
		_ = u.Exhaust()
		p.toFallback(u, ReasonShutdown)
	}
}

// dispatchCritical writes u to fallback and then starts the first attempt.
func (p *Pipeline) dispatchCritical(u *WorkUnit) {
	p.toFallback(u, ReasonPending)

	p.sends.Add(1)
	go p.attempt(u)
}

// attempt performs one immediate delivery attempt. The caller must have
// called p.sends.Add(1).
func (p *Pipeline) attempt(u *WorkUnit) {
	defer p.sends.Done()

	if err := u.Begin(); err != nil {
		p.logger.Error("cannot start delivery attempt", append(unitFields(u), zap.Error(err))...)
		return
	}

	ctx, cancel := context.WithTimeout(p.runCtx, p.cfg.SubmitTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "audit.SubmitEvent", trace.WithAttributes(
		attribute.String("audit.event_id", u.id),
		attribute.String("audit.event_type", string(u.eventType)),
		attribute.Int("audit.attempt", u.Retries()+1),
	))
	defer span.End()

	err := p.submitEvent(ctx, u.env)
	if err == nil {
		_ = u.Succeed()
		p.delivered.Add(1)
		metrics.AuditEventsDelivered.WithLabelValues(pathImmediate).Inc()
		p.logger.Debug("critical audit event delivered", unitFields(u)...)
		p.discardFallback(u)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "submit failed")
	p.recordFailure(pathImmediate, err)

	state, ferr := u.Fail()
	if ferr != nil {
		p.logger.Error("invalid work unit state after failed attempt", append(unitFields(u), zap.Error(ferr))...)
		return
	}
	if state == StateExhausted {
		p.exhaust(u, err)
		return
	}

	delay := p.cfg.Retry.Backoff(u.Retries())
	p.logger.Warn("critical audit event delivery failed, retrying",
		append(unitFields(u),
			zap.String("kind", string(classifyError(err))),
			zap.Int("retry", u.Retries()),
			zap.Duration("backoff", delay),
			zap.Error(err))...)
	p.scheduleRetry(u, delay)
}

func (p *Pipeline) submitEvent(ctx context.Context, env *Envelope) error {
	payload, err := env.Canonical()
	if err != nil {
		return &DeliveryError{Sink: p.sink.Name(), Kind: KindPermanent, Err: fmt.Errorf("failed to encode envelope: %w", err)}
	}
	sig, err := p.signer.Sign(payload)
	if err != nil {
		return &DeliveryError{Sink: p.sink.Name(), Kind: KindPermanent, Err: fmt.Errorf("failed to sign envelope: %w", err)}
	}
	return p.sink.SubmitEvent(ctx, env, sig)
}

func (p *Pipeline) scheduleRetry(u *WorkUnit, delay time.Duration) {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	if !p.retriesOn {
		// Already in fallback from dispatch.
		_ = u.Exhaust()
		p.logger.Info("retry cancelled by shutdown, event remains in fallback", unitFields(u)...)
		return
	}
	if err := u.Requeue(); err != nil {
		p.logger.Error("cannot requeue work unit", append(unitFields(u), zap.Error(err))...)
		return
	}
	metrics.AuditRetries.WithLabelValues(pathImmediate).Inc()

	p.sends.Add(1)
	p.retries[u.id] = time.AfterFunc(delay, func() {
		p.retryMu.Lock()
		delete(p.retries, u.id)
		p.retryMu.Unlock()
		p.attempt(u)
	})
}

// cancelRetries stops pending retry timers. Their events stay in fallback.
func (p *Pipeline) cancelRetries() int {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	p.retriesOn = false
	cancelled := 0
	for id, t := range p.retries {
		if t.Stop() {
			cancelled++
			p.sends.Done()
		}
		delete(p.retries, id)
	}
	return cancelled
}

// flushBatch is the batcher's FlushFunc.
func (p *Pipeline) flushBatch(ctx context.Context, units []*WorkUnit, final bool) {
	envs := make([]*Envelope, 0, len(units))
	for _, u := range units {
		if err := u.Begin(); err != nil {
			p.logger.Error("cannot start batch attempt", append(unitFields(u), zap.Error(err))...)
			continue
		}
		envs = append(envs, u.env)
	}
	if len(envs) == 0 {
		return
	}
	if len(envs) != len(units) {
		kept := units[:0]
		for _, u := range units {
			if state, _ := u.State(); state == StateInFlight {
				kept = append(kept, u)
			}
		}
		units = kept
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "audit.SubmitBatch", trace.WithAttributes(
		attribute.Int("audit.batch_size", len(envs)),
		attribute.Bool("audit.final", final),
	))
	defer span.End()

	err := p.submitBatch(ctx, envs)
	if err == nil {
		for _, u := range units {
			_ = u.Succeed()
		}
		p.delivered.Add(int64(len(units)))
		metrics.AuditEventsDelivered.WithLabelValues(pathBatch).Add(float64(len(units)))
		p.logger.Debug("audit batch delivered", zap.Int("batch_size", len(units)))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "batch submit failed")
	p.recordFailure(pathBatch, err)
	p.logger.Warn("audit batch delivery failed",
		zap.Int("batch_size", len(units)),
		zap.String("kind", string(classifyError(err))),
		zap.Bool("final", final),
		zap.Error(err))

	requeued := 0
	for _, u := range units {
		state, ferr := u.Fail()
		if ferr != nil {
			p.logger.Error("invalid work unit state after failed batch", append(unitFields(u), zap.Error(ferr))...)
			continue
		}
		switch {
		case state == StateExhausted:
			p.exhaust(u, err)
		case final:
			_ = u.Exhaust()
			p.exhausted.Add(1)
			p.toFallback(u, ReasonShutdown)
		default:
			if rerr := u.Requeue(); rerr != nil {
				p.logger.Error("cannot requeue work unit", append(unitFields(u), zap.Error(rerr))...)
				continue
			}
			if !p.batcher.Requeue(u) {
				_ = u.Exhaust()
				p.exhausted.Add(1)
				p.toFallback(u, ReasonShutdown)
				continue
			}
			requeued++
		}
	}
	if requeued > 0 {
		metrics.AuditRetries.WithLabelValues(pathBatch).Add(float64(requeued))
	}
}

func (p *Pipeline) submitBatch(ctx context.Context, envs []*Envelope) error {
	payload, err := CanonicalBatch(envs)
	if err != nil {
		return &DeliveryError{Sink: p.sink.Name(), Kind: KindPermanent, Err: fmt.Errorf("failed to encode batch: %w", err)}
	}
	sig, err := p.signer.Sign(payload)
	if err != nil {
		return &DeliveryError{Sink: p.sink.Name(), Kind: KindPermanent, Err: fmt.Errorf("failed to sign batch: %w", err)}
	}
	return p.sink.SubmitBatch(ctx, envs, sig)
}

func (p *Pipeline) recordFailure(path string, err error) {
	p.failed.Add(1)
	metrics.AuditDeliveryFailures.WithLabelValues(p.sink.Name(), path, string(classifyError(err))).Inc()
}

func (p *Pipeline) exhaust(u *WorkUnit, cause error) {
	p.exhausted.Add(1)
	p.logger.Error("audit event delivery exhausted, kept in fallback",
		append(unitFields(u), zap.Int("retries", u.Retries()), zap.Error(cause))...)
	p.toFallback(u, ReasonExhausted)
}

// toFallback stores the sealed envelope of u. Writing the same unit twice
// updates its single entry.
func (p *Pipeline) toFallback(u *WorkUnit, reason string) {
	payload, err := u.env.Canonical()
	if err != nil {
		p.logger.Error("failed to encode envelope for fallback", append(unitFields(u), zap.Error(err))...)
		return
	}
	entry := fallback.Entry{
		ID:          u.id,
		EventType:   string(u.eventType),
		Sensitivity: string(u.sensitivity),
		Reason:      reason,
		Envelope:    payload,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.runCtx), p.cfg.SubmitTimeout)
	defer cancel()

	evicted, err := p.store.Put(ctx, entry)
	metrics.AuditFallbackWrites.WithLabelValues(reason).Inc()
	if err != nil {
		p.logger.Error("failed to persist fallback entry", append(unitFields(u), zap.String("reason", reason), zap.Error(err))...)
	}
	if evicted {
		p.logger.Warn("fallback store full, evicted oldest entry", unitFields(u)...)
	}
}

// discardFallback removes the pending entry of a delivered unit.
func (p *Pipeline) discardFallback(u *WorkUnit) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.runCtx), p.cfg.SubmitTimeout)
	defer cancel()

	if err := p.store.Remove(ctx, u.id); err != nil && !errors.Is(err, fallback.ErrNotFound) {
		p.logger.Error("failed to remove delivered event from fallback", append(unitFields(u), zap.Error(err))...)
	}
}

// parkIntake moves events still queued in a pipeline that never started
// into the fallback store.
func (p *Pipeline) parkIntake() {
	parked := 0
	for e := range p.intake {
		u := p.seal(e)
		if u == nil {
			continue
		}
		_ = u.Exhaust()
		p.exhausted.Add(1)
		p.toFallback(u, ReasonShutdown)
		parked++
	}
	if parked > 0 {
		p.logger.Warn("pipeline stopped before start, parked queued events in fallback", zap.Int("count", parked))
	}
}

func (p *Pipeline) drop(e *Event, reason string) {
	p.dropped.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(reason).Inc()
	p.logger.Warn("audit event dropped", append(eventFields(e), zap.String("reason", reason))...)
}

// Flush drains the batcher and waits for the batch to be handled.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.batcher.Flush(ctx)
}

// Stop shuts the pipeline down: intake is closed and drained, the batcher
// performs its final flush, pending retries are cancelled, and in-flight
// critical sends are awaited until ctx ends. Sends still running then are
// cancelled and given a short grace period to record their outcome. A
// pipeline that never started parks its queued events in fallback.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.intakeMu.Lock()
	if p.closed {
		p.intakeMu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.intake)
	p.intakeMu.Unlock()

	if !started {
		p.parkIntake()
	}

	var errs []error
	if err := waitGroup(ctx, &p.workers); err != nil {
		errs = append(errs, fmt.Errorf("waiting for intake workers: %w", err))
	}
	if err := p.batcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	if n := p.cancelRetries(); n > 0 {
		p.logger.Info("cancelled pending retries", zap.Int("count", n))
	}
	if err := waitGroup(ctx, &p.sends); err != nil {
		errs = append(errs, fmt.Errorf("waiting for critical sends: %w", err))
		p.cancelRun()
		grace, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
		if werr := waitGroup(grace, &p.sends); werr != nil {
			p.logger.Warn("critical sends still running after cancellation")
		}
		cancel()
	}
	p.cancelRun()

	p.logger.Info("audit pipeline stopped",
		zap.Int64("delivered", p.delivered.Load()),
		zap.Int64("failed_attempts", p.failed.Load()),
		zap.Int64("exhausted", p.exhausted.Load()),
		zap.Int64("dropped", p.dropped.Load()))
	return errors.Join(errs...)
}

// ReplayFallback re-signs every fallback entry and submits it as a single
// event. Accepted entries are removed; the rest stay for the next run.
func (p *Pipeline) ReplayFallback(ctx context.Context) (ReplayResult, error) {
	entries := p.store.List()
	res := ReplayResult{Attempted: len(entries)}
	if len(entries) == 0 {
		return res, nil
	}

	var delivered, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(replayConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.replayEntry(gctx, entry); err != nil {
				failed.Add(1)
				p.logger.Warn("fallback replay failed",
					zap.String("event_id", entry.ID),
					zap.String("event_type", entry.EventType),
					zap.String("kind", string(classifyError(err))),
					zap.Error(err))
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	err := g.Wait()

	res.Delivered = int(delivered.Load())
	res.Failed = int(failed.Load())
	p.logger.Info("fallback replay finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed))
	return res, err
}

func (p *Pipeline) replayEntry(ctx context.Context, entry fallback.Entry) error {
	env, err := ParseEnvelope(entry.Envelope)
	if err != nil {
		return &DeliveryError{Sink: p.sink.Name(), Kind: KindPermanent, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "audit.ReplayEvent", trace.WithAttributes(
		attribute.String("audit.event_id", env.ID),
	))
	defer span.End()

	if err := p.submitEvent(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay failed")
		p.recordFailure(pathReplay, err)
		return err
	}
	metrics.AuditEventsDelivered.WithLabelValues(pathReplay).Inc()
	if err := p.store.Remove(ctx, entry.ID); err != nil && !errors.Is(err, fallback.ErrNotFound) {
		return fmt.Errorf("delivered but failed to remove fallback entry: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	p.retryMu.Lock()
	pending := len(p.retries)
	p.retryMu.Unlock()

	fb := p.store.Stats()
	return PipelineStats{
		IntakeLength:     len(p.intake),
		QueueLength:      p.batcher.Len(),
		PendingRetries:   pending,
		Delivered:        p.delivered.Load(),
		FailedAttempts:   p.failed.Load(),
		Exhausted:        p.exhausted.Load(),
		Dropped:          p.dropped.Load(),
		FallbackLen:      fb.Len,
		FallbackCapacity: fb.Capacity,
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventFields(e *Event) []zap.Field {
	return system.EventFields(e.ID, string(e.Type), string(e.Action), string(e.Sensitivity))
}

func unitFields(u *WorkUnit) []zap.Field {
	return system.EventFields(u.id, string(u.eventType), string(u.action), string(u.sensitivity))
}
