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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/metrics"
)

// CircuitState is the state of a sink's breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned instead of contacting a sink whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures when a sink breaker trips and recovers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that open the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of successful probes that close a half-open breaker.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before letting a probe through.
	OpenTimeout time.Duration
	// Clock defaults to the wall clock.
	Clock Clock
}

// DefaultBreakerConfig returns the breaker settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	State     CircuitState
	Failures  int
	Successes int
	Rejected  int64
	OpenedAt  time.Time
}

// Breaker tracks the health of one sink. Only transient failures count
// against it: a permanent rejection proves the endpoint is reachable.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *zap.Logger

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	probing   bool
	openedAt  time.Time
	rejected  int64
}

// NewBreaker returns a closed breaker for the named sink.
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	metrics.AuditCircuitBreakerState.WithLabelValues(name).Set(float64(CircuitClosed))
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("breaker").With(zap.String("sink", name)),
	}
}

// Allow reports whether a call may go to the sink. A nil return from a
// half-open breaker reserves the single probe slot until Record is called.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && b.cfg.Clock.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.setState(CircuitHalfOpen)
	}

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitHalfOpen:
		if !b.probing {
			b.probing = true
			return nil
		}
	}
	b.rejected++
	metrics.AuditCircuitBreakerRejections.WithLabelValues(b.name).Inc()
	return ErrCircuitOpen
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == CircuitHalfOpen
	b.probing = false

	if err != nil && IsTransient(err) {
		b.successes = 0
		b.failures++
		if wasProbe || b.failures >= b.cfg.FailureThreshold {
			b.setState(CircuitOpen)
		}
		return
	}

	b.failures = 0
	if wasProbe {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(CircuitClosed)
		}
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to CircuitState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probing = false
	if to == CircuitOpen {
		b.openedAt = b.cfg.Clock.Now()
	}
	metrics.AuditCircuitBreakerState.WithLabelValues(b.name).Set(float64(to))
	b.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// State returns the current state without advancing an expired open period.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's counters.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
		Rejected:  b.rejected,
		OpenedAt:  b.openedAt,
	}
}

// BreakerSink guards a Sink with a Breaker. Rejections surface as transient
// DeliveryErrors so the pipeline spends its attempts without touching the
// endpoint.
type BreakerSink struct {
	sink    Sink
	breaker *Breaker
}

// NewBreakerSink wraps sink with a breaker built from cfg.
func NewBreakerSink(sink Sink, cfg BreakerConfig, logger *zap.Logger) *BreakerSink {
	return &BreakerSink{sink: sink, breaker: NewBreaker(sink.Name(), cfg, logger)}
}

func (s *BreakerSink) SubmitEvent(ctx context.Context, env *Envelope, sig envelope.Signature) error {
	return s.guard(func() error { return s.sink.SubmitEvent(ctx, env, sig) })
}

func (s *BreakerSink) SubmitBatch(ctx context.Context, envs []*Envelope, sig envelope.Signature) error {
	return s.guard(func() error { return s.sink.SubmitBatch(ctx, envs, sig) })
}

func (s *BreakerSink) guard(call func() error) error {
	if err := s.breaker.Allow(); err != nil {
		return &DeliveryError{Sink: s.sink.Name(), Kind: KindTransient, Err: err}
	}
	err := call()
	s.breaker.Record(err)
	return err
}

func (s *BreakerSink) Close() error { return s.sink.Close() }

// Counters reports the wrapped sink's totals, if it keeps any.
func (s *BreakerSink) Counters() SinkCounters {
	if c, ok := s.sink.(counting); ok {
		return c.Counters()
	}
	return SinkCounters{}
}

func (s *BreakerSink) Name() string { return s.sink.Name() }

// Breaker exposes the breaker for status reporting.
func (s *BreakerSink) Breaker() *Breaker { return s.breaker }
