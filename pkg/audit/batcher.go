// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/metrics"
)

const (
	// DefaultBatchSize is the number of buffered units that triggers a drain.
	DefaultBatchSize = 50
	// DefaultFlushInterval is the longest a unit waits in the buffer.
	DefaultFlushInterval = 30 * time.Second
)

// FlushFunc delivers one drained batch. It runs on the batcher worker and the
// next drain starts only after it returns. final is true for the drain
// performed by Stop; units must not be requeued then.
type FlushFunc func(ctx context.Context, units []*WorkUnit, final bool)

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	// BatchSize is the maximum number of units per drain.
	// Default: 50
	BatchSize int

	// FlushInterval bounds how long the oldest unit waits.
	// Default: 30 seconds
	FlushInterval time.Duration
}

type flushRequest struct {
	ctx  context.Context
	done chan struct{}
}

// Batcher buffers non-critical work units and hands them to a FlushFunc in
// batches of at most BatchSize. A single worker goroutine owns draining; Add
// and Requeue only append under the mutex and wake the worker.
//
// A drain is triggered when BatchSize units are buffered, when the oldest
// unit has waited FlushInterval, on Flush, and once more on Stop.
type Batcher struct {
	cfg    BatcherConfig
	flush  FlushFunc
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	buf     []*WorkUnit
	seq     uint64
	started bool
	stopped bool

	notify   chan struct{}
	flushReq chan flushRequest
	stopReq  chan flushRequest
	done     chan struct{}
}

// NewBatcher creates a batcher. Call Start before adding units.
func NewBatcher(cfg BatcherConfig, flush FlushFunc, logger *zap.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Batcher{
		cfg:      cfg,
		flush:    flush,
		logger:   logger.Named("audit-batcher"),
		now:      time.Now,
		buf:      make([]*WorkUnit, 0, cfg.BatchSize),
		notify:   make(chan struct{}, 1),
		flushReq: make(chan flushRequest),
		stopReq:  make(chan flushRequest),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. Drains triggered by size or age use ctx.
func (b *Batcher) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	go b.run(ctx)
}

// Add buffers u. It returns false once the batcher is stopped.
func (b *Batcher) Add(u *WorkUnit) bool {
	return b.enqueue(u, true)
}

// Requeue buffers a failed unit again with a fresh enqueue time, so it waits
// up to one FlushInterval before its next attempt. It does not wake the
// worker; the timer is re-armed after the current drain.
func (b *Batcher) Requeue(u *WorkUnit) bool {
	return b.enqueue(u, false)
}

func (b *Batcher) enqueue(u *WorkUnit, wake bool) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.seq++
	u.seq = b.seq
	u.enqueuedAt = b.now()
	b.buf = append(b.buf, u)
	n := len(b.buf)
	b.mu.Unlock()

	metrics.AuditQueueLength.Set(float64(n))
	if wake && (n == 1 || n >= b.cfg.BatchSize) {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	return true
}

// Len returns the number of buffered units.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Flush drains every unit buffered at the time of the call and waits for the
// flush handler to finish or ctx to end.
func (b *Batcher) Flush(ctx context.Context) error {
	req := flushRequest{ctx: ctx, done: make(chan struct{})}
	select {
	case b.flushReq <- req:
	case <-b.done:
		return ErrServiceStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further units, performs one final drain of everything still
// buffered and waits for the worker to exit or ctx to end.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case b.stopReq <- flushRequest{ctx: ctx}:
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)

	timer := time.NewTimer(b.cfg.FlushInterval)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-b.notify:
			b.drainDue(ctx)
		case <-timer.C:
			b.drainDue(ctx)
		case req := <-b.flushReq:
			b.drainUpTo(req.ctx, b.currentSeq(), false)
			close(req.done)
		case req := <-b.stopReq:
			n := b.Len()
			if n > 0 {
				b.logger.Info("final flush of buffered audit events", zap.Int("count", n))
			}
			b.drainUpTo(req.ctx, b.currentSeq(), true)
			return
		}

		if wait, ok := b.untilOldestDue(); ok {
			timer.Reset(wait)
		} else {
			timer.Stop()
		}
	}
}

func (b *Batcher) currentSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// drainDue drains full batches of units that were buffered before this wake
// and any batch whose oldest unit has waited FlushInterval. Units requeued by
// the flush handler during this call are not eligible for a size drain.
func (b *Batcher) drainDue(ctx context.Context) {
	limit := b.currentSeq()
	for {
		batch := b.takeDue(limit)
		if len(batch) == 0 {
			return
		}
		b.deliver(ctx, batch, false)
	}
}

func (b *Batcher) takeDue(limit uint64) []*WorkUnit {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.buf)
	if n == 0 {
		return nil
	}
	full := n >= b.cfg.BatchSize && b.buf[b.cfg.BatchSize-1].seq <= limit
	aged := !b.now().Before(b.buf[0].enqueuedAt.Add(b.cfg.FlushInterval))
	if !full && !aged {
		return nil
	}
	return b.takeLocked(limit)
}

// drainUpTo drains, in batches, every unit with a sequence number <= limit.
func (b *Batcher) drainUpTo(ctx context.Context, limit uint64, final bool) {
	for {
		b.mu.Lock()
		batch := b.takeLocked(limit)
		b.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		b.deliver(ctx, batch, final)
	}
}

// takeLocked removes up to BatchSize units with seq <= limit from the head.
func (b *Batcher) takeLocked(limit uint64) []*WorkUnit {
	n := 0
	for n < len(b.buf) && n < b.cfg.BatchSize && b.buf[n].seq <= limit {
		n++
	}
	if n == 0 {
		return nil
	}
	batch := make([]*WorkUnit, n)
	copy(batch, b.buf[:n])
	remaining := copy(b.buf, b.buf[n:])
	clear(b.buf[remaining:])
	b.buf = b.buf[:remaining]
	metrics.AuditQueueLength.Set(float64(remaining))
	return batch
}

func (b *Batcher) deliver(ctx context.Context, batch []*WorkUnit, final bool) {
	metrics.AuditBatchSize.Observe(float64(len(batch)))
	b.flush(ctx, batch, final)
}

func (b *Batcher) untilOldestDue() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return 0, false
	}
	wait := b.buf[0].enqueuedAt.Add(b.cfg.FlushInterval).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}
