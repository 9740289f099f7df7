// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/system"
)

// submission records one sink call.
type submission struct {
	envs  []*Envelope
	sig   envelope.Signature
	batch bool
	at    time.Time
}

// mockSink is a test sink that records calls and fails on demand.
type mockSink struct {
	// block, when set before use, makes every call wait for it to close.
	block chan struct{}
	// onSubmit, when set before use, runs at the start of every call.
	onSubmit func(envs []*Envelope)

	mu          sync.Mutex
	submissions []submission
	failures    int
	failAlways  bool
	err         error
	closed      bool
}

func (s *mockSink) SubmitEvent(ctx context.Context, env *Envelope, sig envelope.Signature) error {
	return s.submit(ctx, []*Envelope{env}, sig, false)
}

func (s *mockSink) SubmitBatch(ctx context.Context, envs []*Envelope, sig envelope.Signature) error {
	return s.submit(ctx, append([]*Envelope(nil), envs...), sig, true)
}

func (s *mockSink) submit(ctx context.Context, envs []*Envelope, sig envelope.Signature, batch bool) error {
	if s.onSubmit != nil {
		s.onSubmit(envs)
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, submission{envs: envs, sig: sig, batch: batch, at: time.Now()})
	if s.failAlways || s.failures > 0 {
		if s.failures > 0 {
			s.failures--
		}
		if s.err != nil {
			return s.err
		}
		return &DeliveryError{Sink: "mock", Kind: KindTransient, StatusCode: 503, Err: errors.New("mock unavailable")}
	}
	return nil
}

func (s *mockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockSink) Name() string {
	return "mock"
}

func (s *mockSink) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *mockSink) setFailAlways(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAlways = v
}

func (s *mockSink) calls() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission(nil), s.submissions...)
}

func (s *mockSink) eventCalls() []submission {
	var out []submission
	for _, c := range s.calls() {
		if !c.batch {
			out = append(out, c)
		}
	}
	return out
}

func (s *mockSink) batchSizes() []int {
	var out []int
	for _, c := range s.calls() {
		if c.batch {
			out = append(out, len(c.envs))
		}
	}
	return out
}

func (s *mockSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// testKeys returns an encryptor and an HMAC signer derived from a fresh key.
func testKeys(t *testing.T) (*envelope.XChaCha20Encryptor, envelope.Signer) {
	t.Helper()
	key, err := envelope.GenerateMasterKey("test-key")
	require.NoError(t, err)
	enc, err := key.Encryptor()
	require.NoError(t, err)
	signer, err := key.Signer(envelope.AlgHMACSHA256)
	require.NoError(t, err)
	return enc, signer
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

// captureSubmitter records submitted events instead of processing them.
type captureSubmitter struct {
	mu     sync.Mutex
	events []*Event
}

func (c *captureSubmitter) Submit(e *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return true
}

func (c *captureSubmitter) last() *Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	return system.NewObservedLogger(zapcore.DebugLevel)
}
