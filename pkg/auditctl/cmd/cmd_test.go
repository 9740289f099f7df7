/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/phi-audit/pkg/audit"
	"github.com/telekom/phi-audit/pkg/config"
	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/fallback"
)

// recordingSink accepts everything and remembers what it saw.
type recordingSink struct {
	mu      sync.Mutex
	events  []*audit.Envelope
	batches [][]*audit.Envelope
	closed  bool
	err     error
}

func (s *recordingSink) SubmitEvent(_ context.Context, env *audit.Envelope, _ envelope.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, env)
	return nil
}

func (s *recordingSink) SubmitBatch(_ context.Context, envs []*audit.Envelope, _ envelope.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, envs)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) counts() (events, batches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), len(s.batches)
}

type testEnv struct {
	sink    *recordingSink
	backend *fallback.MemoryBackend
	enc     *envelope.XChaCha20Encryptor
	signer  envelope.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := envelope.GenerateMasterKey("test-key")
	require.NoError(t, err)
	enc, err := key.Encryptor()
	require.NoError(t, err)
	signer, err := key.Signer(envelope.AlgHMACSHA256)
	require.NoError(t, err)
	return &testEnv{sink: &recordingSink{}, backend: fallback.NewMemoryBackend(), enc: enc, signer: signer}
}

func (e *testEnv) factory() ServiceFactory {
	return func(cfg config.Config, logger *zap.Logger) (*audit.Service, error) {
		return audit.NewService(cfg, logger,
			audit.WithSink(e.sink),
			audit.WithFallbackBackend(e.backend),
			audit.WithEncryptor(e.enc),
			audit.WithSigner(e.signer))
	}
}

// park seals a synthetic event and stores it in the backend as the pipeline
// would after exhausting its retries.
func (e *testEnv) park(t *testing.T, id string) {
	t.Helper()
	env, err := audit.Seal(&audit.Event{
		ID:          id,
		Timestamp:   time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Type:        audit.EventDataAccess,
		Actor:       audit.Actor{ID: "dr-1", Role: "physician"},
		Subject:     audit.Subject{ID: "patient-" + id, Type: "patient"},
		Action:      audit.ActionView,
		Outcome:     audit.OutcomeSuccess,
		Sensitivity: audit.SensitivityCritical,
	}, e.enc)
	require.NoError(t, err)
	payload, err := env.Canonical()
	require.NoError(t, err)
	require.NoError(t, e.backend.Put(context.Background(), fallback.Entry{
		ID:          id,
		EventType:   string(audit.EventDataAccess),
		Sensitivity: string(audit.SensitivityCritical),
		Reason:      audit.ReasonExhausted,
		StoredAt:    time.Now(),
		Envelope:    payload,
	}))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phi-audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
sink:
  type: log
fallback:
  backend: memory
`

func runCommand(t *testing.T, cfg Config, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cfg.OutputWriter = &buf
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	root := NewRootCommand(cfg)
	root.SetArgs(args)
	root.SetOut(&buf)
	root.SetErr(io.Discard)
	err := root.Execute()
	return buf.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}
