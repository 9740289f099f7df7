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

	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/envelope"
	"github.com/telekom/phi-audit/pkg/system"
)

// LogSink writes envelope metadata to a structured logger. It is meant for
// local development; encrypted fields are never logged.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) SubmitEvent(_ context.Context, env *Envelope, sig envelope.Signature) error {
	fields := append(envelopeFields(env),
		zap.String("signature_alg", sig.Algorithm),
		zap.String("key_id", sig.KeyID))
	s.logger.Info("audit_event", fields...)
	return nil
}

func (s *LogSink) SubmitBatch(_ context.Context, envs []*Envelope, sig envelope.Signature) error {
	for _, env := range envs {
		s.logger.Info("audit_event", envelopeFields(env)...)
	}
	s.logger.Info("audit_batch",
		zap.Int("batch_size", len(envs)),
		zap.String("signature_alg", sig.Algorithm),
		zap.String("key_id", sig.KeyID))
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

func envelopeFields(env *Envelope) []zap.Field {
	fields := system.EventFields(env.ID, string(env.Type), string(env.Action), string(env.Sensitivity))
	fields = append(fields,
		zap.Time("timestamp", env.Timestamp),
		zap.String("actor_role", env.Actor.Role),
		zap.String("outcome", string(env.Outcome)))
	return fields
}
