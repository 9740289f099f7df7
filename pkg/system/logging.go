// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production config emits JSON; debug
// switches to the development console encoder. Stacktraces are disabled for
// non-fatal levels to keep WARN/INFO output readable.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return logger, nil
}

// EventFields returns the zap fields that may be logged for an audit event.
// Subject identifiers and details are PHI and never appear in logs.
func EventFields(id, eventType, action, sensitivity string) []zap.Field {
	return []zap.Field{
		zap.String("event_id", id),
		zap.String("event_type", eventType),
		zap.String("action", action),
		zap.String("sensitivity", sensitivity),
	}
}
