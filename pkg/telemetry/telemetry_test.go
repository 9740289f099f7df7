// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/phi-audit/pkg/config"
)

func keepGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInit_Disabled(t *testing.T) {
	keepGlobalProvider(t)
	ctx := context.Background()

	tp, shutdown, err := Init(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, tp)
	assert.NoError(t, shutdown(ctx))
}

func TestInit_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "none", opts: Options{Exporter: "none", ServiceName: "audit-test"}},
		{name: "stdout", opts: Options{Exporter: "stdout", SamplingRate: 0.5}},
		// the gRPC exporter dials lazily
		{name: "otlp", opts: Options{Exporter: "otlp", Endpoint: "localhost:0", Insecure: true}},
		{name: "unknown", opts: Options{Exporter: "zipkin"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keepGlobalProvider(t)
			ctx := context.Background()
			tt.opts.Enabled = true
			tt.opts.Logger = zaptest.NewLogger(t)

			tp, shutdown, err := Init(ctx, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = shutdown(ctx) })

			assert.IsType(t, &sdktrace.TracerProvider{}, tp)
			assert.Same(t, tp, otel.GetTracerProvider())
		})
	}
}

func TestInit_SamplingRateOutOfRange(t *testing.T) {
	for _, rate := range []float64{-0.5, 0, 2} {
		keepGlobalProvider(t)
		ctx := context.Background()
		tp, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: "none", SamplingRate: rate})
		require.NoError(t, err)

		_, span := tp.Tracer("test").Start(ctx, "op")
		assert.True(t, span.SpanContext().IsSampled(), "rate %v should sample everything", rate)
		span.End()
		assert.NoError(t, shutdown(ctx))
	}
}

func TestShutdown_Twice(t *testing.T) {
	keepGlobalProvider(t)
	ctx := context.Background()
	_, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: "none"})
	require.NoError(t, err)

	assert.NoError(t, shutdown(ctx))
	_ = shutdown(ctx)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Config{
		ServiceName: "clinic-audit",
		Telemetry: config.Telemetry{
			Enabled:      true,
			Exporter:     "stdout",
			Endpoint:     "collector:4317",
			Insecure:     true,
			SamplingRate: 0.25,
		},
	}
	opts := OptionsFromConfig(cfg, "v1.2.3", nil)
	assert.Equal(t, Options{
		Enabled:        true,
		ServiceName:    "clinic-audit",
		ServiceVersion: "v1.2.3",
		Exporter:       "stdout",
		Endpoint:       "collector:4317",
		Insecure:       true,
		SamplingRate:   0.25,
	}, opts)
}
