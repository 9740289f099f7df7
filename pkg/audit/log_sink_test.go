// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSink_NeverLogsEncryptedFields(t *testing.T) {
	logger, logs := observedLogger()
	sink := NewLogSink(logger)

	env, signer := sealedSample(t)
	payload, err := env.Canonical()
	require.NoError(t, err)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	require.NoError(t, sink.SubmitEvent(context.Background(), env, sig))
	require.NoError(t, sink.SubmitBatch(context.Background(), []*Envelope{env}, sig))

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, entry := range entries {
		ctx := entry.ContextMap()
		for key, value := range ctx {
			s, _ := value.(string)
			assert.False(t, strings.Contains(s, "patient-123"), "field %s leaks subject", key)
		}
		assert.NotContains(t, ctx, "subjectId")
		assert.NotContains(t, ctx, "details")
	}
	assert.Equal(t, env.ID, entries[0].ContextMap()["event_id"])
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Close())
}
