/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/phi-audit/pkg/audit"
	"github.com/telekom/phi-audit/pkg/compliance"
	"github.com/telekom/phi-audit/pkg/fallback"
)

func TestWriteReportTable(t *testing.T) {
	var buf bytes.Buffer
	WriteReportTable(&buf, &compliance.Report{
		ReportID:            "rep-1",
		StartDate:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:             time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		TotalEvents:         7,
		EventsByType:        map[string]int{"data_access": 5, "authentication": 2},
		EventsBySensitivity: map[string]int{"critical": 5, "low": 2},
	})

	out := buf.String()
	assert.Contains(t, out, "REPORT")
	assert.Contains(t, out, "rep-1")
	assert.Contains(t, out, "2026-01-01T00:00:00Z")
	assert.Contains(t, out, "EVENT_TYPE")
	assert.Contains(t, out, "SENSITIVITY")
	// generatedAt was not set
	assert.Contains(t, out, "  -  ")
	assert.Less(t, strings.Index(out, "authentication"), strings.Index(out, "data_access"), "keys are sorted")
}

func TestWriteReportTable_NoBreakdown(t *testing.T) {
	var buf bytes.Buffer
	WriteReportTable(&buf, &compliance.Report{TotalEvents: 0})
	assert.NotContains(t, buf.String(), "EVENT_TYPE")
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestWriteFallbackTable(t *testing.T) {
	var buf bytes.Buffer
	WriteFallbackTable(&buf, []fallback.Entry{
		{ID: "evt-1", EventType: "data_access", Sensitivity: "critical", Reason: "exhausted",
			StoredAt: time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC), Envelope: []byte(`{"id":"evt-1"}`)},
		{ID: "evt-2", EventType: "security_event", Sensitivity: "critical", Reason: "pending"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "evt-1")
	assert.Contains(t, lines[1], "exhausted")
	assert.Contains(t, lines[1], "14")
	assert.NotContains(t, buf.String(), `{"id"`, "payload is never printed")
	assert.Contains(t, lines[2], "pending")
}

func TestWriteStatsTables(t *testing.T) {
	var buf bytes.Buffer
	WriteFallbackStats(&buf, fallback.Stats{Backend: "sqlite", Len: 3, Capacity: 1000, Evicted: 1})
	assert.Contains(t, buf.String(), "sqlite")
	assert.Contains(t, buf.String(), "1000")

	buf.Reset()
	WriteReplayResult(&buf, audit.ReplayResult{Attempted: 4, Delivered: 3, Failed: 1})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"4", "3", "1"}, strings.Fields(lines[1]))

	buf.Reset()
	WriteServiceStats(&buf, audit.ServiceStats{
		Sink:     "http",
		Pipeline: audit.PipelineStats{Delivered: 10, Dropped: 1},
		Fallback: fallback.Stats{Len: 2, Capacity: 1000},
	})
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"http", "-", "10", "0", "0", "1", "2/1000"}, strings.Fields(lines[1]))
}
