/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/telekom/phi-audit/pkg/audit"
	"github.com/telekom/phi-audit/pkg/compliance"
	"github.com/telekom/phi-audit/pkg/fallback"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

// WriteReportTable prints the report header followed by per-type and
// per-sensitivity counts, sorted by key.
func WriteReportTable(w io.Writer, r *compliance.Report) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "REPORT\tFROM\tTO\tGENERATED\tTOTAL")
	_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
		dash(r.ReportID), formatTime(r.StartDate), formatTime(r.EndDate), formatTime(r.GeneratedAt), r.TotalEvents)
	_ = tw.Flush()

	writeCounts(w, "EVENT_TYPE", r.EventsByType)
	writeCounts(w, "SENSITIVITY", r.EventsBySensitivity)
}

func writeCounts(w io.Writer, header string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	tw := newTabWriter(w)
	_, _ = fmt.Fprintf(tw, "%s\tCOUNT\n", header)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
	}
	_ = tw.Flush()
}

// WriteFallbackTable lists parked entries without their sealed payload.
func WriteFallbackTable(w io.Writer, entries []fallback.Entry) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ID\tEVENT_TYPE\tSENSITIVITY\tREASON\tSTORED\tSIZE")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.EventType, e.Sensitivity, e.Reason, formatTime(e.StoredAt), len(e.Envelope))
	}
	_ = tw.Flush()
}

func WriteFallbackStats(w io.Writer, s fallback.Stats) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "BACKEND\tENTRIES\tCAPACITY\tEVICTED")
	_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Backend, s.Len, s.Capacity, s.Evicted)
	_ = tw.Flush()
}

func WriteReplayResult(w io.Writer, r audit.ReplayResult) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ATTEMPTED\tDELIVERED\tFAILED")
	_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\n", r.Attempted, r.Delivered, r.Failed)
	_ = tw.Flush()
}

func WriteServiceStats(w io.Writer, s audit.ServiceStats) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "SINK\tCIRCUIT\tDELIVERED\tFAILED_ATTEMPTS\tEXHAUSTED\tDROPPED\tFALLBACK")
	_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d/%d\n",
		s.Sink, dash(s.Circuit), s.Pipeline.Delivered, s.Pipeline.FailedAttempts,
		s.Pipeline.Exhausted, s.Pipeline.Dropped, s.Fallback.Len, s.Fallback.Capacity)
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
