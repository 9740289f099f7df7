/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/phi-audit/pkg/audit"
	"github.com/telekom/phi-audit/pkg/auditctl/output"
	"github.com/telekom/phi-audit/pkg/compliance"
)

const dateLayout = "2006-01-02"

func NewReportCommand() *cobra.Command {
	var (
		start string
		end   string
		types []string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a compliance report for a time range",
		Example: `  auditctl report --start 2026-01-01 --end 2026-02-01
  auditctl report --start 2026-01-01T00:00:00Z --type data_access --type data_export -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			req, err := buildReportRequest(start, end, types, time.Now())
			if err != nil {
				return err
			}
			client, err := audit.NewReportClient(rt.Config().Compliance, rt.Logger())
			if err != nil {
				return err
			}
			report, err := client.GenerateReport(cmd.Context(), req)
			if err != nil {
				return err
			}
			return rt.write(report, func(w io.Writer) { output.WriteReportTable(w, report) })
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Range start, RFC3339 or YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "Range end, RFC3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Restrict the report to these event types")
	_ = cmd.MarkFlagRequired("start")

	return cmd
}

func buildReportRequest(start, end string, types []string, now time.Time) (compliance.ReportRequest, error) {
	var req compliance.ReportRequest
	from, err := parseTime(start)
	if err != nil {
		return req, fmt.Errorf("invalid --start: %w", err)
	}
	to := now.UTC()
	if end != "" {
		if to, err = parseTime(end); err != nil {
			return req, fmt.Errorf("invalid --end: %w", err)
		}
	}
	for _, t := range types {
		if !audit.EventType(t).Valid() {
			return req, fmt.Errorf("unknown event type %q", t)
		}
	}
	req = compliance.ReportRequest{StartDate: from, EndDate: to, EventTypes: types}
	return req, req.Validate()
}

// parseTime accepts RFC3339 or a bare date, read as midnight UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, s)
}
