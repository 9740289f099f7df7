/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/phi-audit/pkg/audit"
	"github.com/telekom/phi-audit/pkg/auditctl/output"
)

func NewEmitCommand() *cobra.Command {
	var (
		kind      string
		actorID   string
		patientID string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Record one synthetic event through the full pipeline",
		Long: `Starts the pipeline with the configured sink, records a single
synthetic event and stops, flushing any batch. Use it to check keys, sink
credentials and connectivity. Kinds: system (batched), phi-access and
security (sent immediately).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			record, err := emitter(kind, audit.Actor{ID: actorID, Role: "operator"}, patientID)
			if err != nil {
				return err
			}

			svc, err := rt.newService(rt.Config(), rt.Logger())
			if err != nil {
				return err
			}
			svc.Start()
			record(cmd.Context(), svc.Recorder)

			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), timeout)
			defer cancel()
			stopErr := svc.Stop(ctx)

			stats := svc.Stats()
			if err := rt.write(stats, func(w io.Writer) { output.WriteServiceStats(w, stats) }); err != nil {
				return err
			}
			if stopErr != nil {
				return stopErr
			}
			if stats.Pipeline.Delivered == 0 {
				return errors.New("synthetic event was not delivered, check the sink and the fallback store")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "system", "Event kind: system, phi-access, security")
	cmd.Flags().StringVar(&actorID, "actor", "auditctl", "Actor id recorded on the event")
	cmd.Flags().StringVar(&patientID, "patient", "synthetic-patient", "Subject id for phi-access events")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Deadline for draining the pipeline")
	return cmd
}

func emitter(kind string, actor audit.Actor, patientID string) (func(context.Context, *audit.Recorder), error) {
	details := map[string]any{"synthetic": true}
	switch kind {
	case "system":
		return func(ctx context.Context, r *audit.Recorder) {
			r.SystemEvent(ctx, audit.ActionStartup, "auditctl", audit.OutcomeSuccess, details)
		}, nil
	case "phi-access":
		return func(ctx context.Context, r *audit.Recorder) {
			r.PHIAccess(ctx, actor, patientID, audit.ActionView, "auditctl/smoke-test", details)
		}, nil
	case "security":
		return func(ctx context.Context, r *audit.Recorder) {
			r.SecurityEvent(ctx, actor, audit.ActionSuspiciousActivity, "auditctl/smoke-test", details)
		}, nil
	default:
		return nil, fmt.Errorf("unknown --kind %q: supported values are system, phi-access, security", kind)
	}
}
