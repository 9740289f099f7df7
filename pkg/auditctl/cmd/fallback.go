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
	"github.com/telekom/phi-audit/pkg/fallback"
)

const openTimeout = 30 * time.Second

func NewFallbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Inspect and replay parked audit events",
	}
	cmd.AddCommand(
		newFallbackListCommand(),
		newFallbackStatsCommand(),
		newFallbackReplayCommand(),
	)
	return cmd
}

func newFallbackListCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fallback entries, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			store, err := rt.openFallback(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries := store.List()
			if reason != "" {
				filtered := entries[:0]
				for _, e := range entries {
					if e.Reason == reason {
						filtered = append(filtered, e)
					}
				}
				entries = filtered
			}
			return rt.write(entries, func(w io.Writer) { output.WriteFallbackTable(w, entries) })
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Only show entries parked for this reason (pending, exhausted, shutdown)")
	return cmd
}

func newFallbackStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fallback occupancy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			store, err := rt.openFallback(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats := store.Stats()
			return rt.write(stats, func(w io.Writer) { output.WriteFallbackStats(w, stats) })
		},
	}
}

func newFallbackReplayCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-submit every fallback entry to the configured sink",
		Long: `Signs each parked envelope again and submits it as a single event.
Accepted entries are removed; failed ones stay for the next run. The
receiver deduplicates by event id, so replaying an already delivered
event is safe.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			svc, err := rt.newService(rt.Config(), rt.Logger())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, replayErr := svc.ReplayFallback(ctx)
			stopErr := svc.Stop(context.WithoutCancel(ctx))
			if err := errors.Join(replayErr, stopErr); err != nil {
				return err
			}

			if err := rt.write(res, func(w io.Writer) { output.WriteReplayResult(w, res) }); err != nil {
				return err
			}
			if res.Failed > 0 {
				return &replayIncompleteError{failed: res.Failed}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall replay deadline")
	return cmd
}

type replayIncompleteError struct {
	failed int
}

func (e *replayIncompleteError) Error() string {
	if e.failed == 1 {
		return "1 entry could not be replayed"
	}
	return fmt.Sprintf("%d entries could not be replayed", e.failed)
}

func (rt *runtimeState) openFallback(ctx context.Context) (*fallback.Store, error) {
	cfg := rt.Config().Fallback
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	backend, err := audit.OpenFallbackBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := fallback.Open(ctx, backend, cfg.Capacity, rt.Logger())
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}
