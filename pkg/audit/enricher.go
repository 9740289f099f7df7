// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"

	"github.com/telekom/phi-audit/pkg/enrich"
)

// Enricher fills in location and user-agent data. Implementations must not
// fail; anything they cannot resolve is left as "unknown".
type Enricher interface {
	Enrich(ctx context.Context, e *Event)
}

// LookupEnricher adapts an enrich.Service to the Enricher interface.
type LookupEnricher struct {
	svc *enrich.Service
}

// NewLookupEnricher wraps svc.
func NewLookupEnricher(svc *enrich.Service) *LookupEnricher {
	return &LookupEnricher{svc: svc}
}

// Enrich resolves the event's IP address and summarises its user agent.
// A location set by the caller is kept. A missing IP address is recorded
// as unknown.
func (l *LookupEnricher) Enrich(ctx context.Context, e *Event) {
	res := l.svc.Lookup(ctx, e.IPAddress, e.UserAgent)
	if e.IPAddress == "" {
		e.IPAddress = enrich.Unknown
	}
	if e.Location == "" {
		e.Location = res.Location
	}
	e.UserAgent = res.UserAgent
}
