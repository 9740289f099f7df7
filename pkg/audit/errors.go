// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import "errors"

var (
	// ErrServiceStopped is returned by Service operations after Stop.
	ErrServiceStopped = errors.New("audit service stopped")

	// ErrInvalidTransition is returned when a work unit is moved to a state
	// its current state cannot reach.
	ErrInvalidTransition = errors.New("invalid work unit transition")

	// ErrNoReportClient is returned by GenerateReport when no report endpoint is configured.
	ErrNoReportClient = errors.New("compliance report endpoint not configured")
)
