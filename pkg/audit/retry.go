// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"

	"github.com/telekom/phi-audit/pkg/config"
)

// RetryPolicy defines how often and how fast failed deliveries are retried.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retries after the first attempt
	MaxRetries int
	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries
	MaxBackoff time.Duration
	// Multiplier is the factor by which backoff grows after each retry
	Multiplier float64
}

// DefaultRetryPolicy returns 3 retries starting at 1s, doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// RetryPolicyFromConfig builds a policy from the pipeline configuration.
func RetryPolicyFromConfig(cfg config.Pipeline) RetryPolicy {
	def := DefaultRetryPolicy()
	p := RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: config.Duration(cfg.RetryInitialBackoff, def.InitialBackoff),
		MaxBackoff:     config.Duration(cfg.RetryMaxBackoff, def.MaxBackoff),
		Multiplier:     def.Multiplier,
	}
	return p.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Backoff returns the delay before retry n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	backoff := p.InitialBackoff
	for i := 1; i < n; i++ {
		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}
