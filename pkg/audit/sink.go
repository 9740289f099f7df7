/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/telekom/phi-audit/pkg/envelope"
)

// Sink is the remote audit-ingestion endpoint.
type Sink interface {
	// SubmitEvent delivers one critical event with its own signature.
	SubmitEvent(ctx context.Context, env *Envelope, sig envelope.Signature) error

	// SubmitBatch delivers envelopes with one signature over CanonicalBatch(envs).
	SubmitBatch(ctx context.Context, envs []*Envelope, sig envelope.Signature) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// ErrorKind labels delivery failures. Both kinds are retried the same way;
// the label only feeds logs and metrics.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// DeliveryError is returned by sinks when the remote side did not accept a submission.
type DeliveryError struct {
	Sink       string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery to %s failed (%d): %v", e.Kind, e.Sink, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Kind, e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// KindForStatus classifies an HTTP status: 408, 429 and 5xx are transient.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// classifyError returns the kind carried by err, inferring it for errors that
// did not come wrapped in a DeliveryError.
func classifyError(err error) ErrorKind {
	var de *DeliveryError
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindPermanent
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	return err != nil && classifyError(err) == KindTransient
}

// SinkCounters are a sink's running delivery totals.
type SinkCounters struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Batches int64 `json:"batches"`
}

// counting is implemented by sinks that keep SinkCounters.
type counting interface {
	Counters() SinkCounters
}
