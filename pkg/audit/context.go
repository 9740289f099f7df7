// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import "context"

// RequestInfo carries request-scoped client data into recorder calls.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	SessionID string
}

type requestInfoKey struct{}

// WithRequestInfo attaches info to ctx. HTTP middleware typically calls this
// once per request so handlers can pass ctx straight to the Recorder.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the RequestInfo attached to ctx, if any.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
