// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package enrich adds best-effort request context to audit events: an
// approximate location for the client IP and a short user-agent summary.
//
// Lookups never fail from the caller's point of view. Every error, timeout
// or rate-limit rejection yields Unknown.
package enrich
