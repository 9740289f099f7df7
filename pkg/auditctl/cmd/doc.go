/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

// Package cmd implements auditctl, the operator CLI for the PHI audit
// pipeline: compliance reports, fallback inspection and replay, master key
// generation and a pipeline smoke test.
package cmd
