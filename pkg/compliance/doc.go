// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package compliance is the read-side facade for compliance reports. Reports
// are generated by the remote reporting endpoint; errors are returned to the
// caller unchanged since there is no local data to fall back to.
package compliance
