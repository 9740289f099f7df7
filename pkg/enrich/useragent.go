// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"strings"

	"github.com/mssola/useragent"
)

const maxUserAgentLength = 512

// SummarizeUserAgent reduces a raw User-Agent header to "Browser Version / OS",
// with a " (mobile)" or " (bot)" suffix where it applies.
func SummarizeUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Unknown
	}
	if len(raw) > maxUserAgentLength {
		raw = raw[:maxUserAgentLength]
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	client := strings.TrimSpace(name + " " + version)
	if client == "" {
		client = Unknown
	}
	summary := client
	if os := ua.OS(); os != "" {
		summary += " / " + os
	}
	switch {
	case ua.Bot():
		summary += " (bot)"
	case ua.Mobile():
		summary += " (mobile)"
	}
	return summary
}
