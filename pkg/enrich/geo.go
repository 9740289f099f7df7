// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/phi-audit/pkg/version"
)

// ErrNoLocation is returned when the geo service answers without any usable field.
var ErrNoLocation = errors.New("geo lookup returned no location")

// GeoLookup resolves an IP address to a human readable location.
type GeoLookup interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// geoResponse matches the JSON shape of ipapi-style services.
type geoResponse struct {
	City        string `json:"city"`
	Region      string `json:"region"`
	CountryName string `json:"country_name"`
	Country     string `json:"country"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// HTTPGeoLookup queries GET {baseURL}/{ip}/json.
type HTTPGeoLookup struct {
	client *resty.Client
}

// NewHTTPGeoLookup creates a geo client for baseURL. timeout bounds each request.
func NewHTTPGeoLookup(baseURL string, timeout time.Duration) *HTTPGeoLookup {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	return &HTTPGeoLookup{client: client}
}

// Locate returns "City, Region, Country" with empty parts omitted.
func (g *HTTPGeoLookup) Locate(ctx context.Context, ip string) (string, error) {
	var out geoResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("ip", ip).
		SetResult(&out).
		Get("/{ip}/json")
	if err != nil {
		return "", fmt.Errorf("geo lookup: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("geo lookup: unexpected status %d", resp.StatusCode())
	}
	if out.Error {
		return "", fmt.Errorf("geo lookup: %s", out.Reason)
	}

	country := out.CountryName
	if country == "" {
		country = out.Country
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{out.City, out.Region, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoLocation
	}
	return strings.Join(parts, ", "), nil
}
