// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/config"
	"github.com/telekom/phi-audit/pkg/metrics"
	"github.com/telekom/phi-audit/pkg/version"
)

const DefaultTimeout = 60 * time.Second

// ErrInvalidRequest is returned before any network call when the report
// request is malformed.
var ErrInvalidRequest = errors.New("invalid report request")

// ReportRequest selects the period and event types of a report. An empty
// EventTypes selects every type.
type ReportRequest struct {
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	EventTypes []string  `json:"eventTypes,omitempty"`
}

// Validate checks that both dates are set and ordered.
func (r ReportRequest) Validate() error {
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return fmt.Errorf("%w: startDate and endDate are required", ErrInvalidRequest)
	}
	if r.StartDate.After(r.EndDate) {
		return fmt.Errorf("%w: startDate %s is after endDate %s", ErrInvalidRequest,
			r.StartDate.Format(time.RFC3339), r.EndDate.Format(time.RFC3339))
	}
	return nil
}

// Report is the reporting endpoint's answer. Raw keeps the full payload for
// fields this client does not model.
type Report struct {
	ReportID            string          `json:"reportId,omitempty" yaml:"reportId,omitempty"`
	GeneratedAt         time.Time       `json:"generatedAt" yaml:"generatedAt"`
	StartDate           time.Time       `json:"startDate" yaml:"startDate"`
	EndDate             time.Time       `json:"endDate" yaml:"endDate"`
	TotalEvents         int             `json:"totalEvents" yaml:"totalEvents"`
	EventsByType        map[string]int  `json:"eventsByType,omitempty" yaml:"eventsByType,omitempty"`
	EventsBySensitivity map[string]int  `json:"eventsBySensitivity,omitempty" yaml:"eventsBySensitivity,omitempty"`
	Raw                 json.RawMessage `json:"-" yaml:"-"`
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("report request failed (%d): %s", e.StatusCode, e.Message)
}

type Client struct {
	url     string
	timeout time.Duration
	hc      *http.Client
	oauth   *config.OAuth2
	log     *zap.Logger
	rest    *resty.Client
}

type Option func(*Client) error

// New creates a report client posting to url.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("report url is required")
	}
	c := &Client{
		url:     url,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	hc := c.hc
	if hc == nil {
		hc = &http.Client{}
	}
	if c.oauth != nil {
		hc = c.oauth.HTTPClient(hc)
	}
	c.rest = resty.NewWithClient(hc).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	return c, nil
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.hc = hc
		return nil
	}
}

// WithOAuth2 authenticates requests with a client-credentials token.
func WithOAuth2(cfg config.OAuth2) Option {
	return func(c *Client) error {
		if !cfg.Enabled() {
			return errors.New("oauth2 tokenURL and clientID are required")
		}
		c.oauth = &cfg
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.log = logger.Named("compliance")
		}
		return nil
	}
}

// GenerateReport performs one synchronous report call.
func (c *Client) GenerateReport(ctx context.Context, req ReportRequest) (*Report, error) {
	if err := req.Validate(); err != nil {
		metrics.AuditReportRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}

	ctx, span := otel.Tracer("phi-audit").Start(ctx, "compliance.GenerateReport")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.start", req.StartDate.UTC().Format(time.RFC3339)),
		attribute.String("report.end", req.EndDate.UTC().Format(time.RFC3339)),
		attribute.Int("report.event_types", len(req.EventTypes)),
	)

	report, err := c.generate(ctx, req)
	if err != nil {
		metrics.AuditReportRequests.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "report request failed")
		c.log.Warn("Compliance report request failed", zap.Error(err))
		return nil, err
	}
	metrics.AuditReportRequests.WithLabelValues("ok").Inc()
	c.log.Debug("Compliance report generated",
		zap.String("report_id", report.ReportID),
		zap.Int("total_events", report.TotalEvents))
	return report, nil
}

func (c *Client) generate(ctx context.Context, req ReportRequest) (*Report, error) {
	body := ReportRequest{
		StartDate:  req.StartDate.UTC(),
		EndDate:    req.EndDate.UTC(),
		EventTypes: req.EventTypes,
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("report request: %w", err)
	}
	if resp.IsError() {
		return nil, decodeError(resp)
	}

	var report Report
	raw := resp.Body()
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	report.Raw = json.RawMessage(raw)
	return &report, nil
}

func decodeError(resp *resty.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	body := resp.Body()
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Error)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
}
