// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/config"
)

var (
	start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []Option
		wantErr bool
	}{
		{name: "missing url", wantErr: true},
		{name: "valid", url: "https://audit.example.com/reports"},
		{
			name:    "oauth2 missing client id",
			url:     "https://audit.example.com/reports",
			opts:    []Option{WithOAuth2(config.OAuth2{TokenURL: "https://idp.example.com/token"})},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.url, tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				require.Nil(t, c)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
		})
	}
}

func TestReportRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ReportRequest
		wantErr bool
	}{
		{name: "valid", req: ReportRequest{StartDate: start, EndDate: end}},
		{name: "same instant", req: ReportRequest{StartDate: start, EndDate: start}},
		{name: "missing start", req: ReportRequest{EndDate: end}, wantErr: true},
		{name: "missing end", req: ReportRequest{StartDate: start}, wantErr: true},
		{name: "reversed", req: ReportRequest{StartDate: end, EndDate: start}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGenerateReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var got ReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.True(t, got.StartDate.Equal(start))
		assert.True(t, got.EndDate.Equal(end))
		assert.Equal(t, []string{"data_access"}, got.EventTypes)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reportId":     "r-1",
			"generatedAt":  end,
			"startDate":    start,
			"endDate":      end,
			"totalEvents":  12,
			"eventsByType": map[string]int{"data_access": 12},
			"signedBy":     "reporting-service",
		})
	}))
	defer server.Close()

	c, err := New(server.URL, WithTimeout(time.Second), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	report, err := c.GenerateReport(context.Background(), ReportRequest{
		StartDate:  start,
		EndDate:    end,
		EventTypes: []string{"data_access"},
	})
	require.NoError(t, err)
	assert.Equal(t, "r-1", report.ReportID)
	assert.Equal(t, 12, report.TotalEvents)
	assert.Equal(t, 12, report.EventsByType["data_access"])
	assert.Contains(t, string(report.Raw), "signedBy")
}

func TestGenerateReport_InvalidRequestMakesNoCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c, err := New(server.URL)
	require.NoError(t, err)

	_, err = c.GenerateReport(context.Background(), ReportRequest{StartDate: end, EndDate: start})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, called)
}

func TestGenerateReport_ErrorsAreSurfaced(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "json error", status: http.StatusForbidden, body: `{"error":"not allowed"}`, wantMsg: "not allowed"},
		{name: "plain text", status: http.StatusBadGateway, body: "upstream down", wantMsg: "upstream down"},
		{name: "empty body", status: http.StatusServiceUnavailable, wantMsg: "503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := New(server.URL)
			require.NoError(t, err)

			_, err = c.GenerateReport(context.Background(), ReportRequest{StartDate: start, EndDate: end})
			require.Error(t, err)
			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Contains(t, httpErr.Message, tt.wantMsg)
		})
	}
}

func TestGenerateReport_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, err := New(url, WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = c.GenerateReport(context.Background(), ReportRequest{StartDate: start, EndDate: end})
	require.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestGenerateReport_OAuth2ClientCredentials(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"svc-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer idp.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reportId":"r-2","totalEvents":0}`))
	}))
	defer api.Close()

	c, err := New(api.URL, WithOAuth2(config.OAuth2{
		TokenURL:     idp.URL,
		ClientID:     "phi-audit",
		ClientSecret: "secret",
	}))
	require.NoError(t, err)

	report, err := c.GenerateReport(context.Background(), ReportRequest{StartDate: start, EndDate: end})
	require.NoError(t, err)
	assert.Equal(t, "r-2", report.ReportID)
}

func TestHTTPError(t *testing.T) {
	err := &HTTPError{StatusCode: http.StatusForbidden, Message: "access denied"}
	assert.Equal(t, "report request failed (403): access denied", err.Error())
}
