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
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/phi-audit/pkg/config"
	"github.com/telekom/phi-audit/pkg/envelope"
)

type capturedRequest struct {
	path    string
	headers http.Header
	body    []byte
}

type ingestServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	message  string
}

func newIngestServer(t *testing.T) *ingestServer {
	s := &ingestServer{status: http.StatusAccepted}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		status, message := s.status, s.message
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(message))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ingestServer) respond(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.message = status, message
}

func (s *ingestServer) captured() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedRequest(nil), s.requests...)
}

func sealedSample(t *testing.T) (*Envelope, envelope.Signer) {
	t.Helper()
	enc, signer := testKeys(t)
	env, err := Seal(sampleEvent(), enc)
	require.NoError(t, err)
	return env, signer
}

func TestHTTPSink_SubmitEvent(t *testing.T) {
	srv := newIngestServer(t)
	sink, err := NewHTTPSink(HTTPSinkConfig{
		Name:    "ingest",
		URL:     srv.URL + "/v1/events",
		Headers: map[string]string{"X-Tenant": "clinic-1"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	env, signer := sealedSample(t)
	payload, err := env.Canonical()
	require.NoError(t, err)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	require.NoError(t, sink.SubmitEvent(context.Background(), env, sig))

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "/v1/events", req.path)
	assert.Equal(t, payload, req.body, "body must be exactly the signed bytes")
	assert.Equal(t, env.ID, req.headers.Get(HeaderIdempotencyKey))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sig.Value), req.headers.Get(HeaderSignature))
	assert.Equal(t, envelope.AlgHMACSHA256, req.headers.Get(HeaderSignatureAlg))
	assert.Equal(t, "test-key", req.headers.Get(HeaderKeyID))
	assert.Equal(t, "clinic-1", req.headers.Get("X-Tenant"))
	assert.Equal(t, "application/json", req.headers.Get("Content-Type"))
	assert.NotContains(t, string(req.body), "patient-123")

	assert.Equal(t, SinkCounters{Written: 1}, sink.Counters())
	assert.Equal(t, "ingest", sink.Name())
}

func TestHTTPSink_SubmitBatch(t *testing.T) {
	srv := newIngestServer(t)
	sink, err := NewHTTPSink(HTTPSinkConfig{
		URL:      srv.URL + "/v1/events",
		BatchURL: srv.URL + "/v1/events/batch",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	enc, signer := testKeys(t)
	var envs []*Envelope
	for _, id := range []string{"a", "b", "c"} {
		env, err := Seal(&Event{ID: id, Type: EventCommunication, Subject: Subject{ID: "patient-" + id}}, enc)
		require.NoError(t, err)
		envs = append(envs, env)
	}
	payload, err := CanonicalBatch(envs)
	require.NoError(t, err)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	require.NoError(t, sink.SubmitBatch(context.Background(), envs, sig))

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/events/batch", reqs[0].path)
	assert.Equal(t, payload, reqs[0].body)
	assert.Equal(t, "3", reqs[0].headers.Get(HeaderBatchSize))
	assert.NotEmpty(t, reqs[0].headers.Get(HeaderBatchID))
	assert.Equal(t, reqs[0].headers.Get(HeaderBatchID), reqs[0].headers.Get(HeaderIdempotencyKey))

	var decoded []Envelope
	require.NoError(t, json.Unmarshal(reqs[0].body, &decoded))
	assert.Len(t, decoded, 3)

	require.NoError(t, sink.SubmitBatch(context.Background(), nil, sig))
	assert.Len(t, srv.captured(), 1, "empty batch must not be posted")

	assert.Equal(t, int64(1), sink.Counters().Batches)
}

func TestHTTPSink_ErrorKinds(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusConflict, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}

	env, _ := sealedSample(t)
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newIngestServer(t)
			srv.respond(tt.status, "ingest says no")
			sink, err := NewHTTPSink(HTTPSinkConfig{URL: srv.URL}, zaptest.NewLogger(t))
			require.NoError(t, err)

			err = sink.SubmitEvent(context.Background(), env, envelope.Signature{})
			require.Error(t, err)

			var de *DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.status, de.StatusCode)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Contains(t, err.Error(), "ingest says no")
		})
	}
}

func TestHTTPSink_TransportErrorIsTransient(t *testing.T) {
	srv := newIngestServer(t)
	url := srv.URL
	srv.Close()

	sink, err := NewHTTPSink(HTTPSinkConfig{URL: url, Timeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)

	env, _ := sealedSample(t)
	err = sink.SubmitEvent(context.Background(), env, envelope.Signature{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	assert.Equal(t, int64(1), sink.Counters().Failed)
}

func TestHTTPSink_OAuth2(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
	defer idp.Close()

	srv := newIngestServer(t)
	sink, err := NewHTTPSink(HTTPSinkConfig{
		URL: srv.URL,
		OAuth2: &config.OAuth2{
			TokenURL:     idp.URL,
			ClientID:     "phi-audit",
			ClientSecret: "secret",
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	env, _ := sealedSample(t)
	require.NoError(t, sink.SubmitEvent(context.Background(), env, envelope.Signature{}))

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer tok-123", reqs[0].headers.Get("Authorization"))
}

func TestNewHTTPSink_RequiresURL(t *testing.T) {
	_, err := NewHTTPSink(HTTPSinkConfig{}, zaptest.NewLogger(t))
	assert.Error(t, err)

	sink, err := NewHTTPSink(HTTPSinkConfig{URL: "http://localhost"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "http", sink.Name())
	assert.NoError(t, sink.Close())
}
