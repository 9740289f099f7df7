// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *Event {
	return &Event{
		ID:          "evt-42",
		Timestamp:   time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC),
		Type:        EventDataAccess,
		Actor:       Actor{ID: "dr-7", Role: "physician"},
		Subject:     Subject{ID: "patient-123", Type: "patient"},
		Action:      ActionView,
		Resource:    "records/labs",
		Outcome:     OutcomeSuccess,
		SessionID:   "sess-1",
		IPAddress:   "203.0.113.9",
		UserAgent:   "Firefox 128.0 / Linux",
		Location:    "Bonn, North Rhine-Westphalia, Germany",
		Details:     map[string]any{"diagnosis": "hypertension", "count": 3.0},
		Sensitivity: SensitivityCritical,
	}
}

func TestSeal_EncryptsSensitiveFields(t *testing.T) {
	enc, _ := testKeys(t)
	e := sampleEvent()

	env, err := Seal(e, enc)
	require.NoError(t, err)

	wire, err := env.Canonical()
	require.NoError(t, err)

	for _, secret := range []string{"patient-123", "hypertension", "203.0.113.9", "Bonn"} {
		assert.False(t, bytes.Contains(wire, []byte(secret)), "wire payload leaks %q", secret)
	}

	// Routing fields stay readable.
	for _, plain := range []string{"evt-42", "data_access", "critical", "view", "dr-7"} {
		assert.True(t, bytes.Contains(wire, []byte(plain)), "wire payload misses %q", plain)
	}
	assert.Equal(t, "test-key", env.KeyID)
	assert.Equal(t, EnvelopeVersion, env.Version)
}

func TestSeal_OpenRoundTrip(t *testing.T) {
	enc, _ := testKeys(t)
	e := sampleEvent()

	env, err := Seal(e, enc)
	require.NoError(t, err)

	wire, err := env.Canonical()
	require.NoError(t, err)
	parsed, err := ParseEnvelope(wire)
	require.NoError(t, err)

	opened, err := Open(parsed, enc)
	require.NoError(t, err)
	assert.Equal(t, e.Subject, opened.Subject)
	assert.Equal(t, e.IPAddress, opened.IPAddress)
	assert.Equal(t, e.Location, opened.Location)
	assert.Equal(t, e.Details, opened.Details)
	assert.True(t, e.Timestamp.Equal(opened.Timestamp))
}

func TestSeal_CiphertextBoundToEventAndField(t *testing.T) {
	enc, _ := testKeys(t)

	env, err := Seal(sampleEvent(), enc)
	require.NoError(t, err)

	// Moving a ciphertext to another event must fail authentication.
	moved := *env
	moved.ID = "evt-43"
	_, err = Open(&moved, enc)
	assert.Error(t, err)

	// So must swapping fields within one event.
	swapped := *env
	swapped.IPAddress, swapped.Location = env.Location, env.IPAddress
	_, err = Open(&swapped, enc)
	assert.Error(t, err)
}

func TestSeal_OmitsEmptyFields(t *testing.T) {
	enc, _ := testKeys(t)
	e := &Event{ID: "evt-1", Type: EventSystem, Action: ActionStartup, Outcome: OutcomeSuccess}

	env, err := Seal(e, enc)
	require.NoError(t, err)
	assert.Nil(t, env.SubjectID)
	assert.Nil(t, env.Details)
	assert.Nil(t, env.IPAddress)
	assert.Nil(t, env.Location)
}

type failingEncryptor struct{}

func (failingEncryptor) KeyID() string { return "broken" }

func (failingEncryptor) Encrypt(_, _ []byte) ([]byte, error) {
	return nil, errors.New("hsm unavailable")
}

func (failingEncryptor) Decrypt(_, _ []byte) ([]byte, error) {
	return nil, errors.New("hsm unavailable")
}

func TestSeal_Errors(t *testing.T) {
	_, err := Seal(sampleEvent(), failingEncryptor{})
	assert.ErrorContains(t, err, "hsm unavailable")

	enc, _ := testKeys(t)
	_, err = Seal(&Event{}, enc)
	assert.Error(t, err)
}

func TestCanonicalBatch_StableBytes(t *testing.T) {
	enc, signer := testKeys(t)
	a, err := Seal(sampleEvent(), enc)
	require.NoError(t, err)
	b, err := Seal(&Event{ID: "evt-2", Type: EventSystem}, enc)
	require.NoError(t, err)

	first, err := CanonicalBatch([]*Envelope{a, b})
	require.NoError(t, err)
	second, err := CanonicalBatch([]*Envelope{a, b})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	sig, err := signer.Sign(first)
	require.NoError(t, err)
	assert.NoError(t, signer.Verify(second, sig))
}

func TestParseEnvelope_Invalid(t *testing.T) {
	_, err := ParseEnvelope([]byte("not json"))
	assert.Error(t, err)
	_, err = ParseEnvelope([]byte(`{"v":1}`))
	assert.Error(t, err)
}
