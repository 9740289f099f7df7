// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telekom/phi-audit/pkg/envelope"
)

// EnvelopeVersion is the wire format version of Envelope.
const EnvelopeVersion = 1

// Names of the encrypted fields; also used as the AAD suffix.
const (
	FieldSubjectID = "subjectId"
	FieldDetails   = "details"
	FieldIPAddress = "ipAddress"
	FieldLocation  = "location"
)

// Envelope is the wire form of an Event. Routing and classification fields
// stay in plaintext; the subject id, details, IP address and location are
// individually encrypted with AAD "eventID|field". json.Marshal of an
// Envelope is its canonical byte form and is what gets signed.
type Envelope struct {
	Version     int         `json:"v"`
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Type        EventType   `json:"eventType"`
	Actor       Actor       `json:"actor"`
	SubjectType string      `json:"subjectType,omitempty"`
	Action      Action      `json:"action"`
	Resource    string      `json:"resource"`
	Outcome     Outcome     `json:"outcome"`
	SessionID   string      `json:"sessionId,omitempty"`
	UserAgent   string      `json:"userAgent,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity"`
	KeyID       string      `json:"kid"`

	SubjectID []byte `json:"subjectId,omitempty"`
	Details   []byte `json:"details,omitempty"`
	IPAddress []byte `json:"ipAddress,omitempty"`
	Location  []byte `json:"location,omitempty"`
}

// Seal encrypts the sensitive fields of e. Any error means the event must not
// be sent.
func Seal(e *Event, enc envelope.Encryptor) (*Envelope, error) {
	if e.ID == "" {
		return nil, errors.New("cannot seal event without id")
	}
	env := &Envelope{
		Version:     EnvelopeVersion,
		ID:          e.ID,
		Timestamp:   e.Timestamp.UTC(),
		Type:        e.Type,
		Actor:       e.Actor,
		SubjectType: e.Subject.Type,
		Action:      e.Action,
		Resource:    e.Resource,
		Outcome:     e.Outcome,
		SessionID:   e.SessionID,
		UserAgent:   e.UserAgent,
		Sensitivity: e.Sensitivity,
		KeyID:       enc.KeyID(),
	}

	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return nil, fmt.Errorf("failed to marshal details of event %s: %w", e.ID, err)
		}
	}

	fields := []struct {
		name  string
		value []byte
		dst   *[]byte
	}{
		{FieldSubjectID, []byte(e.Subject.ID), &env.SubjectID},
		{FieldDetails, details, &env.Details},
		{FieldIPAddress, []byte(e.IPAddress), &env.IPAddress},
		{FieldLocation, []byte(e.Location), &env.Location},
	}
	for _, f := range fields {
		if len(f.value) == 0 {
			continue
		}
		ct, err := enc.Encrypt(f.value, aad(e.ID, f.name))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt %s of event %s: %w", f.name, e.ID, err)
		}
		*f.dst = ct
	}
	return env, nil
}

// Open decrypts env back into an Event.
func Open(env *Envelope, enc envelope.Encryptor) (*Event, error) {
	e := &Event{
		ID:          env.ID,
		Timestamp:   env.Timestamp,
		Type:        env.Type,
		Actor:       env.Actor,
		Subject:     Subject{Type: env.SubjectType},
		Action:      env.Action,
		Resource:    env.Resource,
		Outcome:     env.Outcome,
		SessionID:   env.SessionID,
		UserAgent:   env.UserAgent,
		Sensitivity: env.Sensitivity,
	}

	decrypt := func(name string, ct []byte) ([]byte, error) {
		if len(ct) == 0 {
			return nil, nil
		}
		pt, err := enc.Decrypt(ct, aad(env.ID, name))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s of event %s: %w", name, env.ID, err)
		}
		return pt, nil
	}

	subject, err := decrypt(FieldSubjectID, env.SubjectID)
	if err != nil {
		return nil, err
	}
	e.Subject.ID = string(subject)

	ip, err := decrypt(FieldIPAddress, env.IPAddress)
	if err != nil {
		return nil, err
	}
	e.IPAddress = string(ip)

	loc, err := decrypt(FieldLocation, env.Location)
	if err != nil {
		return nil, err
	}
	e.Location = string(loc)

	details, err := decrypt(FieldDetails, env.Details)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details of event %s: %w", env.ID, err)
		}
	}
	return e, nil
}

// Canonical returns the bytes that are signed and sent for env.
func (env *Envelope) Canonical() ([]byte, error) {
	return json.Marshal(env)
}

// CanonicalBatch returns the bytes that are signed and sent for a batch.
func CanonicalBatch(envs []*Envelope) ([]byte, error) {
	return json.Marshal(envs)
}

// ParseEnvelope decodes canonical envelope bytes, e.g. from the fallback store.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.ID == "" {
		return nil, errors.New("envelope has no id")
	}
	return &env, nil
}

func aad(eventID, field string) []byte {
	return []byte(eventID + "|" + field)
}
