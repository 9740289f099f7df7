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
	"maps"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventAuthentication   EventType = "authentication"
	EventAuthorization    EventType = "authorization"
	EventDataAccess       EventType = "data_access"
	EventDataModification EventType = "data_modification"
	EventDataCreation     EventType = "data_creation"
	EventDataDeletion     EventType = "data_deletion"
	EventDataExport       EventType = "data_export"
	EventCommunication    EventType = "communication"
	EventSystem           EventType = "system_event"
	EventSecurity         EventType = "security_event"
	EventPrivacy          EventType = "privacy_event"
	EventConsent          EventType = "consent_event"
	EventPrescription     EventType = "prescription_event"
	EventPayment          EventType = "payment_event"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventAuthentication, EventAuthorization, EventDataAccess, EventDataModification,
	EventDataCreation, EventDataDeletion, EventDataExport, EventCommunication,
	EventSystem, EventSecurity, EventPrivacy, EventConsent, EventPrescription,
	EventPayment,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Action is the domain verb of an event.
type Action string

const (
	// === Authentication ===
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionLoginFailed    Action = "login_failed"
	ActionMFAChallenge   Action = "mfa_challenge"
	ActionPasswordReset  Action = "password_reset"
	ActionSessionTimeout Action = "session_timeout"

	// === Data access and lifecycle ===
	ActionView     Action = "view"
	ActionSearch   Action = "search"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionExport   Action = "export"
	ActionPrint    Action = "print"
	ActionShare    Action = "share"
	ActionDownload Action = "download"

	// === Consent ===
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"

	// === Prescriptions ===
	ActionPrescribe Action = "prescribe"
	ActionRefill    Action = "refill"

	// === Payments ===
	ActionCharge Action = "charge"
	ActionRefund Action = "refund"
	ActionCancel Action = "cancel"

	// === Security ===
	ActionDataBreach         Action = "data_breach"
	ActionUnauthorizedAccess Action = "unauthorized_access"
	ActionSuspiciousActivity Action = "suspicious_activity"
	ActionEmergencyAccess    Action = "emergency_access"

	// === Messaging ===
	ActionMessageSent Action = "message_sent"
	ActionCallStarted Action = "call_started"
	ActionCallEnded   Action = "call_ended"

	// === System ===
	ActionStartup       Action = "startup"
	ActionShutdown      Action = "shutdown"
	ActionConfigChange  Action = "config_change"
	ActionKeyRotation   Action = "key_rotation"
	ActionBackup        Action = "backup"
	ActionFallbackDrain Action = "fallback_drain"
)

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeWarning Outcome = "warning"
)

// Sensitivity is assigned by the Classifier and ordered low < medium < high < critical.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

// Rank orders sensitivities; unknown values rank lowest.
func (s Sensitivity) Rank() int {
	switch s {
	case SensitivityMedium:
		return 1
	case SensitivityHigh:
		return 2
	case SensitivityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast returns the higher of s and floor.
func (s Sensitivity) AtLeast(floor Sensitivity) Sensitivity {
	if floor.Rank() > s.Rank() {
		return floor
	}
	if s == "" {
		return SensitivityLow
	}
	return s
}

// Actor identifies who performed the action.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Subject identifies whose data the action touched, usually a patient.
type Subject struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
}

// Event is a single audit record in plaintext form. It never leaves the
// process unsealed; see Seal.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"eventType"`
	Actor       Actor          `json:"actor"`
	Subject     Subject        `json:"subject"`
	Action      Action         `json:"action"`
	Resource    string         `json:"resource"`
	Outcome     Outcome        `json:"outcome"`
	SessionID   string         `json:"sessionId,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	Location    string         `json:"location,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Sensitivity Sensitivity    `json:"sensitivity"`
}

// copyDetails returns a shallow copy so callers may keep mutating their map.
func copyDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	return maps.Clone(details)
}
