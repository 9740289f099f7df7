// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

// Rule maps an (EventType, Action, Outcome) pattern to a sensitivity.
// Empty fields match anything.
type Rule struct {
	Type        EventType
	Action      Action
	Outcome     Outcome
	Sensitivity Sensitivity
}

func (r Rule) matches(e *Event) bool {
	return (r.Type == "" || r.Type == e.Type) &&
		(r.Action == "" || r.Action == e.Action) &&
		(r.Outcome == "" || r.Outcome == e.Outcome)
}

// DefaultRules is evaluated top to bottom; the first match wins.
var DefaultRules = []Rule{
	// PHI access is always critical
	{Type: EventDataAccess, Sensitivity: SensitivityCritical},
	{Action: ActionEmergencyAccess, Sensitivity: SensitivityCritical},
	{Action: ActionUnauthorizedAccess, Sensitivity: SensitivityCritical},
	{Action: ActionDataBreach, Sensitivity: SensitivityCritical},
	{Action: ActionSuspiciousActivity, Sensitivity: SensitivityHigh},

	{Type: EventAuthentication, Action: ActionLoginFailed, Sensitivity: SensitivityHigh},
	{Type: EventAuthentication, Action: ActionPasswordReset, Sensitivity: SensitivityMedium},
	{Type: EventAuthentication, Action: ActionMFAChallenge, Sensitivity: SensitivityMedium},

	{Type: EventDataExport, Sensitivity: SensitivityHigh},
	{Type: EventDataDeletion, Sensitivity: SensitivityHigh},
	{Action: ActionShare, Sensitivity: SensitivityHigh},
	{Action: ActionPrint, Sensitivity: SensitivityMedium},
	{Action: ActionDownload, Sensitivity: SensitivityMedium},

	{Type: EventConsent, Action: ActionRevoke, Sensitivity: SensitivityHigh},
	{Type: EventPrescription, Action: ActionPrescribe, Sensitivity: SensitivityHigh},
	{Type: EventPayment, Action: ActionRefund, Sensitivity: SensitivityHigh},
}

// DefaultBaseSensitivity applies when no rule matches.
var DefaultBaseSensitivity = map[EventType]Sensitivity{
	EventAuthentication:   SensitivityLow,
	EventAuthorization:    SensitivityMedium,
	EventDataModification: SensitivityMedium,
	EventDataCreation:     SensitivityMedium,
	EventCommunication:    SensitivityLow,
	EventSystem:           SensitivityLow,
	EventPrivacy:          SensitivityHigh,
	EventConsent:          SensitivityMedium,
	EventPrescription:     SensitivityMedium,
	EventPayment:          SensitivityMedium,
}

// Classifier assigns sensitivity from a deterministic rule table.
type Classifier struct {
	rules []Rule
	base  map[EventType]Sensitivity
}

// NewClassifier creates a classifier. Nil arguments select the defaults.
func NewClassifier(rules []Rule, base map[EventType]Sensitivity) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	if base == nil {
		base = DefaultBaseSensitivity
	}
	return &Classifier{rules: rules, base: base}
}

// Classify returns the sensitivity for e. It does not modify e.
func (c *Classifier) Classify(e *Event) Sensitivity {
	s, ok := c.match(e)
	if !ok {
		s = c.base[e.Type].AtLeast(SensitivityLow)
	}

	if e.Outcome == OutcomeFailure {
		s = s.AtLeast(SensitivityHigh)
	}
	if e.Type == EventSecurity || e.Action == ActionDataBreach {
		s = SensitivityCritical
	}
	return s
}

func (c *Classifier) match(e *Event) (Sensitivity, bool) {
	for _, r := range c.rules {
		if r.matches(e) {
			return r.Sensitivity, true
		}
	}
	return "", false
}

// IsCritical reports whether e bypasses batching.
func IsCritical(e *Event) bool {
	return e.Sensitivity == SensitivityCritical ||
		e.Type == EventSecurity ||
		e.Outcome == OutcomeFailure
}
