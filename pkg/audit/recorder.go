// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/metrics"
)

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Submitter accepts classified events without blocking.
type Submitter interface {
	Submit(e *Event) bool
}

// Recorder is the only entry point for business code. Its methods never
// return errors and never block on I/O; failures downstream are logged and
// counted but do not reach the caller.
type Recorder struct {
	classifier *Classifier
	submitter  Submitter
	clock      Clock
	logger     *zap.Logger
}

// NewRecorder creates a recorder. A nil classifier or clock selects the
// default rule table or the system clock.
func NewRecorder(submitter Submitter, classifier *Classifier, clock Clock, logger *zap.Logger) *Recorder {
	if classifier == nil {
		classifier = NewClassifier(nil, nil)
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Recorder{
		classifier: classifier,
		submitter:  submitter,
		clock:      clock,
		logger:     logger.Named("audit-recorder"),
	}
}

// Authentication records a login, logout or other authentication step.
func (r *Recorder) Authentication(ctx context.Context, actor Actor, action Action, outcome Outcome, details map[string]any) {
	r.record(ctx, &Event{
		Type:     EventAuthentication,
		Actor:    actor,
		Action:   action,
		Resource: "session",
		Outcome:  outcome,
		Details:  copyDetails(details),
	})
}

// PHIAccess records a read of protected health information.
func (r *Recorder) PHIAccess(ctx context.Context, actor Actor, patientID string, action Action, resource string, details map[string]any) {
	r.record(ctx, &Event{
		Type:     EventDataAccess,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   action,
		Resource: resource,
		Outcome:  OutcomeSuccess,
		Details:  copyDetails(details),
	})
}

// DataModification records a create, update or delete of patient data.
func (r *Recorder) DataModification(ctx context.Context, actor Actor, patientID string, action Action, resource string, details map[string]any) {
	eventType := EventDataModification
	switch action {
	case ActionCreate:
		eventType = EventDataCreation
	case ActionDelete:
		eventType = EventDataDeletion
	}
	r.record(ctx, &Event{
		Type:     eventType,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   action,
		Resource: resource,
		Outcome:  OutcomeSuccess,
		Details:  copyDetails(details),
	})
}

// DataExport records data leaving the system, e.g. a PDF or CSV export.
func (r *Recorder) DataExport(ctx context.Context, actor Actor, patientID, resource, format string, details map[string]any) {
	d := copyDetails(details)
	d = withDetail(d, "format", format)
	r.record(ctx, &Event{
		Type:     EventDataExport,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   ActionExport,
		Resource: resource,
		Outcome:  OutcomeSuccess,
		Details:  d,
	})
}

// Consent records granting or revoking a patient consent.
func (r *Recorder) Consent(ctx context.Context, actor Actor, patientID string, action Action, consentType string, details map[string]any) {
	r.record(ctx, &Event{
		Type:     EventConsent,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   action,
		Resource: "consent/" + consentType,
		Outcome:  OutcomeSuccess,
		Details:  copyDetails(details),
	})
}

// Prescription records prescribing or refilling medication.
func (r *Recorder) Prescription(ctx context.Context, actor Actor, patientID string, action Action, prescriptionID string, details map[string]any) {
	r.record(ctx, &Event{
		Type:     EventPrescription,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   action,
		Resource: "prescription/" + prescriptionID,
		Outcome:  OutcomeSuccess,
		Details:  copyDetails(details),
	})
}

// Payment records a charge, refund or cancellation.
func (r *Recorder) Payment(ctx context.Context, actor Actor, patientID string, action Action, outcome Outcome,
	amountCents int64, currency string, details map[string]any) {
	d := copyDetails(details)
	d = withDetail(d, "amountCents", amountCents)
	d = withDetail(d, "currency", currency)
	r.record(ctx, &Event{
		Type:     EventPayment,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   action,
		Resource: "payment",
		Outcome:  outcome,
		Details:  d,
	})
}

// Communication records a message or call with a patient.
func (r *Recorder) Communication(ctx context.Context, actor Actor, patientID string, action Action, channel string, details map[string]any) {
	r.record(ctx, &Event{
		Type:     EventCommunication,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   action,
		Resource: "channel/" + channel,
		Outcome:  OutcomeSuccess,
		Details:  copyDetails(details),
	})
}

// SecurityEvent records suspicious activity, unauthorized access or a breach.
// Security events are always critical.
func (r *Recorder) SecurityEvent(ctx context.Context, actor Actor, action Action, resource string, details map[string]any) {
	r.record(ctx, &Event{
		Type:     EventSecurity,
		Actor:    actor,
		Action:   action,
		Resource: resource,
		Outcome:  OutcomeWarning,
		Details:  copyDetails(details),
	})
}

// EmergencyAccess records break-glass access to a patient record outside the
// actor's normal permissions.
func (r *Recorder) EmergencyAccess(ctx context.Context, actor Actor, patientID, resource, reason string, details map[string]any) {
	d := copyDetails(details)
	d = withDetail(d, "reason", reason)
	r.record(ctx, &Event{
		Type:     EventDataAccess,
		Actor:    actor,
		Subject:  patient(patientID),
		Action:   ActionEmergencyAccess,
		Resource: resource,
		Outcome:  OutcomeSuccess,
		Details:  d,
	})
}

// SystemEvent records service lifecycle and operational events.
func (r *Recorder) SystemEvent(ctx context.Context, action Action, resource string, outcome Outcome, details map[string]any) {
	r.record(ctx, &Event{
		Type:     EventSystem,
		Actor:    Actor{ID: "system", Role: "system"},
		Action:   action,
		Resource: resource,
		Outcome:  outcome,
		Details:  copyDetails(details),
	})
}

// record finishes e and hands it off. It never panics.
func (r *Recorder) record(ctx context.Context, e *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.AuditEventsDropped.WithLabelValues("panic").Inc()
			r.logger.Error("recovered panic while recording audit event",
				zap.String("event_type", string(e.Type)),
				zap.String("action", string(e.Action)),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()

	e.ID = uuid.NewString()
	e.Timestamp = r.clock.Now().UTC()
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if info, ok := RequestInfoFrom(ctx); ok {
		e.IPAddress = info.IPAddress
		e.UserAgent = info.UserAgent
		e.SessionID = info.SessionID
	}
	e.Sensitivity = r.classifier.Classify(e)

	metrics.AuditEventsRecorded.WithLabelValues(string(e.Type), string(e.Sensitivity)).Inc()
	r.submitter.Submit(e)
}

func patient(id string) Subject {
	if id == "" {
		return Subject{}
	}
	return Subject{ID: id, Type: "patient"}
}

func withDetail(details map[string]any, key string, value any) map[string]any {
	if details == nil {
		details = make(map[string]any, 1)
	}
	details[key] = value
	return details
}
