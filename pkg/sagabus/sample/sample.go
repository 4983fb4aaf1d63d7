// Package sample defines the sample lifecycle events and their factories.
//
// Each factory stamps a fresh id and timestamp, version "1.0" and source
// "sample-service". An empty correlationID leaves the event uncorrelated.
package sample

import (
	"time"

	"github.com/randalmurphal/sagabus/pkg/sagabus/event"
)

// Source is the event source of every sample event.
const Source = "sample-service"

// Event types.
const (
	EventCreated       = "sample.created"
	EventUpdated       = "sample.updated"
	EventStatusChanged = "sample.status_changed"
	EventDeleted       = "sample.deleted"
	EventAssigned      = "sample.assigned"
	EventQCCompleted   = "sample.qc_completed"
)

// Created is published when a sample is registered.
type Created struct {
	SampleID    string         `json:"sampleId"`
	Barcode     string         `json:"barcode"`
	SampleType  string         `json:"sampleType"`
	SubmittedBy string         `json:"submittedBy"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

func (Created) EventType() string { return EventCreated }

// Updated is published when sample fields change.
type Updated struct {
	SampleID  string         `json:"sampleId"`
	Changes   map[string]any `json:"changes"`
	UpdatedBy string         `json:"updatedBy"`
}

func (Updated) EventType() string { return EventUpdated }

// StatusChanged is published on a sample status transition.
type StatusChanged struct {
	SampleID  string `json:"sampleId"`
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
	ChangedBy string `json:"changedBy"`
	Reason    string `json:"reason,omitempty"`
}

func (StatusChanged) EventType() string { return EventStatusChanged }

// Deleted is published when a sample is removed.
type Deleted struct {
	SampleID  string `json:"sampleId"`
	DeletedBy string `json:"deletedBy"`
	Reason    string `json:"reason,omitempty"`
}

func (Deleted) EventType() string { return EventDeleted }

// Assigned is published when a sample is assigned to a user or location.
type Assigned struct {
	SampleID   string `json:"sampleId"`
	AssignedTo string `json:"assignedTo"`
	AssignedBy string `json:"assignedBy"`
}

func (Assigned) EventType() string { return EventAssigned }

// QCCompleted is published when quality control finishes.
type QCCompleted struct {
	SampleID    string             `json:"sampleId"`
	Passed      bool               `json:"passed"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	CompletedAt time.Time          `json:"completedAt"`
}

func (QCCompleted) EventType() string { return EventQCCompleted }

func newEvent(payload event.Payload, correlationID string) event.Event {
	return event.New(Source, payload, event.WithCorrelationID(correlationID))
}

// NewCreated builds a sample.created event.
func NewCreated(sampleID, barcode, sampleType, submittedBy string, attributes map[string]any, correlationID string) event.Event {
	return newEvent(Created{
		SampleID:    sampleID,
		Barcode:     barcode,
		SampleType:  sampleType,
		SubmittedBy: submittedBy,
		Attributes:  attributes,
	}, correlationID)
}

// NewUpdated builds a sample.updated event.
func NewUpdated(sampleID string, changes map[string]any, updatedBy, correlationID string) event.Event {
	return newEvent(Updated{SampleID: sampleID, Changes: changes, UpdatedBy: updatedBy}, correlationID)
}

// NewStatusChanged builds a sample.status_changed event.
func NewStatusChanged(sampleID, oldStatus, newStatus, changedBy, reason, correlationID string) event.Event {
	return newEvent(StatusChanged{
		SampleID:  sampleID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		ChangedBy: changedBy,
		Reason:    reason,
	}, correlationID)
}

// NewDeleted builds a sample.deleted event.
func NewDeleted(sampleID, deletedBy, reason, correlationID string) event.Event {
	return newEvent(Deleted{SampleID: sampleID, DeletedBy: deletedBy, Reason: reason}, correlationID)
}

// NewAssigned builds a sample.assigned event.
func NewAssigned(sampleID, assignedTo, assignedBy, correlationID string) event.Event {
	return newEvent(Assigned{SampleID: sampleID, AssignedTo: assignedTo, AssignedBy: assignedBy}, correlationID)
}

// NewQCCompleted builds a sample.qc_completed event. CompletedAt is the
// event timestamp.
func NewQCCompleted(sampleID string, passed bool, metrics map[string]float64, notes, correlationID string) event.Event {
	now := time.Now()
	return event.New(Source, QCCompleted{
		SampleID:    sampleID,
		Passed:      passed,
		Metrics:     metrics,
		Notes:       notes,
		CompletedAt: now,
	},
		event.WithTimestamp(now),
		event.WithCorrelationID(correlationID),
	)
}

// Register adds the sample payloads to reg.
func Register(reg *event.Registry) {
	event.RegisterPayload[Created](reg)
	event.RegisterPayload[Updated](reg)
	event.RegisterPayload[StatusChanged](reg)
	event.RegisterPayload[Deleted](reg)
	event.RegisterPayload[Assigned](reg)
	event.RegisterPayload[QCCompleted](reg)
}
