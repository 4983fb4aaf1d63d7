// Package aiproc defines the AI document processing events and their
// factories. Events carry source "ai-service" and version "1.0".
package aiproc

import "github.com/randalmurphal/sagabus/pkg/sagabus/event"

// Source is the event source of every AI processing event.
const Source = "ai-service"

// Event types.
const (
	EventPDFProcessingStarted   = "ai.pdf_processing_started"
	EventPDFProcessingCompleted = "ai.pdf_processing_completed"
	EventPDFProcessingFailed    = "ai.pdf_processing_failed"
	EventDataExtracted          = "ai.data_extracted"
	EventSuggestionGenerated    = "ai.suggestion_generated"
)

// PDFProcessingStarted is published when a submission document is queued
// for extraction.
type PDFProcessingStarted struct {
	DocumentID  string `json:"documentId"`
	FileName    string `json:"fileName"`
	RequestedBy string `json:"requestedBy"`
}

func (PDFProcessingStarted) EventType() string { return EventPDFProcessingStarted }

// PDFProcessingCompleted is published when extraction finishes.
type PDFProcessingCompleted struct {
	DocumentID       string  `json:"documentId"`
	PageCount        int     `json:"pageCount"`
	ExtractedFields  int     `json:"extractedFields"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
}

func (PDFProcessingCompleted) EventType() string { return EventPDFProcessingCompleted }

// PDFProcessingFailed is published when extraction fails.
type PDFProcessingFailed struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
	Retryable  bool   `json:"retryable"`
}

func (PDFProcessingFailed) EventType() string { return EventPDFProcessingFailed }

// DataExtracted carries the structured fields read from a document.
type DataExtracted struct {
	DocumentID string         `json:"documentId"`
	SampleID   string         `json:"sampleId,omitempty"`
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"confidence"`
}

func (DataExtracted) EventType() string { return EventDataExtracted }

// SuggestionGenerated is published when the model proposes a value for a
// sample field.
type SuggestionGenerated struct {
	SuggestionID string  `json:"suggestionId"`
	SampleID     string  `json:"sampleId"`
	Field        string  `json:"field"`
	Value        any     `json:"value"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale,omitempty"`
}

func (SuggestionGenerated) EventType() string { return EventSuggestionGenerated }

// NewPDFProcessingStarted builds an ai.pdf_processing_started event.
func NewPDFProcessingStarted(documentID, fileName, requestedBy, correlationID string) event.Event {
	return event.New(Source, PDFProcessingStarted{
		DocumentID:  documentID,
		FileName:    fileName,
		RequestedBy: requestedBy,
	}, event.WithCorrelationID(correlationID))
}

// NewPDFProcessingCompleted builds an ai.pdf_processing_completed event.
func NewPDFProcessingCompleted(documentID string, pageCount, extractedFields int, processingTimeMs float64, correlationID string) event.Event {
	return event.New(Source, PDFProcessingCompleted{
		DocumentID:       documentID,
		PageCount:        pageCount,
		ExtractedFields:  extractedFields,
		ProcessingTimeMs: processingTimeMs,
	}, event.WithCorrelationID(correlationID))
}

// NewPDFProcessingFailed builds an ai.pdf_processing_failed event.
func NewPDFProcessingFailed(documentID, errMsg string, retryable bool, correlationID string) event.Event {
	return event.New(Source, PDFProcessingFailed{
		DocumentID: documentID,
		Error:      errMsg,
		Retryable:  retryable,
	}, event.WithCorrelationID(correlationID))
}

// NewDataExtracted builds an ai.data_extracted event.
func NewDataExtracted(documentID, sampleID string, fields map[string]any, confidence float64, correlationID string) event.Event {
	return event.New(Source, DataExtracted{
		DocumentID: documentID,
		SampleID:   sampleID,
		Fields:     fields,
		Confidence: confidence,
	}, event.WithCorrelationID(correlationID))
}

// NewSuggestionGenerated builds an ai.suggestion_generated event.
func NewSuggestionGenerated(suggestionID, sampleID, field string, value any, confidence float64, rationale, correlationID string) event.Event {
	return event.New(Source, SuggestionGenerated{
		SuggestionID: suggestionID,
		SampleID:     sampleID,
		Field:        field,
		Value:        value,
		Confidence:   confidence,
		Rationale:    rationale,
	}, event.WithCorrelationID(correlationID))
}

// Register adds the AI processing payloads to reg.
func Register(reg *event.Registry) {
	event.RegisterPayload[PDFProcessingStarted](reg)
	event.RegisterPayload[PDFProcessingCompleted](reg)
	event.RegisterPayload[PDFProcessingFailed](reg)
	event.RegisterPayload[DataExtracted](reg)
	event.RegisterPayload[SuggestionGenerated](reg)
}
