package event

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"

	sberrors "github.com/randalmurphal/sagabus/pkg/sagabus/errors"
)

// DefaultVersion is the payload schema version stamped on new events.
const DefaultVersion = "1.0"

// Payload is the typed body of an event. Each domain payload is a struct
// whose EventType names the event kind it belongs to, so an event's type
// tag always agrees with its data.
type Payload interface {
	EventType() string
}

// Generic carries a payload whose type has no registered Go struct.
type Generic struct {
	Type   string
	Fields map[string]any
}

// EventType implements Payload.
func (g Generic) EventType() string { return g.Type }

// MarshalJSON encodes only the fields; the type travels in the envelope.
func (g Generic) MarshalJSON() ([]byte, error) {
	if g.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(g.Fields)
}

// Event is an immutable message published on the bus.
// Use New to construct one; modifiers return copies.
type Event struct {
	id            string
	eventType     string
	timestamp     time.Time
	version       string
	source        string
	correlationID string
	metadata      map[string]any
	data          Payload
}

// ID returns the unique event identifier.
func (e Event) ID() string { return e.id }

// Type returns the event type, e.g. "sample.created".
func (e Event) Type() string { return e.eventType }

// Timestamp returns when the event was created.
func (e Event) Timestamp() time.Time { return e.timestamp }

// Version returns the payload schema version.
func (e Event) Version() string { return e.version }

// Source returns the component that produced the event.
func (e Event) Source() string { return e.source }

// CorrelationID returns the id linking events of one logical operation.
func (e Event) CorrelationID() string { return e.correlationID }

// Data returns the payload.
func (e Event) Data() Payload { return e.data }

// Metadata returns a copy of the metadata bag.
func (e Event) Metadata() map[string]any {
	if e.metadata == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

// WithMetadata returns a copy of the event with key set in its metadata.
func (e Event) WithMetadata(key string, value any) Event {
	md := make(map[string]any, len(e.metadata)+1)
	maps.Copy(md, e.metadata)
	md[key] = value
	e.metadata = md
	return e
}

// Validate checks that id, type, source and timestamp are present.
func (e Event) Validate() error {
	switch {
	case e.id == "":
		return &sberrors.ValidationError{Field: "id", Message: "event id is required"}
	case e.eventType == "":
		return &sberrors.ValidationError{Field: "type", Message: "event type is required"}
	case e.source == "":
		return &sberrors.ValidationError{Field: "source", Message: "event source is required"}
	case e.timestamp.IsZero():
		return &sberrors.ValidationError{Field: "timestamp", Message: "event timestamp is required"}
	}
	return nil
}

// Option configures event creation.
type Option func(*Event)

// WithEventID overrides the generated UUID.
func WithEventID(id string) Option {
	return func(e *Event) { e.id = id }
}

// WithTimestamp overrides the creation time (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) { e.timestamp = t }
}

// WithVersion overrides the schema version (default: DefaultVersion).
func WithVersion(v string) Option {
	return func(e *Event) { e.version = v }
}

// WithCorrelationID links the event to a logical operation.
func WithCorrelationID(id string) Option {
	return func(e *Event) { e.correlationID = id }
}

// WithMetadata sets the metadata bag. The map is copied.
func WithMetadata(md map[string]any) Option {
	return func(e *Event) { e.metadata = maps.Clone(md) }
}

// New creates an event from source and payload. The type is taken from
// the payload; a nil payload leaves it empty and fails validation.
func New(source string, data Payload, opts ...Option) Event {
	evt := Event{
		id:        uuid.New().String(),
		timestamp: time.Now(),
		version:   DefaultVersion,
		source:    source,
		data:      data,
	}
	if data != nil {
		evt.eventType = data.EventType()
	}
	for _, opt := range opts {
		opt(&evt)
	}
	return evt
}

// envelope is the JSON wire shape of an Event.
type envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	data := json.RawMessage("null")
	if e.data != nil {
		b, err := json.Marshal(e.data)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(envelope{
		ID:            e.id,
		Type:          e.eventType,
		Timestamp:     e.timestamp,
		Version:       e.version,
		Source:        e.source,
		CorrelationID: e.correlationID,
		Metadata:      e.metadata,
		Data:          data,
	})
}
