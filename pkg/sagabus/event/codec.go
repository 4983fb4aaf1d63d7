package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/sagabus/pkg/sagabus/registry"
)

// DecodeFunc turns the raw "data" member of an envelope into a Payload.
type DecodeFunc func(raw json.RawMessage) (Payload, error)

// Registry maps event types to payload decoders so that JSON envelopes
// come back as their concrete payload structs.
type Registry struct {
	decoders *registry.Registry[string, DecodeFunc]
}

// NewRegistry creates an empty payload registry.
func NewRegistry() *Registry {
	return &Registry{decoders: registry.New[string, DecodeFunc]()}
}

// Register sets the decoder for eventType, replacing any previous one.
func (r *Registry) Register(eventType string, decode DecodeFunc) {
	r.decoders.Register(eventType, decode)
}

// Has reports whether eventType has a registered decoder.
func (r *Registry) Has(eventType string) bool {
	return r.decoders.Has(eventType)
}

// Len returns the number of registered event types.
func (r *Registry) Len() int {
	return r.decoders.Len()
}

// Types returns the registered event types.
func (r *Registry) Types() []string {
	return r.decoders.Keys()
}

// RegisterPayload registers T under the type its zero value reports.
func RegisterPayload[T Payload](r *Registry) {
	var zero T
	r.Register(zero.EventType(), func(raw json.RawMessage) (Payload, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// Decode parses a JSON envelope. Types without a registered decoder
// decode to Generic. The result is not validated.
func (r *Registry) Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}

	payload, err := r.decodePayload(env.Type, env.Data)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}

	return Event{
		id:            env.ID,
		eventType:     env.Type,
		timestamp:     env.Timestamp,
		version:       env.Version,
		source:        env.Source,
		correlationID: env.CorrelationID,
		metadata:      env.Metadata,
		data:          payload,
	}, nil
}

func (r *Registry) decodePayload(eventType string, raw json.RawMessage) (Payload, error) {
	if decode, ok := r.decoders.Get(eventType); ok {
		return decode(raw)
	}

	g := Generic{Type: eventType}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return g, nil
	}
	if err := json.Unmarshal(raw, &g.Fields); err != nil {
		return nil, err
	}
	return g, nil
}
