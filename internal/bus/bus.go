// Package bus is the internal publish/subscribe transport between pipeline
// components. Delivery is at-least-once with no ordering guarantee, so every
// handler must be idempotent (dedup by envelope ID).
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Topic names. Internal interface only; never exposed to clients.
const (
	TopicRequestsNew         = "requests.new"
	TopicAssignmentsCreate   = "assignments.create"
	TopicVolunteersStatus    = "volunteers.status"
	TopicSessionsEstablish   = "sessions.establish"
	TopicNotificationsSystem = "notifications.system"
)

var (
	// ErrClosed is returned by Publish after the bus shut down. Components
	// treat it as fatal and stop accepting new work.
	ErrClosed = errors.New("bus closed")
	// ErrUnknownKind is returned when an envelope carries a tag the topic's
	// union does not define.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Envelope is the wire unit on every topic: a message ID for dedup, a kind
// tag selecting the payload type, and the encoded payload.
type Envelope struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Handler processes one delivered envelope. A returned error is logged by the
// bus; it does not trigger redelivery.
type Handler func(ctx context.Context, env Envelope) error

// Bus is the publish/subscribe contract. Publish must not block the caller on
// slow subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(topic string, h Handler)
	Close() error
}

// NewEnvelope wraps a payload with a fresh message ID.
func NewEnvelope(kind string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{ID: uuid.NewString(), Kind: kind, Data: data}, nil
}

// DecodeInto unmarshals the envelope payload after checking the kind tag.
// A mismatched tag is a validation error, not something to skip silently.
func DecodeInto(env Envelope, wantKind string, out any) error {
	if env.Kind != wantKind {
		return fmt.Errorf("%w: got %q, want %q", ErrUnknownKind, env.Kind, wantKind)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return nil
}
