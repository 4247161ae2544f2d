// Package audit captures the node's compliance trail: message exchange,
// handshakes, and seal lifecycle events. Events are emitted from domain
// logic without blocking it and fanned out to a sink by a worker.
package audit

import "time"

// EventType classifies audit events.
type EventType string

const (
	MessageSent        EventType = "message_sent"
	MessageReceived    EventType = "message_received"
	MessageRejected    EventType = "message_rejected"
	HandshakeCompleted EventType = "handshake_completed"
	HandshakeFailed    EventType = "handshake_failed"
	SealWritten        EventType = "seal_written"
	SealConfirmed      EventType = "seal_confirmed"
	ContactRegistered  EventType = "contact_registered"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	ID      string            `json:"id"`
	Type    EventType         `json:"type"`
	Time    time.Time         `json:"time"`
	Actor   string            `json:"actor,omitempty"`
	Subject string            `json:"subject,omitempty"`
	Detail  map[string]string `json:"detail,omitempty"`
}
