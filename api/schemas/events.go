package schemas

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// -- Status Events --
// Discrete events pushed to the host application's status sink. Every
// transition and diagnostic carries enough context (profile id, timestamp,
// message) to reconstruct a timeline without consulting logs.

// EventType categorizes a StatusEvent.
type EventType string

const (
	EventStateTransition EventType = "STATE_TRANSITION"
	EventTicketFall      EventType = "TICKET_FALL"
	EventPurchaseSuccess EventType = "PURCHASE_SUCCESS"
)

// StatusEvent is one discrete engine event.
type StatusEvent struct {
	ID        string                 `json:"id"`
	ProfileID string                 `json:"profile_id"`
	Type      EventType              `json:"type"`
	State     ProfileState           `json:"state,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewStateEvent builds a state-transition event.
func NewStateEvent(profileID string, state ProfileState, message string) StatusEvent {
	return StatusEvent{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Type:      EventStateTransition,
		State:     state,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewTicketFallEvent builds a ticket-fall diagnostic event. The payload is the
// analyzer's raw view of what became sellable.
func NewTicketFallEvent(profileID string, payload map[string]interface{}) StatusEvent {
	return StatusEvent{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Type:      EventTicketFall,
		Message:   "ticket fall detected",
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewPurchaseEvent builds a purchase-success event.
func NewPurchaseEvent(profileID string, message string) StatusEvent {
	return StatusEvent{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Type:      EventPurchaseSuccess,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// -- Component Interfaces --
// Shared interfaces live here so components depend on this package instead of
// each other.

// StatusSink receives engine events. Implementations must tolerate concurrent
// publishers and must never block a monitoring loop's progress.
type StatusSink interface {
	Publish(event StatusEvent)
}

// TabHandle is the engine's read-only view of one remote-debugged browser
// tab. The tab itself is owned by the external provisioning layer; the engine
// only reads from it and must tolerate the handle going away mid-flight.
type TabHandle interface {
	// Cookies lists every cookie visible to the tab.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// Evaluate runs a read-only expression in page context and decodes the
	// result into out. Out may be nil when the result is irrelevant.
	Evaluate(ctx context.Context, expression string, out interface{}) error
}
