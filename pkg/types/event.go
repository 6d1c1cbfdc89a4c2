// Package types provides core data types for the Meridian pipeline.
package types

import "time"

// InteractionType categorizes a user-item interaction.
type InteractionType string

const (
	InteractionView      InteractionType = "view"
	InteractionClick     InteractionType = "click"
	InteractionPurchase  InteractionType = "purchase"
	InteractionAddToCart InteractionType = "add_to_cart"
)

// Valid reports whether the interaction type is one of the known values.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionView, InteractionClick, InteractionPurchase, InteractionAddToCart:
		return true
	}
	return false
}

// InteractionTypes returns all known interaction types.
func InteractionTypes() []InteractionType {
	return []InteractionType{InteractionView, InteractionClick, InteractionPurchase, InteractionAddToCart}
}

// InteractionEvent is a single user-item interaction as emitted by producers.
// Events are immutable once emitted.
type InteractionEvent struct {
	// UserID identifies the user who triggered the interaction
	UserID string `json:"user_id"`

	// ItemID identifies the item the user interacted with
	ItemID string `json:"item_id"`

	// Interaction is the kind of interaction (view, click, purchase, add_to_cart)
	Interaction InteractionType `json:"interaction_type"`

	// EventTime is when the interaction occurred (producer clock, UTC)
	EventTime time.Time `json:"event_time"`

	// Metadata carries optional string-valued attributes (session_id, device_type, ...)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProcessedEvent is an InteractionEvent stamped with the time it passed
// through the stream processor. Immutable once written.
type ProcessedEvent struct {
	InteractionEvent

	// ProcessedAt is when the record was decoded and validated
	ProcessedAt time.Time `json:"processed_at"`
}
