// Package event defines the change-notification envelope exchanged over the
// stream log, the closed set of typed event variants, and the dead-letter
// record for events that fail fatally.
//
// Events are immutable: they are created by upstream publishers, possibly
// delivered more than once, and never mutated by this service. Deduplication
// happens downstream against the watermark store, not here.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of change a notification describes.
type Type string

// Consumed event types (published upstream).
const (
	TypeClientsUpdated  Type = "clients_updated"
	TypeSalesUpdated    Type = "sales_updated"
	TypeStockUpdated    Type = "stock_updated"
	TypeBOMUpdated      Type = "bom_updated"
	TypeProductsUpdated Type = "products_updated"
)

// Published event types (emitted downstream after completed work).
const (
	TypeFeaturesUpdated Type = "features_updated"
	TypeBOMExploded     Type = "bom_exploded"
)

// Valid reports whether t is a member of the closed event type set.
func (t Type) Valid() bool {
	switch t {
	case TypeClientsUpdated, TypeSalesUpdated, TypeStockUpdated,
		TypeBOMUpdated, TypeProductsUpdated,
		TypeFeaturesUpdated, TypeBOMExploded:
		return true
	default:
		return false
	}
}

// IsDataUpdate reports whether t is a transactional data-update notification
// handled by the feature-engineering collaborator.
func (t Type) IsDataUpdate() bool {
	return t == TypeSalesUpdated || t == TypeStockUpdated || t == TypeProductsUpdated
}

// Envelope is the decoded form of one stream entry.
//
// Payload carries the variant-specific fields; use DataUpdate, BOMUpdate or
// ClientState to extract a validated typed view.
type Envelope struct {
	ID         string
	Type       Type
	ClientID   uuid.UUID
	OccurredAt time.Time
	Payload    map[string]any
}

// DataUpdate is the validated payload of sales_updated, stock_updated and
// products_updated events: which upstream table changed, and up to which
// source position.
type DataUpdate struct {
	TableName string
	// Position is the highest source ingestion time covered by this
	// notification. It is the candidate value for the watermark.
	Position time.Time
}

// BOMUpdate is the validated payload of bom_updated events.
type BOMUpdate struct {
	TableName string
	Position  time.Time
	// RootComponentIDs optionally restricts the explosion to the listed
	// finished goods. Empty means "all roots of the client's recipe graph".
	RootComponentIDs []string
}

// ClientState is the validated payload of clients_updated events. The event
// carries the full client state (event-carried state transfer), so applying
// it is an idempotent upsert.
type ClientState struct {
	Name     string
	Status   string
	Features map[string]bool
}
