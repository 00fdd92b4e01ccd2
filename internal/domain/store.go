package domain

import (
	"context"
	"time"
)

// LeadStore is the remote CRM lead API. Both calls return the canonical
// persisted record; the engine mirrors that record into its local cache.
type LeadStore interface {
	CreateLead(ctx context.Context, lead Lead) (Lead, error)
	UpdateLead(ctx context.Context, id string, partial LeadPatch) (Lead, error)
	ListLeads(ctx context.Context) ([]Lead, error)
}

// LeadPatch carries only the fields the engine is allowed to touch.
type LeadPatch struct {
	Notes           *string    `json:"notes,omitempty"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
}

// OrderSource lists orders from the remote CRM.
type OrderSource interface {
	ListOrders(ctx context.Context) ([]Order, error)
}

// Sender is the remote Send API used for outbound messages.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// ConversationLog persists the per-contact message history.
type ConversationLog interface {
	Append(ctx context.Context, entry MessageEntry) error
	History(ctx context.Context, contactKey string, limit int) ([]MessageEntry, error)
	Contacts(ctx context.Context) ([]string, error)
	Close() error
}

// ReadState is the persisted per-notification flags, keyed by the
// deterministic notification ID.
type ReadState struct {
	Read      bool
	Dismissed bool
}

// ReadStateStore keeps notification read/dismissed flags across
// derivation passes.
type ReadStateStore interface {
	ReadStates(ctx context.Context) (map[string]ReadState, error)
	MarkRead(ctx context.Context, id string) error
	Dismiss(ctx context.Context, id string) error
}
