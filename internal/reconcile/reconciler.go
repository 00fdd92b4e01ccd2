// Package reconcile matches inbound messages against the lead
// collection and issues the corresponding create or update to the
// remote lead store.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"gemdesk/internal/domain"
	"gemdesk/internal/identity"
)

// Action says what the reconciler did with an inbound message.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Result carries the action taken and the canonical lead returned by
// the store.
type Result struct {
	Action Action
	Lead   domain.Lead
}

const noteTimeLayout = "Jan 2, 2006 15:04"

// Reconciler locates or creates the lead behind an inbound message.
type Reconciler struct {
	store  domain.LeadStore
	logger *slog.Logger
}

func New(store domain.LeadStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Reconcile matches msg against leads by its channel identity key.
// A match appends a timestamped note line and bumps lastContactedAt;
// a miss creates a new lead in the initial pipeline stage. All other
// lead fields belong to the CRUD screens and are left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, msg domain.InboundMessage, leads []domain.Lead) (Result, error) {
	key, err := identity.Resolve(msg)
	if err != nil {
		return Result{}, err
	}

	for _, lead := range leads {
		if !key.Matches(lead) {
			continue
		}

		notes := lead.Notes + fmt.Sprintf("\n\nNew message (%s): %q",
			msg.ReceivedAt.Format(noteTimeLayout), msg.Body)
		receivedAt := msg.ReceivedAt

		updated, err := r.store.UpdateLead(ctx, lead.ID, domain.LeadPatch{
			Notes:           &notes,
			LastContactedAt: &receivedAt,
		})
		if err != nil {
			return Result{}, fmt.Errorf("reconcile update: %w", err)
		}

		r.logger.Info("lead updated from inbound message",
			"lead", lead.ID, "channel", msg.Channel, "identity", key.Value)
		return Result{Action: ActionUpdated, Lead: updated}, nil
	}

	lead := domain.Lead{
		Name:            msg.SenderName,
		ChannelOrigin:   msg.Channel,
		Status:          domain.StatusNew,
		Notes:           fmt.Sprintf("First message: %q", msg.Body),
		LastContactedAt: msg.ReceivedAt,
	}
	if lead.Name == "" {
		lead.Name = key.Value
	}
	switch msg.Channel {
	case domain.ChannelWhatsApp:
		lead.Phone = key.Value
	case domain.ChannelInstagram:
		lead.Handle = key.Value
	}

	created, err := r.store.CreateLead(ctx, lead)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile create: %w", err)
	}

	r.logger.Info("lead created from inbound message",
		"lead", created.ID, "channel", msg.Channel, "identity", key.Value)
	return Result{Action: ActionCreated, Lead: created}, nil
}
