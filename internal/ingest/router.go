// Package ingest is the entry point for inbound message events. The
// router normalizes each event, resolves its channel identity,
// reconciles it against the lead cache, and records the received
// message in the conversation log.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gemdesk/internal/bus"
	"gemdesk/internal/domain"
	"gemdesk/internal/identity"
	"gemdesk/internal/metrics"
	"gemdesk/internal/reconcile"

	"github.com/google/uuid"
)

// Router consumes the inbound bus. Publish is fire-and-forget for the
// channels; all reconciliation work happens here, off the webhook path.
type Router struct {
	bus        domain.MessageBus
	events     *bus.EventBus
	reconciler *reconcile.Reconciler
	cache      *Cache
	log        domain.ConversationLog
	logger     *slog.Logger
}

type RouterConfig struct {
	Bus        domain.MessageBus
	Events     *bus.EventBus
	Reconciler *reconcile.Reconciler
	Cache      *Cache
	Log        domain.ConversationLog
	Logger     *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		bus:        cfg.Bus,
		events:     cfg.Events,
		reconciler: cfg.Reconciler,
		cache:      cfg.Cache,
		log:        cfg.Log,
		logger:     cfg.Logger,
	}
}

// Run processes inbound messages until the context is cancelled or the
// bus is closed.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("ingestion router started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ingestion router stopping")
			return
		case msg, ok := <-r.bus.Subscribe():
			if !ok {
				return
			}
			r.handle(ctx, msg)
		}
	}
}

// handle reconciles one event. Failures are logged and the event is
// abandoned; there is no retry or dead-letter queue.
func (r *Router) handle(ctx context.Context, msg domain.InboundMessage) {
	key, err := identity.Resolve(msg)
	if err != nil {
		if errors.Is(err, identity.ErrNoIdentity) {
			r.logger.Warn("inbound event dropped: no usable identity",
				"channel", msg.Channel, "sender", msg.SenderID)
			metrics.MessagesDropped.Inc()
			r.events.Emit(bus.Event{
				Type:    bus.EventMessageDropped,
				Source:  "ingest",
				Payload: map[string]any{"channel": string(msg.Channel)},
			})
			return
		}
		r.logger.Error("identity resolution failed", "err", err)
		metrics.MessagesDropped.Inc()
		return
	}

	result, err := r.reconciler.Reconcile(ctx, msg, r.cache.Leads())
	if err != nil {
		r.logger.Error("reconciliation abandoned",
			"channel", msg.Channel, "identity", key.Value, "err", err)
		return
	}

	r.cache.UpsertLead(result.Lead)

	switch result.Action {
	case reconcile.ActionCreated:
		metrics.LeadsCreated.Inc()
	case reconcile.ActionUpdated:
		metrics.LeadsUpdated.Inc()
	}
	metrics.MessagesIngested.Inc()

	entry := domain.MessageEntry{
		ID:         uuid.NewString(),
		ContactKey: key.String(),
		Direction:  domain.DirectionReceived,
		Text:       msg.Body,
		OccurredAt: msg.ReceivedAt,
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	if err := r.log.Append(ctx, entry); err != nil {
		r.logger.Error("conversation append failed", "contact", key.String(), "err", err)
	} else {
		r.events.Emit(bus.Event{
			Type:   bus.EventConversationAppended,
			Source: "ingest",
			Payload: map[string]any{
				"contact": key.String(),
				"entry":   entry,
			},
		})
	}

	r.events.Emit(bus.Event{
		Type:   bus.EventMessageIngested,
		Source: "ingest",
		Payload: map[string]any{
			"channel": string(msg.Channel),
			"action":  string(result.Action),
			"lead":    result.Lead.ID,
		},
	})
	r.events.Emit(bus.Event{
		Type:    bus.EventLeadsChanged,
		Source:  "ingest",
		Payload: map[string]any{"count": len(r.cache.Leads())},
	})
}
