// Package notify derives the staff notification feed from the lead and
// order collections and forwards high-priority items to staff chat
// sinks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gemdesk/internal/bus"
	"gemdesk/internal/domain"
	"gemdesk/internal/ingest"
	"gemdesk/internal/metrics"

	"github.com/robfig/cron/v3"
)

// deliveryWindow are the order statuses that make an upcoming delivery
// worth surfacing.
var deliveryWindow = map[string]bool{
	domain.OrderStatusReady:        true,
	domain.OrderStatusInProduction: true,
}

// closedOrder are the statuses that silence the overdue trigger.
var closedOrder = map[string]bool{
	domain.OrderStatusDelivered: true,
	domain.OrderStatusCancelled: true,
}

// Deriver recomputes the notification feed whenever the lead or order
// collections change, and once per day boundary since several triggers
// depend on "today". Item ids are deterministic so read and dismissed
// state survives re-derivation.
type Deriver struct {
	cache  *ingest.Cache
	states domain.ReadStateStore
	events *bus.EventBus
	logger *slog.Logger
	now    func() time.Time

	cronSpec string
	cron     *cron.Cron

	mu    sync.RWMutex
	items []domain.NotificationItem
}

type DeriverConfig struct {
	Cache    *ingest.Cache
	States   domain.ReadStateStore
	Events   *bus.EventBus
	CronSpec string // day-boundary refresh, e.g. "5 0 * * *"
	Logger   *slog.Logger
	Now      func() time.Time // nil means time.Now
}

func NewDeriver(cfg DeriverConfig) *Deriver {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Deriver{
		cache:    cfg.Cache,
		states:   cfg.States,
		events:   cfg.Events,
		logger:   cfg.Logger,
		now:      now,
		cronSpec: cfg.CronSpec,
	}
}

// Run recomputes once at startup, then on every collection change and
// on the day-boundary cron tick, until ctx is cancelled.
func (d *Deriver) Run(ctx context.Context) error {
	d.refresh(ctx)

	onChange := func(bus.Event) { d.refresh(ctx) }
	d.events.On(bus.EventLeadsChanged, onChange)
	d.events.On(bus.EventOrdersChanged, onChange)

	if d.cronSpec != "" {
		d.cron = cron.New()
		if _, err := d.cron.AddFunc(d.cronSpec, func() { d.refresh(ctx) }); err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", d.cronSpec, err)
		}
		d.cron.Start()
	}

	<-ctx.Done()
	if d.cron != nil {
		d.cron.Stop()
	}
	return ctx.Err()
}

// Items returns the current feed snapshot.
func (d *Deriver) Items() []domain.NotificationItem {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.NotificationItem, len(d.items))
	copy(out, d.items)
	return out
}

// MarkRead persists the read flag and updates the snapshot in place.
func (d *Deriver) MarkRead(ctx context.Context, id string) error {
	if err := d.states.MarkRead(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.items {
		if d.items[i].ID == id {
			d.items[i].Read = true
		}
	}
	return nil
}

// Dismiss persists the dismissal and drops the item from the snapshot.
func (d *Deriver) Dismiss(ctx context.Context, id string) error {
	if err := d.states.Dismiss(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.items[:0]
	for _, item := range d.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	d.items = kept
	return nil
}

func (d *Deriver) refresh(ctx context.Context) {
	items := Derive(d.cache.Leads(), d.cache.Orders(), d.now())
	metrics.DerivationPasses.Inc()

	states, err := d.states.ReadStates(ctx)
	if err != nil {
		// Persisted flags are unavailable; serve the fresh list
		// rather than nothing.
		d.logger.Error("read-state load failed", "err", err)
		states = nil
	}

	merged := items[:0]
	for _, item := range items {
		if st, ok := states[item.ID]; ok {
			if st.Dismissed {
				continue
			}
			item.Read = st.Read
		}
		merged = append(merged, item)
	}

	d.mu.Lock()
	d.items = merged
	d.mu.Unlock()

	d.events.Emit(bus.Event{
		Type:    bus.EventNotificationsDerived,
		Source:  "notify",
		Payload: map[string]any{"items": merged, "count": len(merged)},
	})
	d.logger.Debug("notification feed recomputed", "items", len(merged))
}

// Derive evaluates the calendar triggers against the given collections.
// All date comparisons are at day granularity; birthday and anniversary
// ignore the year. Each lead or order contributes at most one item per
// trigger, and ids are stable across passes.
func Derive(leads []domain.Lead, orders []domain.Order, now time.Time) []domain.NotificationItem {
	today := truncateDay(now)
	var items []domain.NotificationItem

	for _, lead := range leads {
		if sameMonthDay(lead.DateOfBirth, today) {
			items = append(items, domain.NotificationItem{
				ID:       string(domain.KindBirthday) + "-" + lead.ID,
				Kind:     domain.KindBirthday,
				Title:    "Birthday today",
				Message:  fmt.Sprintf("%s has a birthday today. A personal wish goes a long way.", lead.Name),
				Priority: domain.PriorityMedium,
				Related:  domain.RelatedEntity{Type: domain.EntityLead, ID: lead.ID},
			})
		}
		if sameMonthDay(lead.MarriageDate, today) {
			items = append(items, domain.NotificationItem{
				ID:       string(domain.KindAnniversary) + "-" + lead.ID,
				Kind:     domain.KindAnniversary,
				Title:    "Anniversary today",
				Message:  fmt.Sprintf("%s celebrates a wedding anniversary today. Consider a gifting suggestion.", lead.Name),
				Priority: domain.PriorityHigh,
				Related:  domain.RelatedEntity{Type: domain.EntityLead, ID: lead.ID},
			})
		}
	}

	for _, order := range orders {
		if order.ExpectedDelivery == nil {
			continue
		}
		due := truncateDay(*order.ExpectedDelivery)

		if deliveryWindow[order.Status] {
			switch {
			case due.Equal(today):
				items = append(items, deliveryItem(order, domain.KindDeliveryDueToday,
					"Delivery due today", domain.PriorityHigh))
			case due.Equal(today.AddDate(0, 0, 1)):
				items = append(items, deliveryItem(order, domain.KindDeliveryDueTomorrow,
					"Delivery due tomorrow", domain.PriorityMedium))
			case due.Equal(today.AddDate(0, 0, 2)):
				items = append(items, deliveryItem(order, domain.KindDeliverySoon,
					"Delivery coming up", domain.PriorityLow))
			}
		}

		if !closedOrder[order.Status] && due.Before(today) {
			items = append(items, deliveryItem(order, domain.KindOverdue,
				"Order overdue", domain.PriorityHigh))
		}
	}

	// Stable presentation order: high priority first, ties by id.
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := priorityRank(items[i].Priority), priorityRank(items[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func deliveryItem(order domain.Order, kind domain.NotificationKind, title string, priority domain.Priority) domain.NotificationItem {
	return domain.NotificationItem{
		ID:       string(kind) + "-" + order.ID,
		Kind:     kind,
		Title:    title,
		Message:  fmt.Sprintf("%s for %s (%s).", title, order.CustomerName, order.ItemDescription),
		Priority: priority,
		Related:  domain.RelatedEntity{Type: domain.EntityOrder, ID: order.ID},
	}
}

func priorityRank(p domain.Priority) int {
	switch p {
	case domain.PriorityHigh:
		return 0
	case domain.PriorityMedium:
		return 1
	default:
		return 2
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameMonthDay(t *time.Time, today time.Time) bool {
	if t == nil {
		return false
	}
	return t.Month() == today.Month() && t.Day() == today.Day()
}
