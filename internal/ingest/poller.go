package ingest

import (
	"context"
	"log/slog"
	"time"

	"gemdesk/internal/bus"
	"gemdesk/internal/domain"
)

// Poller periodically refreshes the lead and order cache from the
// remote CRM. Each successful refresh emits the corresponding change
// event so the notification deriver and the web feed recompute.
type Poller struct {
	leads    domain.LeadStore
	orders   domain.OrderSource
	cache    *Cache
	events   *bus.EventBus
	interval time.Duration
	logger   *slog.Logger
}

type PollerConfig struct {
	Leads    domain.LeadStore
	Orders   domain.OrderSource
	Cache    *Cache
	Events   *bus.EventBus
	Interval time.Duration
	Logger   *slog.Logger
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Poller{
		leads:    cfg.Leads,
		orders:   cfg.Orders,
		cache:    cfg.Cache,
		events:   cfg.Events,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}
}

// Run refreshes immediately, then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("cache poller started", "interval", p.interval)
	p.RefreshOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("cache poller stopping")
			return
		case <-ticker.C:
			p.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce pulls both collections. A failed pull keeps the previous
// cache contents; the engine favors availability over freshness.
func (p *Poller) RefreshOnce(ctx context.Context) {
	if leads, err := p.leads.ListLeads(ctx); err != nil {
		p.logger.Warn("lead cache refresh failed", "err", err)
	} else {
		p.cache.SetLeads(leads)
		p.events.Emit(bus.Event{
			Type:    bus.EventLeadsChanged,
			Source:  "poller",
			Payload: map[string]any{"count": len(leads)},
		})
	}

	if orders, err := p.orders.ListOrders(ctx); err != nil {
		p.logger.Warn("order cache refresh failed", "err", err)
	} else {
		p.cache.SetOrders(orders)
		p.events.Emit(bus.Event{
			Type:    bus.EventOrdersChanged,
			Source:  "poller",
			Payload: map[string]any{"count": len(orders)},
		})
	}
}
