package ingest

import (
	"sync"

	"gemdesk/internal/domain"
)

// Cache is the read-mostly local mirror of the remote lead and order
// collections. The poller replaces whole collections; the router only
// merges canonical upsert responses. Nothing else writes to it.
type Cache struct {
	mu     sync.RWMutex
	leads  []domain.Lead
	orders []domain.Order
}

func NewCache() *Cache {
	return &Cache{}
}

// Leads returns a copy of the cached lead collection.
func (c *Cache) Leads() []domain.Lead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Lead, len(c.leads))
	copy(out, c.leads)
	return out
}

// Orders returns a copy of the cached order collection.
func (c *Cache) Orders() []domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Order, len(c.orders))
	copy(out, c.orders)
	return out
}

func (c *Cache) SetLeads(leads []domain.Lead) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leads = leads
}

func (c *Cache) SetOrders(orders []domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = orders
}

// UpsertLead merges a confirmed server record into the cache, replacing
// the lead with the same ID or appending when new.
func (c *Cache) UpsertLead(lead domain.Lead) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.leads {
		if c.leads[i].ID == lead.ID {
			c.leads[i] = lead
			return
		}
	}
	c.leads = append(c.leads, lead)
}
