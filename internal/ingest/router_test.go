package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"gemdesk/internal/bus"
	"gemdesk/internal/domain"
	"gemdesk/internal/reconcile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeLeadStore struct {
	mu      sync.Mutex
	created []domain.Lead
	updated []string
	failAll bool
	nextID  int
}

func (f *fakeLeadStore) CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return domain.Lead{}, errors.New("store unavailable")
	}
	f.nextID++
	lead.ID = "lead-" + strconv.Itoa(f.nextID)
	f.created = append(f.created, lead)
	return lead, nil
}

func (f *fakeLeadStore) UpdateLead(ctx context.Context, id string, patch domain.LeadPatch) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return domain.Lead{}, errors.New("store unavailable")
	}
	f.updated = append(f.updated, id)
	lead := domain.Lead{ID: id}
	if patch.Notes != nil {
		lead.Notes = *patch.Notes
	}
	if patch.LastContactedAt != nil {
		lead.LastContactedAt = *patch.LastContactedAt
	}
	return lead, nil
}

func (f *fakeLeadStore) ListLeads(ctx context.Context) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store unavailable")
	}
	return append([]domain.Lead(nil), f.created...), nil
}

type memLog struct {
	mu      sync.Mutex
	entries []domain.MessageEntry
}

func (m *memLog) Append(ctx context.Context, entry domain.MessageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLog) History(ctx context.Context, contactKey string, limit int) ([]domain.MessageEntry, error) {
	return nil, nil
}

func (m *memLog) Contacts(ctx context.Context) ([]string, error) { return nil, nil }
func (m *memLog) Close() error                                   { return nil }

func (m *memLog) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestRouter(store *fakeLeadStore, log *memLog) (*Router, *bus.InMemoryBus, *Cache) {
	mbus := bus.New(16, testLogger())
	cache := NewCache()
	r := NewRouter(RouterConfig{
		Bus:        mbus,
		Events:     bus.NewEventBus(testLogger()),
		Reconciler: reconcile.New(store, testLogger()),
		Cache:      cache,
		Log:        log,
		Logger:     testLogger(),
	})
	return r, mbus, cache
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRouter_IngestsAndCreatesLead(t *testing.T) {
	store := &fakeLeadStore{}
	log := &memLog{}
	r, mbus, cache := newTestRouter(store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	mbus.Publish(domain.InboundMessage{
		ID:          "m1",
		Channel:     domain.ChannelWhatsApp,
		SenderID:    "15550100",
		SenderName:  "Priya Sharma",
		PhoneNumber: "+1 555 0100",
		Body:        "Is my ring ready?",
		ReceivedAt:  time.Now(),
	})

	waitFor(t, func() bool { return log.len() == 1 })

	store.mu.Lock()
	created := len(store.created)
	store.mu.Unlock()
	if created != 1 {
		t.Fatalf("expected 1 created lead, got %d", created)
	}
	if len(cache.Leads()) != 1 {
		t.Errorf("created lead not mirrored into cache")
	}

	log.mu.Lock()
	entry := log.entries[0]
	log.mu.Unlock()
	if entry.Direction != domain.DirectionReceived {
		t.Errorf("wrong direction %s", entry.Direction)
	}
	if entry.ContactKey != "whatsapp:+1 555 0100" {
		t.Errorf("unexpected contact key %q", entry.ContactKey)
	}
}

func TestRouter_SecondMessageSameIdentityUpdates(t *testing.T) {
	store := &fakeLeadStore{}
	log := &memLog{}
	r, mbus, cache := newTestRouter(store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	msg := domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		SenderID:    "15550100",
		SenderName:  "Priya Sharma",
		PhoneNumber: "15550100",
		Body:        "first",
		ReceivedAt:  time.Now(),
	}
	mbus.Publish(msg)
	waitFor(t, func() bool { return log.len() == 1 })

	msg.Body = "second"
	mbus.Publish(msg)
	waitFor(t, func() bool { return log.len() == 2 })

	store.mu.Lock()
	created, updated := len(store.created), len(store.updated)
	store.mu.Unlock()
	if created != 1 || updated != 1 {
		t.Errorf("same identity must update, not create: created=%d updated=%d", created, updated)
	}
	if len(cache.Leads()) != 1 {
		t.Errorf("cache should hold one lead, got %d", len(cache.Leads()))
	}
}

func TestRouter_DropsEventWithoutIdentity(t *testing.T) {
	store := &fakeLeadStore{}
	log := &memLog{}
	r, mbus, _ := newTestRouter(store, log)

	events := bus.NewEventBus(testLogger())
	r.events = events
	var dropped int
	var mu sync.Mutex
	events.On(bus.EventMessageDropped, func(bus.Event) {
		mu.Lock()
		dropped++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	mbus.Publish(domain.InboundMessage{Channel: domain.ChannelWhatsApp, Body: "anonymous"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dropped == 1
	})

	store.mu.Lock()
	created := len(store.created)
	store.mu.Unlock()
	if created != 0 {
		t.Errorf("no lead may be created for an identity-less event, got %d", created)
	}
	if log.len() != 0 {
		t.Errorf("dropped event must not reach the conversation log")
	}
}

func TestRouter_AbandonsEventOnStoreFailure(t *testing.T) {
	store := &fakeLeadStore{failAll: true}
	log := &memLog{}
	r, mbus, cache := newTestRouter(store, log)

	events := bus.NewEventBus(testLogger())
	r.events = events

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	mbus.Publish(domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		SenderID:    "15550100",
		PhoneNumber: "15550100",
		Body:        "hello",
	})

	// Give the router time to process and abandon.
	time.Sleep(100 * time.Millisecond)

	if len(cache.Leads()) != 0 {
		t.Errorf("failed reconciliation must not touch the cache")
	}
	if log.len() != 0 {
		t.Errorf("failed reconciliation must not log the message")
	}
}
