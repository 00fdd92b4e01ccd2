package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"gemdesk/internal/domain"
	"gemdesk/internal/identity"
)

type fakeLeadStore struct {
	created []domain.Lead
	updated map[string]domain.LeadPatch
	nextID  int
	fail    bool
}

func newFakeLeadStore() *fakeLeadStore {
	return &fakeLeadStore{updated: make(map[string]domain.LeadPatch)}
}

func (f *fakeLeadStore) CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	if f.fail {
		return domain.Lead{}, errors.New("store unavailable")
	}
	f.nextID++
	lead.ID = "lead-" + string(rune('0'+f.nextID))
	f.created = append(f.created, lead)
	return lead, nil
}

func (f *fakeLeadStore) UpdateLead(ctx context.Context, id string, partial domain.LeadPatch) (domain.Lead, error) {
	if f.fail {
		return domain.Lead{}, errors.New("store unavailable")
	}
	f.updated[id] = partial
	lead := domain.Lead{ID: id}
	if partial.Notes != nil {
		lead.Notes = *partial.Notes
	}
	if partial.LastContactedAt != nil {
		lead.LastContactedAt = *partial.LastContactedAt
	}
	return lead, nil
}

func (f *fakeLeadStore) ListLeads(ctx context.Context) ([]domain.Lead, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestReconcile_NoMatchCreatesLead(t *testing.T) {
	store := newFakeLeadStore()
	r := New(store, testLogger())

	msg := domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		SenderName:  "Priya Sharma",
		PhoneNumber: "+15550100",
		Body:        "Do you have gold bangles?",
		ReceivedAt:  time.Now(),
	}

	result, err := r.Reconcile(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Action != ActionCreated {
		t.Fatalf("expected created, got %s", result.Action)
	}
	if result.Lead.Name != "Priya Sharma" {
		t.Errorf("expected name from sender, got %q", result.Lead.Name)
	}
	if result.Lead.Phone != "+15550100" {
		t.Errorf("expected phone identity, got %q", result.Lead.Phone)
	}
	if result.Lead.ChannelOrigin != domain.ChannelWhatsApp {
		t.Errorf("expected whatsapp origin, got %s", result.Lead.ChannelOrigin)
	}
	if result.Lead.Status != domain.StatusNew {
		t.Errorf("expected initial pipeline stage, got %q", result.Lead.Status)
	}
	if !strings.Contains(result.Lead.Notes, "First message:") ||
		!strings.Contains(result.Lead.Notes, "gold bangles") {
		t.Errorf("expected first-message note, got %q", result.Lead.Notes)
	}
}

func TestReconcile_MatchUpdatesLead(t *testing.T) {
	store := newFakeLeadStore()
	r := New(store, testLogger())

	existing := domain.Lead{
		ID:    "lead-42",
		Name:  "Priya Sharma",
		Phone: "+15550100",
		Notes: `First message: "hello"`,
	}
	msg := domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		SenderName:  "Priya Sharma",
		PhoneNumber: "+15550100",
		Body:        "Still interested!",
		ReceivedAt:  time.Now(),
	}

	result, err := r.Reconcile(context.Background(), msg, []domain.Lead{existing})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Action != ActionUpdated {
		t.Fatalf("expected updated, got %s", result.Action)
	}

	patch, ok := store.updated["lead-42"]
	if !ok {
		t.Fatal("expected update against lead-42")
	}
	if patch.Notes == nil || !strings.Contains(*patch.Notes, `First message: "hello"`) {
		t.Error("previous notes must be preserved")
	}
	if patch.Notes == nil || !strings.Contains(*patch.Notes, "New message (") ||
		!strings.Contains(*patch.Notes, "Still interested!") {
		t.Errorf("expected appended message note, got %v", patch.Notes)
	}
	if patch.LastContactedAt == nil || !patch.LastContactedAt.Equal(msg.ReceivedAt) {
		t.Error("lastContactedAt must be bumped to the event time")
	}
	if len(store.created) != 0 {
		t.Error("no lead should be created on a match")
	}
}

func TestReconcile_InstagramMatchesByHandle(t *testing.T) {
	store := newFakeLeadStore()
	r := New(store, testLogger())

	leads := []domain.Lead{
		{ID: "lead-1", Phone: "+15550100"},       // phone must not match a handle
		{ID: "lead-2", Handle: "@gemcollector"},
	}
	msg := domain.InboundMessage{
		Channel:    domain.ChannelInstagram,
		Handle:     "@gemcollector",
		Body:       "love the new collection",
		ReceivedAt: time.Now(),
	}

	result, err := r.Reconcile(context.Background(), msg, leads)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Action != ActionUpdated || result.Lead.ID != "lead-2" {
		t.Fatalf("expected update on lead-2, got %+v", result)
	}
}

func TestReconcile_SameIdentityResolvesToSameLead(t *testing.T) {
	store := newFakeLeadStore()
	r := New(store, testLogger())

	msg := domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		SenderName:  "Arun",
		PhoneNumber: "+15550199",
		Body:        "first",
		ReceivedAt:  time.Now(),
	}

	first, err := r.Reconcile(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.Action != ActionCreated {
		t.Fatalf("expected created, got %s", first.Action)
	}

	msg.Body = "second"
	second, err := r.Reconcile(context.Background(), msg, []domain.Lead{first.Lead})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Action != ActionUpdated {
		t.Fatalf("expected updated, got %s", second.Action)
	}
	if second.Lead.ID != first.Lead.ID {
		t.Fatalf("same identity must resolve to same lead: %s vs %s", second.Lead.ID, first.Lead.ID)
	}
}

func TestReconcile_MissingIdentity(t *testing.T) {
	store := newFakeLeadStore()
	r := New(store, testLogger())

	_, err := r.Reconcile(context.Background(), domain.InboundMessage{Channel: domain.ChannelWhatsApp}, nil)
	if !errors.Is(err, identity.ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if len(store.created) != 0 {
		t.Error("no lead may be created without an identity")
	}
}

func TestReconcile_StoreFailurePropagates(t *testing.T) {
	store := newFakeLeadStore()
	store.fail = true
	r := New(store, testLogger())

	msg := domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		PhoneNumber: "+15550100",
		Body:        "hi",
		ReceivedAt:  time.Now(),
	}

	_, err := r.Reconcile(context.Background(), msg, nil)
	if err == nil {
		t.Fatal("expected error when the store rejects the upsert")
	}
}

func TestReconcile_BlankNameFallsBackToIdentity(t *testing.T) {
	store := newFakeLeadStore()
	r := New(store, testLogger())

	msg := domain.InboundMessage{
		Channel:    domain.ChannelInstagram,
		Handle:     "@anon",
		Body:       "hello",
		ReceivedAt: time.Now(),
	}

	result, err := r.Reconcile(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Lead.Name != "@anon" {
		t.Fatalf("expected identity as fallback name, got %q", result.Lead.Name)
	}
}
