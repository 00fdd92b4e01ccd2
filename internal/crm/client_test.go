package crm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"gemdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, Token: "test-token", Logger: testLogger()})
}

func TestCreateLead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/leads" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}

		var lead domain.Lead
		if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
			t.Fatalf("decode: %v", err)
		}
		lead.ID = "lead-1"
		json.NewEncoder(w).Encode(lead)
	})

	created, err := c.CreateLead(context.Background(), domain.Lead{Name: "Priya", Phone: "+15550100"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "lead-1" {
		t.Fatalf("expected canonical record with id, got %+v", created)
	}
	if created.Name != "Priya" {
		t.Fatalf("expected name echoed back, got %q", created.Name)
	}
}

func TestUpdateLead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/leads/lead-7" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var patch domain.LeadPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if patch.Notes == nil {
			t.Error("expected notes in patch")
		}
		json.NewEncoder(w).Encode(domain.Lead{ID: "lead-7", Notes: *patch.Notes})
	})

	notes := "updated notes"
	updated, err := c.UpdateLead(context.Background(), "lead-7", domain.LeadPatch{Notes: &notes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Notes != "updated notes" {
		t.Fatalf("expected canonical notes, got %q", updated.Notes)
	}
}

func TestListLeadsAndOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/leads":
			json.NewEncoder(w).Encode([]domain.Lead{{ID: "l1"}, {ID: "l2"}})
		case "/orders":
			json.NewEncoder(w).Encode([]domain.Order{{ID: "o1"}})
		default:
			http.NotFound(w, r)
		}
	})

	leads, err := c.ListLeads(context.Background())
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("expected 2 leads, got %d", len(leads))
	}

	orders, err := c.ListOrders(context.Background())
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
}

func TestSend_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/send" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req domain.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		paths := make([]string, len(req.Attachments))
		for i, att := range req.Attachments {
			paths[i] = "/uploads/" + att.Name
		}
		json.NewEncoder(w).Encode(domain.SendResult{Success: true, SavedPaths: paths})
	})

	result, err := c.Send(context.Background(), domain.SendRequest{
		Recipient:   "+15550100",
		Attachments: []domain.EncodedPayload{{Name: "ring.jpg"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(result.SavedPaths) != 1 || result.SavedPaths[0] != "/uploads/ring.jpg" {
		t.Fatalf("unexpected saved paths: %v", result.SavedPaths)
	}
}

func TestSend_ServerReportedFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.SendResult{Success: false})
	})

	_, err := c.Send(context.Background(), domain.SendRequest{Recipient: "x", Text: "hi"})
	if err == nil {
		t.Fatal("expected error when server reports failure")
	}
}

func TestDo_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ListLeads(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ListLeads(ctx)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
