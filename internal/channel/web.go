package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gemdesk/internal/bus"
	"gemdesk/internal/compose"
	"gemdesk/internal/config"
	"gemdesk/internal/domain"
	"gemdesk/internal/metrics"
	"gemdesk/internal/notify"

	"github.com/gorilla/websocket"
)

// WebFeed is the dashboard's realtime surface. It pushes conversation
// and notification updates to connected clients and accepts compose,
// mark-read and dismiss commands back.
type WebFeed struct {
	cfg      config.WebConfig
	deriver  *notify.Deriver
	composer *compose.Composer
	log      domain.ConversationLog
	events   *bus.EventBus
	logger   *slog.Logger
	server   *http.Server

	mu      sync.RWMutex
	clients map[string]*feedClient
}

type feedClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// FeedMessage is the JSON protocol in both directions.
type FeedMessage struct {
	Type           string                    `json:"type"`
	Contact        string                    `json:"contact,omitempty"`
	Text           string                    `json:"text,omitempty"`
	Attachments    []string                  `json:"attachments,omitempty"`
	NotificationID string                    `json:"notification_id,omitempty"`
	Entries        []domain.MessageEntry     `json:"entries,omitempty"`
	Contacts       []string                  `json:"contacts,omitempty"`
	Notifications  []domain.NotificationItem `json:"notifications,omitempty"`
	Related        *domain.RelatedEntity     `json:"related,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

type WebFeedConfig struct {
	Config   config.WebConfig
	Deriver  *notify.Deriver
	Composer *compose.Composer
	Log      domain.ConversationLog
	Events   *bus.EventBus
	Logger   *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is same-host; tighten for remote deployments
	},
}

func NewWebFeed(cfg WebFeedConfig) *WebFeed {
	if cfg.Config.Path == "" {
		cfg.Config.Path = "/ws"
	}
	return &WebFeed{
		cfg:      cfg.Config,
		deriver:  cfg.Deriver,
		composer: cfg.Composer,
		log:      cfg.Log,
		events:   cfg.Events,
		logger:   cfg.Logger,
		clients:  make(map[string]*feedClient),
	}
}

// Run serves the feed until ctx is cancelled.
func (w *WebFeed) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleUpgrade)

	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Push fan-out: any conversation or feed change reaches every
	// connected dashboard.
	convID := w.events.On(bus.EventConversationAppended, func(evt bus.Event) {
		contact, _ := evt.Payload["contact"].(string)
		w.broadcast(FeedMessage{Type: "conversation_changed", Contact: contact})
	})
	notifID := w.events.On(bus.EventNotificationsDerived, func(bus.Event) {
		w.broadcast(FeedMessage{Type: "notifications", Notifications: w.deriver.Items()})
	})
	leadsID := w.events.On(bus.EventLeadsChanged, func(bus.Event) {
		w.broadcast(FeedMessage{Type: "leads_changed"})
	})

	w.logger.Info("dashboard feed starting", "addr", w.server.Addr, "path", w.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.events.Off(bus.EventConversationAppended, convID)
		w.events.Off(bus.EventNotificationsDerived, notifID)
		w.events.Off(bus.EventLeadsChanged, leadsID)
		w.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (w *WebFeed) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &feedClient{conn: conn}
	clientID := fmt.Sprintf("feed-%p", conn)

	w.mu.Lock()
	w.clients[clientID] = client
	w.mu.Unlock()
	metrics.FeedClients.Inc()

	w.logger.Info("dashboard client connected", "client_id", clientID)

	// Initial state push so the dashboard renders without a round trip.
	client.send(FeedMessage{Type: "notifications", Notifications: w.deriver.Items()})
	if contacts, err := w.log.Contacts(r.Context()); err == nil {
		client.send(FeedMessage{Type: "contacts", Contacts: contacts})
	}

	defer func() {
		w.mu.Lock()
		delete(w.clients, clientID)
		w.mu.Unlock()
		metrics.FeedClients.Dec()
		conn.Close()
		w.logger.Info("dashboard client disconnected", "client_id", clientID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var msg FeedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("invalid feed message", "err", err)
			continue
		}

		w.handleCommand(r.Context(), client, msg)
	}
}

func (w *WebFeed) handleCommand(ctx context.Context, client *feedClient, msg FeedMessage) {
	switch msg.Type {
	case "compose":
		// Compose is fire-and-forget from the dashboard's point of
		// view; the result arrives as a conversation_changed push.
		go func() {
			err := w.composer.Compose(context.WithoutCancel(ctx), domain.PendingSend{
				Recipient:      msg.Contact,
				Text:           msg.Text,
				AttachmentRefs: msg.Attachments,
			})
			if err != nil {
				client.send(FeedMessage{Type: "error", Contact: msg.Contact, Error: err.Error()})
			}
		}()

	case "history":
		entries, err := w.log.History(ctx, msg.Contact, 200)
		if err != nil {
			client.send(FeedMessage{Type: "error", Contact: msg.Contact, Error: err.Error()})
			return
		}
		client.send(FeedMessage{Type: "conversation", Contact: msg.Contact, Entries: entries})

	case "contacts":
		contacts, err := w.log.Contacts(ctx)
		if err != nil {
			client.send(FeedMessage{Type: "error", Error: err.Error()})
			return
		}
		client.send(FeedMessage{Type: "contacts", Contacts: contacts})

	case "mark_read":
		if err := w.deriver.MarkRead(ctx, msg.NotificationID); err != nil {
			client.send(FeedMessage{Type: "error", Error: err.Error()})
			return
		}
		client.send(FeedMessage{Type: "notifications", Notifications: w.deriver.Items()})

	case "dismiss":
		if err := w.deriver.Dismiss(ctx, msg.NotificationID); err != nil {
			client.send(FeedMessage{Type: "error", Error: err.Error()})
			return
		}
		client.send(FeedMessage{Type: "notifications", Notifications: w.deriver.Items()})

	case "notification_click":
		// The dashboard navigates with the related entity; clicking
		// also marks the item read.
		for _, item := range w.deriver.Items() {
			if item.ID == msg.NotificationID {
				if err := w.deriver.MarkRead(ctx, item.ID); err != nil {
					w.logger.Warn("mark read on click failed", "id", item.ID, "err", err)
				}
				related := item.Related
				client.send(FeedMessage{Type: "navigate", NotificationID: item.ID, Related: &related})
				return
			}
		}
		client.send(FeedMessage{Type: "error", Error: "unknown notification " + msg.NotificationID})

	default:
		w.logger.Debug("unhandled feed command", "type", msg.Type)
	}
}

func (w *WebFeed) broadcast(msg FeedMessage) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, client := range w.clients {
		client.send(msg)
	}
}

func (c *feedClient) send(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebFeed) closeAllClients() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, client := range w.clients {
		client.conn.Close()
		delete(w.clients, id)
	}
}
