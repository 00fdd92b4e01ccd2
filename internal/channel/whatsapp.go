package channel

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gemdesk/internal/config"
	"gemdesk/internal/domain"
)

// WhatsApp receives WhatsApp Business Cloud API webhook events and
// publishes them as inbound messages. The sender identity is the phone
// number.
type WhatsApp struct {
	cfg    config.MetaWebhookConfig
	bus    domain.MessageBus
	logger *slog.Logger
}

func NewWhatsApp(cfg config.MetaWebhookConfig, bus domain.MessageBus, logger *slog.Logger) *WhatsApp {
	return &WhatsApp{cfg: cfg, bus: bus, logger: logger}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Register mounts the verification and delivery handlers.
func (w *WhatsApp) Register(mux *http.ServeMux) {
	path := w.cfg.Path
	if path == "" {
		path = "/webhook/whatsapp"
	}
	mux.HandleFunc("GET "+path, metaVerificationHandler(w.Name(), w.cfg.VerifyToken, w.logger))
	mux.HandleFunc("POST "+path, w.handleIncoming)
	w.logger.Info("whatsapp webhook ready", "path", path)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifyMetaSignature(w.cfg.AppSecret, body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}

				w.logger.Info("whatsapp message received",
					"from", msg.From, "text_len", len(msg.Text.Body))

				w.bus.Publish(domain.InboundMessage{
					ID:          msg.ID,
					Channel:     domain.ChannelWhatsApp,
					SenderID:    msg.From,
					SenderName:  names[msg.From],
					Body:        msg.Text.Body,
					PhoneNumber: msg.From,
					ReceivedAt:  parseUnixTimestamp(msg.Timestamp),
				})
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// parseUnixTimestamp reads Meta's string epoch-seconds timestamps,
// falling back to now for malformed values.
func parseUnixTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string    `json:"wa_id"`
	Profile waProfile `json:"profile"`
}

type waProfile struct {
	Name string `json:"name"`
}

type waMessage struct {
	From      string  `json:"from"`
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Text      *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
