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

// Instagram receives Instagram Messaging webhook events. The sender
// identity is the account handle when the payload carries one; the
// scoped sender id otherwise.
type Instagram struct {
	cfg    config.MetaWebhookConfig
	bus    domain.MessageBus
	logger *slog.Logger
}

func NewInstagram(cfg config.MetaWebhookConfig, bus domain.MessageBus, logger *slog.Logger) *Instagram {
	return &Instagram{cfg: cfg, bus: bus, logger: logger}
}

func (i *Instagram) Name() string { return "instagram" }

func (i *Instagram) Register(mux *http.ServeMux) {
	path := i.cfg.Path
	if path == "" {
		path = "/webhook/instagram"
	}
	mux.HandleFunc("GET "+path, metaVerificationHandler(i.Name(), i.cfg.VerifyToken, i.logger))
	mux.HandleFunc("POST "+path, i.handleIncoming)
	i.logger.Info("instagram webhook ready", "path", path)
}

func (i *Instagram) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if i.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifyMetaSignature(i.cfg.AppSecret, body, sig) {
			i.logger.Warn("instagram invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload igPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		i.logger.Warn("instagram bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, event := range entry.Messaging {
			if event.Message == nil || event.Message.Text == "" {
				continue
			}

			i.logger.Info("instagram message received",
				"from", event.Sender.ID, "text_len", len(event.Message.Text))

			i.bus.Publish(domain.InboundMessage{
				ID:         event.Message.MID,
				Channel:    domain.ChannelInstagram,
				SenderID:   event.Sender.ID,
				SenderName: event.Sender.Username,
				Body:       event.Message.Text,
				Handle:     event.Sender.Username,
				ReceivedAt: parseEpochMillis(event.Timestamp),
			})
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// parseEpochMillis reads Instagram's millisecond timestamps.
func parseEpochMillis(raw json.Number) time.Time {
	millis, err := strconv.ParseInt(raw.String(), 10, 64)
	if err != nil || millis <= 0 {
		return time.Now()
	}
	return time.UnixMilli(millis)
}

// --- Instagram webhook payload types ---

type igPayload struct {
	Object string    `json:"object"`
	Entry  []igEntry `json:"entry"`
}

type igEntry struct {
	ID        string        `json:"id"`
	Messaging []igMessaging `json:"messaging"`
}

type igMessaging struct {
	Sender    igParty     `json:"sender"`
	Recipient igParty     `json:"recipient"`
	Timestamp json.Number `json:"timestamp"`
	Message   *igMessage  `json:"message,omitempty"`
}

type igParty struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type igMessage struct {
	MID  string `json:"mid"`
	Text string `json:"text"`
}
