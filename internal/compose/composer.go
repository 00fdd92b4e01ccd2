// Package compose sequences outbound messages. A compose that carries
// both text and attachments is delivered as two message entries: the
// attachments first, then the text. The channel's delivery semantics
// require text and media to be distinct entries, and media must visibly
// precede the follow-up text in the conversation.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gemdesk/internal/bus"
	"gemdesk/internal/domain"
	"gemdesk/internal/metrics"

	"github.com/google/uuid"
)

// State is a composer session state. Transitions are validated by
// advance; the attachments-before-text rule is a structural property of
// the state machine, not a side effect of watching a loading flag.
type State string

const (
	StateIdle               State = "idle"
	StateEncoding           State = "encoding_attachments"
	StateSendingAttachments State = "sending_attachments"
	StateSendingText        State = "sending_text"
)

// legal transitions of one compose operation
var transitions = map[State][]State{
	StateIdle:               {StateEncoding, StateSendingText},
	StateEncoding:           {StateSendingAttachments},
	StateSendingAttachments: {StateSendingText, StateIdle},
	StateSendingText:        {StateIdle},
}

// ErrSendInFlight is returned when a compose is attempted for a contact
// that already has one in flight.
var ErrSendInFlight = errors.New("a send is already in flight for this contact")

// session is the per-contact compose state. One session exists per
// recipient, so concurrent composes to different contacts never
// interleave state.
type session struct {
	state    State
	heldText string
}

// Composer drives the outbound state machine: encode attachments, send
// them as their own entry, then flush any held text as a second entry.
type Composer struct {
	sender  domain.Sender
	encoder *Encoder
	log     domain.ConversationLog
	events  *bus.EventBus
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type ComposerConfig struct {
	Sender  domain.Sender
	Encoder *Encoder
	Log     domain.ConversationLog
	Events  *bus.EventBus
	Logger  *slog.Logger
}

func NewComposer(cfg ComposerConfig) *Composer {
	return &Composer{
		sender:   cfg.Sender,
		encoder:  cfg.Encoder,
		log:      cfg.Log,
		events:   cfg.Events,
		logger:   cfg.Logger,
		sessions: make(map[string]*session),
	}
}

// State reports the current state for a contact.
func (c *Composer) State(recipient string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[recipient]; ok {
		return s.state
	}
	return StateIdle
}

// Compose runs one complete compose operation for req.Recipient. It
// returns ErrSendInFlight when the contact's gate is held. On failure
// the conversation is left untouched and the gate is released so the
// user can retry manually; there is no automatic retry.
func (c *Composer) Compose(ctx context.Context, req domain.PendingSend) error {
	sess, err := c.acquire(req.Recipient)
	if err != nil {
		return err
	}
	// The gate is released whatever happens below.
	defer c.release(req.Recipient)

	if len(req.AttachmentRefs) == 0 {
		return c.sendTextOnly(ctx, sess, req)
	}
	return c.sendAttachmentsThenText(ctx, sess, req)
}

// acquire claims the in-flight gate for a contact.
func (c *Composer) acquire(recipient string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[recipient]
	if !ok {
		sess = &session{state: StateIdle}
		c.sessions[recipient] = sess
	}
	if sess.state != StateIdle {
		return nil, ErrSendInFlight
	}
	return sess, nil
}

// release returns a contact's session to Idle regardless of where the
// operation stopped.
func (c *Composer) release(recipient string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[recipient]; ok {
		sess.state = StateIdle
		sess.heldText = ""
	}
}

// advance moves a session to next, enforcing the legal transition set.
func (c *Composer) advance(sess *session, next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, allowed := range transitions[sess.state] {
		if allowed == next {
			sess.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", sess.state, next)
}

func (c *Composer) sendTextOnly(ctx context.Context, sess *session, req domain.PendingSend) error {
	if err := c.advance(sess, StateSendingText); err != nil {
		return err
	}

	result, err := c.doSend(ctx, domain.SendRequest{
		Recipient: req.Recipient,
		Text:      req.Text,
	})
	if err != nil {
		return err
	}

	c.appendEntry(ctx, req.Recipient, req.Text, result.SavedPaths)
	return c.advance(sess, StateIdle)
}

func (c *Composer) sendAttachmentsThenText(ctx context.Context, sess *session, req domain.PendingSend) error {
	if err := c.advance(sess, StateEncoding); err != nil {
		return err
	}

	// Capture any typed text now; it is held until the attachment
	// entry is confirmed and sent as its own message afterwards.
	c.mu.Lock()
	sess.heldText = req.Text
	c.mu.Unlock()

	payloads := c.encoder.EncodeAll(req.AttachmentRefs)
	if len(payloads) == 0 {
		return fmt.Errorf("no attachment could be encoded")
	}

	if err := c.advance(sess, StateSendingAttachments); err != nil {
		return err
	}

	result, err := c.doSend(ctx, domain.SendRequest{
		Recipient:   req.Recipient,
		Attachments: payloads, // attachments only, empty text
	})
	if err != nil {
		return err
	}

	c.appendEntry(ctx, req.Recipient, "", result.SavedPaths)

	// Leaving SendingAttachments is what flushes the held text.
	c.mu.Lock()
	held := sess.heldText
	sess.heldText = ""
	c.mu.Unlock()

	if held == "" {
		return c.advance(sess, StateIdle)
	}

	if err := c.advance(sess, StateSendingText); err != nil {
		return err
	}

	textResult, err := c.doSend(ctx, domain.SendRequest{
		Recipient: req.Recipient,
		Text:      held,
	})
	if err != nil {
		return err
	}

	c.appendEntry(ctx, req.Recipient, held, textResult.SavedPaths)
	return c.advance(sess, StateIdle)
}

// doSend issues one request against the Send API and records metrics.
func (c *Composer) doSend(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	start := time.Now()
	result, err := c.sender.Send(ctx, req)
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	metrics.SendsTotal.Inc()

	if err != nil {
		metrics.SendFailures.Inc()
		c.logger.Error("send failed", "recipient", req.Recipient, "err", err)
		c.events.Emit(bus.Event{
			Type:    bus.EventSendFailed,
			Source:  "compose",
			Payload: map[string]any{"recipient": req.Recipient},
		})
		return domain.SendResult{}, err
	}
	return result, nil
}

// appendEntry merges a confirmed send into the local conversation.
// Only confirmed sends mutate local state.
func (c *Composer) appendEntry(ctx context.Context, recipient, text string, savedPaths []string) {
	entry := domain.MessageEntry{
		ID:          uuid.NewString(),
		ContactKey:  recipient,
		Direction:   domain.DirectionSent,
		Text:        text,
		Attachments: savedPaths,
		OccurredAt:  time.Now(),
	}

	if err := c.log.Append(ctx, entry); err != nil {
		c.logger.Error("conversation append failed", "contact", recipient, "err", err)
		return
	}

	c.events.Emit(bus.Event{
		Type:   bus.EventSendCompleted,
		Source: "compose",
		Payload: map[string]any{
			"contact": recipient,
			"entry":   entry,
		},
	})
	c.events.Emit(bus.Event{
		Type:    bus.EventConversationAppended,
		Source:  "compose",
		Payload: map[string]any{"contact": recipient, "entry": entry},
	})
}
