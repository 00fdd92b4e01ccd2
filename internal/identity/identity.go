// Package identity resolves channel-specific sender identities to the
// comparison keys used for lead matching. Each channel contributes
// exactly one identity key: phone number for WhatsApp, handle for
// Instagram.
package identity

import (
	"errors"
	"strings"

	"gemdesk/internal/domain"
)

// ErrNoIdentity is returned when an inbound event lacks a usable
// channel identity. Such events are dropped by the router.
var ErrNoIdentity = errors.New("inbound message has no usable channel identity")

// Key is a channel-scoped comparison key. Two keys are equal only when
// both channel and value match, so a phone number can never collide
// with a handle.
type Key struct {
	Channel domain.Channel
	Value   string
}

// Resolve extracts the identity key from an inbound message.
// Values are compared by raw string equality; only surrounding
// whitespace is trimmed. Phone formats are not normalized.
func Resolve(msg domain.InboundMessage) (Key, error) {
	switch msg.Channel {
	case domain.ChannelWhatsApp:
		phone := strings.TrimSpace(msg.PhoneNumber)
		if phone == "" {
			phone = strings.TrimSpace(msg.SenderID)
		}
		if phone == "" {
			return Key{}, ErrNoIdentity
		}
		return Key{Channel: domain.ChannelWhatsApp, Value: phone}, nil

	case domain.ChannelInstagram:
		handle := strings.TrimSpace(msg.Handle)
		if handle == "" {
			handle = strings.TrimSpace(msg.SenderID)
		}
		if handle == "" {
			return Key{}, ErrNoIdentity
		}
		return Key{Channel: domain.ChannelInstagram, Value: handle}, nil
	}

	return Key{}, ErrNoIdentity
}

// Matches reports whether a lead carries this identity key.
func (k Key) Matches(lead domain.Lead) bool {
	switch k.Channel {
	case domain.ChannelWhatsApp:
		return lead.Phone != "" && lead.Phone == k.Value
	case domain.ChannelInstagram:
		return lead.Handle != "" && lead.Handle == k.Value
	}
	return false
}

// String renders the key for logging and as the conversation contact key.
func (k Key) String() string {
	return string(k.Channel) + ":" + k.Value
}
