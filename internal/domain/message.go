package domain

import "time"

// Channel identifies a messaging platform with its own identity scheme.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"  // identity: phone number
	ChannelInstagram Channel = "instagram" // identity: handle
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelInstagram
}

// InboundMessage is a customer message received from a channel.
// Immutable once received.
type InboundMessage struct {
	ID          string
	Channel     Channel
	SenderID    string
	SenderName  string
	Body        string
	PhoneNumber string // set for whatsapp
	Handle      string // set for instagram
	ReceivedAt  time.Time
}

// Direction marks who authored a conversation entry.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// MessageEntry is one entry in a per-contact conversation.
type MessageEntry struct {
	ID          string    `json:"id"`
	ContactKey  string    `json:"contact_key"`
	Direction   Direction `json:"direction"`
	Text        string    `json:"text"`
	Attachments []string  `json:"attachments,omitempty"` // server-assigned paths or data URIs
	OccurredAt  time.Time `json:"occurred_at"`
}

// EncodedPayload is an attachment converted to a transmittable form.
type EncodedPayload struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	DataURI  string `json:"data_uri"`
}

// PendingSend is a transient compose request. It exists only while the
// compose operation is in flight.
type PendingSend struct {
	ID             string
	Recipient      string
	Text           string
	AttachmentRefs []string // local file paths selected by the user
}

// SendRequest is the wire-level payload for the remote Send API.
type SendRequest struct {
	Recipient   string           `json:"recipient"`
	Text        string           `json:"text"`
	Attachments []EncodedPayload `json:"attachments,omitempty"`
}

// SendResult is the Send API confirmation.
type SendResult struct {
	Success    bool     `json:"success"`
	SavedPaths []string `json:"saved_paths,omitempty"`
}
