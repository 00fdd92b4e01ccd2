package identity

import (
	"errors"
	"testing"

	"gemdesk/internal/domain"
)

func TestResolve_WhatsAppPhone(t *testing.T) {
	key, err := Resolve(domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		PhoneNumber: "+15550100",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key.Channel != domain.ChannelWhatsApp || key.Value != "+15550100" {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestResolve_WhatsAppFallsBackToSenderID(t *testing.T) {
	key, err := Resolve(domain.InboundMessage{
		Channel:  domain.ChannelWhatsApp,
		SenderID: "15550100",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key.Value != "15550100" {
		t.Fatalf("expected sender ID fallback, got %q", key.Value)
	}
}

func TestResolve_InstagramHandle(t *testing.T) {
	key, err := Resolve(domain.InboundMessage{
		Channel: domain.ChannelInstagram,
		Handle:  "@goldlover",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key.Channel != domain.ChannelInstagram || key.Value != "@goldlover" {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestResolve_TrimsWhitespace(t *testing.T) {
	key, err := Resolve(domain.InboundMessage{
		Channel:     domain.ChannelWhatsApp,
		PhoneNumber: "  +15550100  ",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key.Value != "+15550100" {
		t.Fatalf("expected trimmed value, got %q", key.Value)
	}
}

func TestResolve_MissingIdentity(t *testing.T) {
	_, err := Resolve(domain.InboundMessage{Channel: domain.ChannelWhatsApp})
	if !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestResolve_UnknownChannel(t *testing.T) {
	_, err := Resolve(domain.InboundMessage{Channel: "telegram", SenderID: "x"})
	if !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity for unknown channel, got %v", err)
	}
}

func TestMatches_PhonePerChannel(t *testing.T) {
	lead := domain.Lead{Phone: "+15550100", Handle: "@goldlover"}

	waKey := Key{Channel: domain.ChannelWhatsApp, Value: "+15550100"}
	if !waKey.Matches(lead) {
		t.Error("whatsapp key should match lead phone")
	}

	// Same value on the wrong channel must not match.
	igKey := Key{Channel: domain.ChannelInstagram, Value: "+15550100"}
	if igKey.Matches(lead) {
		t.Error("instagram key must not match against phone")
	}
}

func TestMatches_EmptyLeadField(t *testing.T) {
	lead := domain.Lead{}
	key := Key{Channel: domain.ChannelWhatsApp, Value: ""}
	if key.Matches(lead) {
		t.Error("empty values must not match")
	}
}

func TestMatches_RawEquality(t *testing.T) {
	// No phone normalization: formatting differences do not match.
	lead := domain.Lead{Phone: "+1 555 0100"}
	key := Key{Channel: domain.ChannelWhatsApp, Value: "+15550100"}
	if key.Matches(lead) {
		t.Error("differently formatted phone must not match under raw equality")
	}
}

func TestKeyString(t *testing.T) {
	key := Key{Channel: domain.ChannelInstagram, Value: "@ring"}
	if key.String() != "instagram:@ring" {
		t.Fatalf("unexpected string: %s", key.String())
	}
}
