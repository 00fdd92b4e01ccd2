package ingest

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gemdesk/internal/domain"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixture is one synthetic inbound message in the demo fixture set.
type Fixture struct {
	Channel     string `yaml:"channel"`
	SenderID    string `yaml:"senderId"`
	SenderName  string `yaml:"senderName"`
	PhoneNumber string `yaml:"phoneNumber,omitempty"`
	Handle      string `yaml:"handle,omitempty"`
	Body        string `yaml:"body"`
}

// Simulator injects synthetic inbound messages on a fixed interval,
// cycling through the fixture set. It exists for offline demos only and
// is wired exclusively by the demo command, never by gateway.
type Simulator struct {
	bus      domain.MessageBus
	fixtures []Fixture
	interval time.Duration
	logger   *slog.Logger
}

type SimulatorConfig struct {
	Bus          domain.MessageBus
	Interval     time.Duration
	FixturesPath string // optional; empty uses the embedded set
	Logger       *slog.Logger
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	data := defaultFixtures
	if cfg.FixturesPath != "" {
		fileData, err := os.ReadFile(cfg.FixturesPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read fixtures %s: %w", cfg.FixturesPath, err)
		}
		data = fileData
	}

	var fixtures []Fixture
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("cannot parse fixtures: %w", err)
	}
	if len(fixtures) == 0 {
		return nil, fmt.Errorf("fixture set is empty")
	}

	return &Simulator{
		bus:      cfg.Bus,
		fixtures: fixtures,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}, nil
}

// Run publishes one fixture per tick until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	s.logger.Info("demo simulator started",
		"fixtures", len(s.fixtures), "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("demo simulator stopping")
			return
		case now := <-ticker.C:
			f := s.fixtures[next]
			next = (next + 1) % len(s.fixtures)

			s.bus.Publish(domain.InboundMessage{
				ID:          uuid.NewString(),
				Channel:     domain.Channel(f.Channel),
				SenderID:    f.SenderID,
				SenderName:  f.SenderName,
				PhoneNumber: f.PhoneNumber,
				Handle:      f.Handle,
				Body:        f.Body,
				ReceivedAt:  now,
			})
		}
	}
}
