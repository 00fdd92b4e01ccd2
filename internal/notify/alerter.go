package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"gemdesk/internal/bus"
	"gemdesk/internal/config"
	"gemdesk/internal/domain"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
)

// Sink delivers a notification to a staff chat surface.
type Sink interface {
	Name() string
	Push(item domain.NotificationItem) error
}

// Alerter forwards newly derived notifications at or above the
// configured priority to every enabled sink. Each item is pushed once;
// re-derivation of an already-seen id does not re-alert.
type Alerter struct {
	sinks  []Sink
	min    domain.Priority
	events *bus.EventBus
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// NewAlerter builds the sinks named in cfg. A config with no enabled
// sink yields a working Alerter that pushes nowhere.
func NewAlerter(cfg config.AlertsConfig, events *bus.EventBus, logger *slog.Logger) (*Alerter, error) {
	var sinks []Sink

	if cfg.Telegram.Enabled {
		sink, err := newTelegramSink(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("telegram alert sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Slack.Enabled {
		sinks = append(sinks, newSlackSink(cfg.Slack))
	}
	if cfg.Discord.Enabled {
		sink, err := newDiscordSink(cfg.Discord)
		if err != nil {
			return nil, fmt.Errorf("discord alert sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	min := domain.Priority(cfg.MinPriority)
	if min == "" {
		min = domain.PriorityHigh
	}

	return &Alerter{
		sinks:  sinks,
		min:    min,
		events: events,
		logger: logger,
		seen:   make(map[string]bool),
	}, nil
}

// Run listens for derivation results until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	id := a.events.On(bus.EventNotificationsDerived, func(evt bus.Event) {
		items, ok := evt.Payload["items"].([]domain.NotificationItem)
		if !ok {
			return
		}
		a.Notify(items)
	})
	<-ctx.Done()
	a.events.Off(bus.EventNotificationsDerived, id)
	return ctx.Err()
}

// Notify pushes every not-yet-seen item meeting the priority floor.
func (a *Alerter) Notify(items []domain.NotificationItem) {
	for _, item := range items {
		if priorityRank(item.Priority) > priorityRank(a.min) {
			continue
		}

		a.mu.Lock()
		if a.seen[item.ID] {
			a.mu.Unlock()
			continue
		}
		a.seen[item.ID] = true
		a.mu.Unlock()

		for _, sink := range a.sinks {
			if err := sink.Push(item); err != nil {
				a.logger.Error("staff alert failed", "sink", sink.Name(), "item", item.ID, "err", err)
			}
		}
	}
}

func alertText(item domain.NotificationItem) string {
	return fmt.Sprintf("[%s] %s\n%s", strings.ToUpper(string(item.Priority)), item.Title, item.Message)
}

type telegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func newTelegramSink(cfg config.TelegramAlertConfig) (*telegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", cfg.ChatID, err)
	}
	return &telegramSink{bot: bot, chatID: chatID}, nil
}

func (t *telegramSink) Name() string { return "telegram" }

func (t *telegramSink) Push(item domain.NotificationItem) error {
	msg := tgbotapi.NewMessage(t.chatID, alertText(item))
	_, err := t.bot.Send(msg)
	return err
}

type slackSink struct {
	client  *slack.Client
	channel string
}

func newSlackSink(cfg config.SlackAlertConfig) *slackSink {
	return &slackSink{
		client:  slack.New(cfg.BotToken),
		channel: cfg.Channel,
	}
}

func (s *slackSink) Name() string { return "slack" }

func (s *slackSink) Push(item domain.NotificationItem) error {
	_, _, err := s.client.PostMessage(s.channel,
		slack.MsgOptionText(alertText(item), false),
	)
	return err
}

type discordSink struct {
	session   *discordgo.Session
	channelID string
}

func newDiscordSink(cfg config.DiscordAlertConfig) (*discordSink, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	// Pushes go over the REST API; no gateway connection is opened.
	return &discordSink{session: session, channelID: cfg.ChannelID}, nil
}

func (d *discordSink) Name() string { return "discord" }

func (d *discordSink) Push(item domain.NotificationItem) error {
	_, err := d.session.ChannelMessageSend(d.channelID, alertText(item))
	return err
}
