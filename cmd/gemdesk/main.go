package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gemdesk/internal/bus"
	"gemdesk/internal/channel"
	"gemdesk/internal/compose"
	"gemdesk/internal/config"
	"gemdesk/internal/crm"
	"gemdesk/internal/ingest"
	"gemdesk/internal/metrics"
	"gemdesk/internal/notify"
	"gemdesk/internal/reconcile"
	"gemdesk/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "gemdesk",
		Short: "GemDesk: omnichannel messaging engine for the jewelry CRM",
		Long:  "GemDesk ingests WhatsApp and Instagram messages, reconciles them against the CRM lead base, sequences outbound sends, and derives the staff notification feed.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.gemdesk/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(demoCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(config.ExpandPath(cfg.Store.DBPath)), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "db", cfg.Store.DBPath)
			return nil
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (webhooks + dashboard feed + notification deriver)",
		Long:  "Starts the webhook listener for enabled channels, the CRM cache poller, the notification deriver and staff alerter, and the dashboard websocket feed. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(false)
		},
	}
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Start in demo mode (synthetic inbound messages, no webhooks)",
		Long:  "Runs the full engine against the configured CRM but replaces the webhook listener with a fixture-driven message simulator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(true)
		},
	}
}

func runEngine(demo bool) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.BusSize, logger)
	events := bus.NewEventBus(logger)

	localStore, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer localStore.Close()

	crmClient := crm.NewClient(crm.ClientConfig{
		BaseURL: cfg.CRM.APIBase,
		Token:   cfg.CRM.APIToken,
		Timeout: time.Duration(cfg.CRM.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	cache := ingest.NewCache()

	router := ingest.NewRouter(ingest.RouterConfig{
		Bus:        messageBus,
		Events:     events,
		Reconciler: reconcile.New(crmClient, logger),
		Cache:      cache,
		Log:        localStore,
		Logger:     logger,
	})
	go router.Run(ctx)

	poller := ingest.NewPoller(ingest.PollerConfig{
		Leads:    crmClient,
		Orders:   crmClient,
		Cache:    cache,
		Events:   events,
		Interval: time.Duration(cfg.CRM.RefreshIntervalS) * time.Second,
		Logger:   logger,
	})
	go poller.Run(ctx)

	composer := compose.NewComposer(compose.ComposerConfig{
		Sender:  crmClient,
		Encoder: compose.NewEncoder(logger),
		Log:     localStore,
		Events:  events,
		Logger:  logger,
	})

	deriver := notify.NewDeriver(notify.DeriverConfig{
		Cache:    cache,
		States:   localStore,
		Events:   events,
		CronSpec: cfg.Notify.RefreshCron,
		Logger:   logger,
	})
	go func() {
		if err := deriver.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("notification deriver error", "err", err)
		}
	}()

	alerter, err := notify.NewAlerter(cfg.Notify.Alerts, events, logger)
	if err != nil {
		return fmt.Errorf("staff alerter: %w", err)
	}
	go alerter.Run(ctx)

	if demo {
		sim, err := ingest.NewSimulator(ingest.SimulatorConfig{
			Bus:          messageBus,
			Interval:     time.Duration(cfg.Demo.IntervalSeconds) * time.Second,
			FixturesPath: cfg.Demo.FixturesPath,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("demo simulator: %w", err)
		}
		go sim.Run(ctx)
		logger.Info("demo mode: webhook listener disabled")
	} else {
		webhooks := channel.NewWebhookServer(cfg.Channels.Webhook, logger)
		mounted := 0
		if cfg.Channels.WhatsApp.Enabled {
			webhooks.Mount(channel.NewWhatsApp(cfg.Channels.WhatsApp, messageBus, logger))
			mounted++
		}
		if cfg.Channels.Instagram.Enabled {
			webhooks.Mount(channel.NewInstagram(cfg.Channels.Instagram, messageBus, logger))
			mounted++
		}
		if cfg.Metrics.Enabled {
			webhooks.Handle(cfg.Metrics.Endpoint, metrics.Collector.Handler())
		}
		if mounted == 0 && !cfg.Metrics.Enabled {
			logger.Warn("no channel enabled; webhook listener not started")
		} else {
			go func() {
				if err := webhooks.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("webhook server error", "err", err)
				}
			}()
		}
	}

	if cfg.Channels.Web.Enabled {
		feed := channel.NewWebFeed(channel.WebFeedConfig{
			Config:   cfg.Channels.Web,
			Deriver:  deriver,
			Composer: composer,
			Log:      localStore,
			Events:   events,
			Logger:   logger,
		})
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("dashboard feed error", "err", err)
			}
		}()
	}

	logger.Info("gemdesk started", "version", version, "demo", demo)

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and CRM connectivity status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			crmClient := crm.NewClient(crm.ClientConfig{
				BaseURL: cfg.CRM.APIBase,
				Token:   cfg.CRM.APIToken,
				Timeout: time.Duration(cfg.CRM.TimeoutSeconds) * time.Second,
				Logger:  logger,
			})
			leads, err := crmClient.ListLeads(ctx)
			if err != nil {
				logger.Info("crm", "base", cfg.CRM.APIBase, "reachable", false, "err", err)
				return nil
			}
			logger.Info("crm", "base", cfg.CRM.APIBase, "reachable", true, "leads", len(leads))

			logger.Info("channels",
				"whatsapp", cfg.Channels.WhatsApp.Enabled,
				"instagram", cfg.Channels.Instagram.Enabled,
				"web", cfg.Channels.Web.Enabled)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. crm.apiBase)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.whatsapp.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
