package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			BusSize:  100,
		},
		CRM: CRMConfig{
			APIBase:          "http://localhost:4000/api",
			TimeoutSeconds:   30,
			RefreshIntervalS: 60,
		},
		Channels: ChannelsConfig{
			WhatsApp: MetaWebhookConfig{
				Enabled: false,
				Path:    "/webhook/whatsapp",
			},
			Instagram: MetaWebhookConfig{
				Enabled: false,
				Path:    "/webhook/instagram",
			},
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
				Path:    "/ws",
			},
			Webhook: WebhookConfig{
				Host: "0.0.0.0",
				Port: 8443,
			},
		},
		Store: StoreConfig{
			DBPath: "~/.gemdesk/gemdesk.db",
		},
		Notify: NotifyConfig{
			RefreshCron: "5 0 * * *", // shortly after midnight, local time
			Alerts: AlertsConfig{
				MinPriority: "high",
			},
		},
		Demo: DemoConfig{
			IntervalSeconds: 15,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
