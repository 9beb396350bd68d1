package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		Store: StoreConfig{
			DBPath: "~/.wabridge/wabridge.db",
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 5,
		},
		WhatsApp: WhatsAppConfig{
			Profile:        "standard",
			DeviceName:     "wabridge",
			WelcomeEnabled: true,
			WelcomeMessage: "WhatsApp session connected.",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
