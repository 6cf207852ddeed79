package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Bridge: BridgeConfig{
			ServerURL:      "ws://localhost:8765/ws",
			ProfileDir:     "~/.chatrelay/profile",
			Headless:       false,
			AppURL:         "https://claude.ai",
			ControlAddr:    "127.0.0.1:8790",
			Attribution:    true,
			AutoSend:       true,
			TextDelayMs:    1000,
			FileDelayMs:    3000,
			MessagePauseMs: 500,
			AttachSettleMs: 1000,
			FlushPaceMs:    500,
			PollIntervalMs: 300,
			BackoffBaseMs:  1000,
			BackoffMaxMs:   30000,
		},
		Speech: SpeechConfig{
			QuietMs:     1500,
			DefaultLang: "en",
			CachePath:   "~/.chatrelay/ttscache.db",
		},
		TTS: TTSConfig{
			Enabled:  false,
			Provider: "openai",
			Model:    "tts-1",
		},
		Whisper: WhisperConfig{
			Enabled: false,
			Model:   "whisper-large-v3",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
		},
	}
}
