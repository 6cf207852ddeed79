package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatrelay/internal/channel"
	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/provider"
	"chatrelay/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server (chat sources + WebSocket broadcast)",
		Long:  "Starts the enabled chat sources and broadcasts their messages to connected bridges over WebSocket. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger = buildLogger(cfg.General)

	ctx, stop := signalContext()
	defer stop()

	var transcriber channel.Transcriber
	if cfg.Whisper.Enabled && cfg.Whisper.APIKey != "" {
		transcriber = provider.NewWhisperProvider(provider.WhisperConfig{
			APIBase:  cfg.Whisper.APIBase,
			APIKey:   cfg.Whisper.APIKey,
			Model:    cfg.Whisper.Model,
			Language: cfg.Whisper.Language,
			Logger:   logger,
		})
		logger.Info("voice transcription enabled", "model", cfg.Whisper.Model)
	} else {
		logger.Info("voice transcription disabled, voice notes forwarded as audio")
	}

	srv := server.New(server.Config{
		Logger:    logger,
		WhisperOK: transcriber != nil,
	})

	sources := buildSources(cfg, transcriber)
	if len(sources) == 0 {
		logger.Warn("no chat sources enabled; only the control endpoints will respond")
	}
	for _, src := range sources {
		src := src
		go func() {
			logger.Info("source starting", "source", src.Name())
			if err := src.Start(ctx, srv); err != nil {
				logger.Error("source stopped with error", "source", src.Name(), "err", err)
			}
		}()
	}

	err := srv.Run(ctx, cfg.Server.Addr())

	for _, src := range sources {
		if stopErr := src.Stop(); stopErr != nil {
			logger.Warn("source stop failed", "source", src.Name(), "err", stopErr)
		}
	}
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func buildSources(cfg *config.Config, transcriber channel.Transcriber) []domain.Source {
	var sources []domain.Source

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		sources = append(sources, channel.NewTelegram(channel.TelegramConfig{
			Token:       cfg.Channels.Telegram.Token,
			AllowChats:  cfg.Channels.Telegram.AllowChats.Int64s(),
			Transcriber: transcriber,
			Logger:      logger,
		}))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		sources = append(sources, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		sources = append(sources, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	return sources
}
