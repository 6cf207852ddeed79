package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"chatrelay/internal/domain"
)

// Discord implements domain.Source for Discord.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	http    *http.Client
	logger  *slog.Logger
}

// DiscordConfig configures the Discord source.
type DiscordConfig struct {
	Token   string
	GuildID string // optional: restrict to a specific guild
	Logger  *slog.Logger
}

// NewDiscord creates a Discord source.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord and listens for messages until ctx is done.
func (d *Discord) Start(ctx context.Context, sink domain.EnvelopeSink) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		d.handleMessage(ctx, m, sink)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// Stop closes the Discord session.
func (d *Discord) Stop() error { return nil }

func (d *Discord) handleMessage(ctx context.Context, m *discordgo.MessageCreate, sink domain.EnvelopeSink) {
	sender := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		sender = m.Member.Nick
	}

	if len(m.Attachments) == 0 {
		if strings.TrimSpace(m.Content) == "" {
			return
		}
		sink.Broadcast(domain.Envelope{
			Type:        domain.FrameMessage,
			ID:          uuid.NewString(),
			Sender:      sender,
			Timestamp:   time.Now().Unix(),
			ContentType: domain.ContentText,
			Text:        m.Content,
		})
		return
	}

	// The message text rides as the caption of the first attachment; the
	// remaining attachments go captionless so the bridge accumulates them.
	for i, att := range m.Attachments {
		data, err := d.download(ctx, att.URL)
		if err != nil {
			d.logger.Error("discord attachment download failed", "url", att.URL, "err", err)
			continue
		}
		env := domain.Envelope{
			Type:      domain.FrameMessage,
			ID:        uuid.NewString(),
			Sender:    sender,
			Timestamp: time.Now().Unix(),
			FileName:  att.Filename,
			MimeType:  att.ContentType,
		}
		env.SetFile(data)
		if env.MimeType == "" {
			env.MimeType = "application/octet-stream"
		}
		if strings.HasPrefix(env.MimeType, "image/") {
			env.ContentType = domain.ContentImage
		} else {
			env.ContentType = domain.ContentFile
		}
		if i == 0 {
			env.Caption = m.Content
		}
		sink.Broadcast(env)
	}
}

func (d *Discord) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
