// Package channel implements the chat-platform sources that feed the bridge
// server: each source normalizes platform messages into domain Envelopes.
package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"chatrelay/internal/domain"
	"chatrelay/internal/provider"
)

// Transcriber converts a voice note to text. Satisfied by
// provider.WhisperProvider; nil disables transcription and voice notes are
// forwarded as raw audio envelopes instead.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*provider.TranscriptionResult, error)
}

// Telegram implements domain.Source for the Telegram Bot API.
type Telegram struct {
	token       string
	allowChats  []int64 // allowed chat IDs (empty = allow all)
	transcriber Transcriber

	bot    *tgbotapi.BotAPI
	http   *http.Client
	logger *slog.Logger
}

// TelegramConfig configures the Telegram source.
type TelegramConfig struct {
	Token       string
	AllowChats  []int64
	Transcriber Transcriber
	Logger      *slog.Logger
}

// NewTelegram creates a Telegram source.
func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{
		token:       cfg.Token,
		allowChats:  cfg.AllowChats,
		transcriber: cfg.Transcriber,
		http:        &http.Client{Timeout: 60 * time.Second},
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and long-polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, sink domain.EnvelopeSink) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram source stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			t.handleMessage(ctx, update.Message, sink)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message, sink domain.EnvelopeSink) {
	chatID := msg.Chat.ID
	if !t.isAllowed(chatID) {
		t.logger.Info("ignoring message from chat not in allowed list", "chat_id", chatID)
		return
	}

	env := domain.Envelope{
		Type:      domain.FrameMessage,
		ID:        uuid.NewString(),
		Sender:    senderName(msg),
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Timestamp: int64(msg.Date),
		Caption:   msg.Caption,
	}

	switch {
	case msg.Text != "":
		env.ContentType = domain.ContentText
		env.Text = msg.Text

	case msg.Voice != nil:
		t.fillVoice(ctx, msg, &env)

	case msg.Audio != nil:
		audio := msg.Audio
		data, err := t.download(ctx, audio.FileID)
		if err != nil {
			t.logger.Error("audio download failed", "err", err)
			return
		}
		env.ContentType = domain.ContentFile
		env.SetFile(data)
		env.MimeType = audio.MimeType
		if env.MimeType == "" {
			env.MimeType = "audio/mpeg"
		}
		env.FileName = audioFileName(audio, msg.MessageID)

	case msg.Document != nil:
		doc := msg.Document
		data, err := t.download(ctx, doc.FileID)
		if err != nil {
			t.logger.Error("document download failed", "err", err)
			return
		}
		env.ContentType = domain.ContentFile
		env.SetFile(data)
		env.FileName = doc.FileName
		if env.FileName == "" {
			env.FileName = fmt.Sprintf("file_%d", msg.MessageID)
		}
		env.MimeType = doc.MimeType
		if env.MimeType == "" {
			env.MimeType = "application/octet-stream"
		}

	case len(msg.Photo) > 0:
		// The last photo size is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		data, err := t.download(ctx, photo.FileID)
		if err != nil {
			t.logger.Error("photo download failed", "err", err)
			return
		}
		env.ContentType = domain.ContentImage
		env.SetFile(data)
		env.FileName = fmt.Sprintf("photo_%d.jpg", msg.MessageID)
		env.MimeType = "image/jpeg"

	default:
		env.ContentType = domain.ContentUnsupported
		env.Text = "[Unsupported message type]"
	}

	t.logger.Info("telegram message normalized",
		"sender", env.Sender, "chat_id", chatID, "content_type", env.ContentType)
	sink.Broadcast(env)
}

// fillVoice downloads a voice note and transcribes it when a transcriber is
// configured; otherwise the raw audio rides along for the bridge to attach.
func (t *Telegram) fillVoice(ctx context.Context, msg *tgbotapi.Message, env *domain.Envelope) {
	data, err := t.download(ctx, msg.Voice.FileID)
	if err != nil {
		t.logger.Error("voice download failed", "err", err)
		env.ContentType = domain.ContentUnsupported
		env.Text = "[Voice message - download failed]"
		return
	}

	filename := fmt.Sprintf("voice_%d.ogg", msg.MessageID)

	if t.transcriber != nil {
		result, err := t.transcriber.Transcribe(ctx, bytes.NewReader(data), filename)
		if err == nil && strings.TrimSpace(result.Text) != "" {
			env.ContentType = domain.ContentVoiceTranscribed
			env.Text = strings.TrimSpace(result.Text)
			return
		}
		if err != nil {
			t.logger.Warn("transcription failed, forwarding raw audio", "err", err)
		}
	}

	env.ContentType = domain.ContentVoiceAudio
	env.SetFile(data)
	env.FileName = filename
	env.MimeType = "audio/ogg"
}

func (t *Telegram) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (t *Telegram) isAllowed(chatID int64) bool {
	if len(t.allowChats) == 0 {
		return true
	}
	for _, id := range t.allowChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// senderName extracts a display name: first/last name, then username, then
// "Anonymous".
func senderName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return "Anonymous"
	}
	name := strings.TrimSpace(strings.TrimSpace(msg.From.FirstName) + " " + strings.TrimSpace(msg.From.LastName))
	if name != "" {
		return name
	}
	if msg.From.UserName != "" {
		return msg.From.UserName
	}
	return "Anonymous"
}

func audioFileName(audio *tgbotapi.Audio, messageID int) string {
	ext := "mp3"
	if audio.MimeType != "" {
		if i := strings.LastIndex(audio.MimeType, "/"); i >= 0 && i < len(audio.MimeType)-1 {
			ext = audio.MimeType[i+1:]
		}
	}
	if audio.Performer != "" && audio.Title != "" {
		return fmt.Sprintf("%s - %s.%s", audio.Performer, audio.Title, ext)
	}
	if audio.FileName != "" {
		return audio.FileName
	}
	return fmt.Sprintf("audio_%d.%s", messageID, ext)
}
