package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"chatrelay/internal/domain"
)

// Slack implements domain.Source for Slack using Socket Mode. Slack file
// shares require extra OAuth scopes to download, so this source forwards
// text messages only.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid echoing itself
}

// SlackConfig configures the Slack source.
type SlackConfig struct {
	BotToken string
	AppToken string // required for Socket Mode
	Logger   *slog.Logger
}

// NewSlack creates a Slack source.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and listens for message events.
func (s *Slack) Start(ctx context.Context, sink domain.EnvelopeSink) error {
	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent, sink)
			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// Stop is a no-op: Socket Mode stops with Start's context.
func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent, sink domain.EnvelopeSink) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if ev.User == s.botUID || ev.User == "" || ev.SubType != "" || ev.Text == "" {
		return
	}

	sender := ev.User
	if info, err := s.client.GetUserInfo(ev.User); err == nil {
		if info.RealName != "" {
			sender = info.RealName
		} else if info.Name != "" {
			sender = info.Name
		}
	}

	s.logger.Info("slack message normalized", "user", ev.User, "channel", ev.Channel)

	sink.Broadcast(domain.Envelope{
		Type:        domain.FrameMessage,
		ID:          uuid.NewString(),
		Sender:      sender,
		Timestamp:   time.Now().Unix(),
		ContentType: domain.ContentText,
		Text:        ev.Text,
	})
}
