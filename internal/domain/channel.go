package domain

import "context"

// Source is a chat platform that produces Envelopes (Telegram, Discord, Slack).
type Source interface {
	Name() string
	Start(ctx context.Context, sink EnvelopeSink) error
	Stop() error
}

// EnvelopeSink receives normalized envelopes from a Source and fans them out
// to connected bridges.
type EnvelopeSink interface {
	Broadcast(env Envelope)
}
