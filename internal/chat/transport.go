// Package chat defines the boundary with the message-transport collaborator.
// The core is agnostic to which chat platform delivers events; adapters
// translate platform payloads into Inbound and implement Transport.
package chat

import (
	"context"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindText   Kind = "text"
	KindButton Kind = "button"
)

// Inbound is one buyer event, already stripped of transport specifics.
type Inbound struct {
	VendorID        string
	FromPhone       string
	FromDisplayName string
	Kind            Kind
	Text            string
	ButtonID        string
}

type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Transport sends outbound messages. Delivery is fire-and-forget from the
// core's perspective: failures are logged by callers, never retried here,
// and never escalate into order state. The order's expiry timer is the
// safety net when a message goes missing.
type Transport interface {
	SendText(ctx context.Context, phone, text string) error
	SendButtons(ctx context.Context, phone, text string, buttons []Button) error
}

// LogTransport writes outbound messages to the log. It is the default
// collaborator when no real transport adapter is wired in.
type LogTransport struct {
	Logger zerolog.Logger
}

func (t LogTransport) SendText(_ context.Context, phone, text string) error {
	t.Logger.Info().Str("to", phone).Str("text", text).Msg("chat: outbound text")
	return nil
}

func (t LogTransport) SendButtons(_ context.Context, phone, text string, buttons []Button) error {
	labels := make([]string, 0, len(buttons))
	for _, b := range buttons {
		labels = append(labels, b.Label)
	}
	t.Logger.Info().Str("to", phone).Str("text", text).Strs("buttons", labels).Msg("chat: outbound buttons")
	return nil
}
