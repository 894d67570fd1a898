// Package echo replies to every inbound text message with the same text.
package echo

import (
	"context"
	"fmt"

	"echobot/internal/domain"
)

// Reply builds the outbound reply for msg. The reply goes back to the
// originating chat and thread with identical text, protected content and
// notifications enabled.
func Reply(msg domain.InboundMessage) domain.OutboundReply {
	return domain.OutboundReply{
		ChatID:              msg.ChatID,
		ThreadID:            msg.ThreadID,
		Text:                msg.Text,
		ProtectContent:      true,
		DisableNotification: false,
	}
}

// Responder sends one echo reply per inbound message. It keeps no state
// between calls and is safe for concurrent use.
type Responder struct {
	sender domain.Sender
}

func NewResponder(sender domain.Sender) *Responder {
	return &Responder{sender: sender}
}

// Handle sends the echo for msg. Send failures are returned to the caller
// untouched apart from context; there is no retry here.
func (r *Responder) Handle(ctx context.Context, msg domain.InboundMessage) error {
	if err := r.sender.SendReply(ctx, Reply(msg)); err != nil {
		return fmt.Errorf("echo to chat %d: %w", msg.ChatID, err)
	}
	return nil
}

// Handler exposes Handle as a domain.Handler.
func (r *Responder) Handler() domain.Handler {
	return r.Handle
}
