package domain

import "context"

// Handler processes one inbound text message.
type Handler func(ctx context.Context, msg InboundMessage) error

// Sender delivers replies to the platform.
type Sender interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}

// Channel is a platform connection that receives messages and sends replies.
type Channel interface {
	Sender
	Name() string
	Start(ctx context.Context, handler Handler) error
}
