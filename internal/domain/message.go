package domain

import "time"

// InboundMessage is a text message received from the platform.
type InboundMessage struct {
	ChatID    int64
	ThreadID  int // 0 when the message is not part of a thread
	Text      string
	SenderID  int64
	MessageID int
	Timestamp time.Time
}

// OutboundReply is a message handed to the platform client for delivery.
type OutboundReply struct {
	ChatID              int64
	ThreadID            int
	Text                string
	ProtectContent      bool
	DisableNotification bool
}
