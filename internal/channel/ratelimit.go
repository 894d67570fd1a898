package channel

import (
	"context"
	"sync"
	"time"
)

// maxTrackedChats bounds the per-chat bucket map; idle buckets are dropped
// once it is reached.
const maxTrackedChats = 1024

// bucket is a token bucket that may go into debt: take always consumes a
// token and reports how long the caller has to wait for it.
type bucket struct {
	tokens float64
	max    float64
	rate   float64 // tokens per second
	last   time.Time
}

func newBucket(burst int, perMinute int, now time.Time) *bucket {
	return &bucket{
		tokens: float64(burst),
		max:    float64(burst),
		rate:   float64(perMinute) / 60,
		last:   now,
	}
}

func (b *bucket) refill(now time.Time) {
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.last = now
}

func (b *bucket) take(now time.Time) time.Duration {
	b.refill(now)
	b.tokens--
	if b.tokens >= 0 {
		return 0
	}
	return time.Duration(-b.tokens / b.rate * float64(time.Second))
}

func (b *bucket) giveBack() {
	b.tokens++
	if b.tokens > b.max {
		b.tokens = b.max
	}
}

func (b *bucket) idle(now time.Time) bool {
	b.refill(now)
	return b.tokens >= b.max
}

// SendLimiter throttles sendMessage calls. Telegram enforces a bot-wide
// ceiling and a separate, much lower, per-chat one; either limit may be off.
type SendLimiter struct {
	mu       sync.Mutex
	global   *bucket // nil = no bot-wide limit
	chatRate int     // per chat per minute, 0 = no per-chat limit
	burst    int
	chats    map[int64]*bucket
	now      func() time.Time
}

// NewSendLimiter returns nil when both rates are zero. burst applies to the
// bot-wide bucket and to every chat bucket, and is at least 1.
func NewSendLimiter(globalPerMinute, chatPerMinute, burst int) *SendLimiter {
	if globalPerMinute <= 0 && chatPerMinute <= 0 {
		return nil
	}
	burst = max(burst, 1)
	l := &SendLimiter{
		chatRate: max(chatPerMinute, 0),
		burst:    burst,
		chats:    make(map[int64]*bucket),
		now:      time.Now,
	}
	if globalPerMinute > 0 {
		l.global = newBucket(burst, globalPerMinute, l.now())
	}
	return l
}

// Wait blocks until a message to chatID may be sent. If ctx ends first the
// reserved tokens are returned and ctx's error is reported.
func (l *SendLimiter) Wait(ctx context.Context, chatID int64) error {
	wait, cancel := l.reserve(chatID)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// reserve takes a token from the chat and bot-wide buckets and returns the
// longer of the two waits, plus a func that undoes the reservation.
func (l *SendLimiter) reserve(chatID int64) (time.Duration, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	var chat *bucket
	if l.chatRate > 0 {
		chat = l.chatBucket(chatID, now)
		wait = chat.take(now)
	}
	if l.global != nil {
		wait = max(wait, l.global.take(now))
	}

	return wait, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if chat != nil {
			chat.giveBack()
		}
		if l.global != nil {
			l.global.giveBack()
		}
	}
}

func (l *SendLimiter) chatBucket(chatID int64, now time.Time) *bucket {
	if b, ok := l.chats[chatID]; ok {
		return b
	}
	if len(l.chats) >= maxTrackedChats {
		for id, b := range l.chats {
			if b.idle(now) {
				delete(l.chats, id)
			}
		}
	}
	b := newBucket(l.burst, l.chatRate, now)
	l.chats[chatID] = b
	return b
}

func (l *SendLimiter) trackedChats() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chats)
}
