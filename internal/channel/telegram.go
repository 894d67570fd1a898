package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"echobot/internal/bus"
	"echobot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramDefaultRetryDelay = 3 * time.Second
	telegramRetryBackoff      = time.Second
	// Slack on top of the long-poll timeout before the HTTP client gives up.
	telegramHTTPSlack = 15 * time.Second
)

// Telegram implements domain.Channel for the Telegram Bot API.
//
// Updates are fetched with getUpdates and decoded here rather than through
// tgbotapi.GetUpdatesChan, because the library's Message type has no
// message_thread_id and its send configs cannot set protect_content.
type Telegram struct {
	token        string
	apiEndpoint  string
	pollTimeout  int
	retryDelay   time.Duration
	retryBackoff time.Duration
	sendRetries  int
	limiter      *SendLimiter // nil = unthrottled
	allowFrom    map[int64]bool // empty = allow all
	debug        bool
	httpClient   tgbotapi.HTTPClient

	bot    *tgbotapi.BotAPI
	offset int
	events *bus.EventBus
	logger *slog.Logger
}

var _ domain.Channel = (*Telegram)(nil)

type TelegramConfig struct {
	Token        string
	APIEndpoint  string        // defaults to tgbotapi.APIEndpoint
	PollTimeout  int           // long-poll seconds
	RetryDelay   time.Duration // wait after a failed getUpdates
	SendRetries  int           // 429 retries for sendMessage
	SendRate     int           // bot-wide sendMessage calls per minute, 0 = off
	ChatSendRate int           // per-chat sendMessage calls per minute, 0 = off
	SendBurst    int           // back-to-back sends before throttling
	AllowFrom    []int64
	Debug        bool
	HTTPClient   tgbotapi.HTTPClient // optional
	Events       *bus.EventBus       // optional
	Logger       *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = telegramDefaultRetryDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.PollTimeout)*time.Second + telegramHTTPSlack}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allowed := make(map[int64]bool, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allowed[id] = true
	}
	return &Telegram{
		token:        cfg.Token,
		apiEndpoint:  cfg.APIEndpoint,
		pollTimeout:  cfg.PollTimeout,
		retryDelay:   cfg.RetryDelay,
		retryBackoff: telegramRetryBackoff,
		sendRetries:  cfg.SendRetries,
		limiter:      NewSendLimiter(cfg.SendRate, cfg.ChatSendRate, cfg.SendBurst),
		allowFrom:    allowed,
		debug:        cfg.Debug,
		httpClient:   cfg.HTTPClient,
		events:       cfg.Events,
		logger:       cfg.Logger.With("component", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect validates the token with getMe. Start calls it when needed.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.apiEndpoint, t.httpClient)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", t.redact(err))
	}
	bot.Debug = t.debug
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Username returns the bot's @username once connected.
func (t *Telegram) Username() string {
	if t.bot == nil {
		return ""
	}
	return t.bot.Self.UserName
}

// Start polls for updates and calls handler for each text message, one at a
// time in update order. It returns nil when ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, handler domain.Handler) error {
	if err := t.Connect(); err != nil {
		return err
	}

	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		if ctx.Err() != nil {
			t.logger.Info("telegram channel stopping")
			return nil
		}

		updates, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.logger.Info("telegram channel stopping")
				return nil
			}
			t.logger.Warn("failed to get updates, retrying", "err", err, "retry_in", t.retryDelay)
			t.emit(bus.EventPollError, map[string]any{bus.KeyError: err.Error()})
			select {
			case <-ctx.Done():
			case <-time.After(t.retryDelay):
			}
			continue
		}

		for _, u := range updates {
			t.handleUpdate(ctx, u, handler)
		}
	}
}

// update is a tgbotapi.Update plus fields the library does not decode.
type update struct {
	tgbotapi.Update
	ThreadID  int
	decodeErr error // set when only update_id could be read
}

type updateExtras struct {
	Message *struct {
		MessageThreadID int `json:"message_thread_id"`
	} `json:"message"`
}

// poll runs one getUpdates call. The call itself cannot be cancelled, so a
// cancelled ctx abandons it; unacknowledged updates are redelivered on the
// next start because the offset has not advanced.
func (t *Telegram) poll(ctx context.Context) ([]update, error) {
	type result struct {
		updates []update
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := t.getUpdates()
		ch <- result{u, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		var fresh []update
		for _, u := range r.updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
				fresh = append(fresh, u)
			}
		}
		return fresh, nil
	}
}

func (t *Telegram) getUpdates() ([]update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", t.offset)
	params.AddNonZero("timeout", t.pollTimeout)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return nil, err
	}

	resp, err := t.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, t.redact(err)
	}
	return decodeUpdates(resp.Result, t.logger)
}

// decodeUpdates decodes a getUpdates result. An update that fails to decode
// is kept with only its update_id so the offset still moves past it; one
// without a readable update_id is dropped.
func decodeUpdates(result json.RawMessage, logger *slog.Logger) ([]update, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}

	updates := make([]update, 0, len(raw))
	for _, r := range raw {
		var u update
		if err := json.Unmarshal(r, &u.Update); err != nil {
			var id struct {
				UpdateID *int `json:"update_id"`
			}
			if json.Unmarshal(r, &id) != nil || id.UpdateID == nil {
				logger.Warn("dropping telegram update without update_id", "err", err)
				continue
			}
			updates = append(updates, update{
				Update:    tgbotapi.Update{UpdateID: *id.UpdateID},
				decodeErr: err,
			})
			continue
		}
		var extras updateExtras
		if err := json.Unmarshal(r, &extras); err == nil && extras.Message != nil {
			u.ThreadID = extras.Message.MessageThreadID
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (t *Telegram) handleUpdate(ctx context.Context, u update, handler domain.Handler) {
	if u.decodeErr != nil {
		t.logger.Warn("undecodable telegram update", "update_id", u.UpdateID, "err", u.decodeErr)
		t.skip(u, "undecodable")
		return
	}

	m := u.Message
	if m == nil || m.Chat == nil {
		t.skip(u, "no_message")
		return
	}

	var senderID int64
	if m.From != nil {
		senderID = m.From.ID
	}
	if !t.isAllowed(senderID) {
		t.logger.Warn("unauthorized telegram user", "user_id", senderID, "chat_id", m.Chat.ID)
		t.skip(u, "sender_not_allowed")
		return
	}

	if m.Text == "" {
		t.skip(u, "non_text")
		return
	}

	msg := domain.InboundMessage{
		ChatID:    m.Chat.ID,
		ThreadID:  u.ThreadID,
		Text:      m.Text,
		SenderID:  senderID,
		MessageID: m.MessageID,
		Timestamp: time.Unix(int64(m.Date), 0),
	}

	t.logger.Info("telegram message received",
		"user_id", senderID,
		"chat_id", msg.ChatID,
		"thread_id", msg.ThreadID,
		"text_len", len(msg.Text),
	)
	payload := map[string]any{
		bus.KeyUpdateID:  u.UpdateID,
		bus.KeyChatID:    msg.ChatID,
		bus.KeyThreadID:  msg.ThreadID,
		bus.KeyMessageID: msg.MessageID,
		bus.KeySenderID:  msg.SenderID,
		bus.KeyTextLen:   len(msg.Text),
	}
	t.emit(bus.EventMessageReceived, payload)

	start := time.Now()
	err := handler(ctx, msg)

	outcome := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		outcome[k] = v
	}
	outcome[bus.KeyLatency] = time.Since(start)

	if err != nil {
		t.logger.Error("reply failed", "chat_id", msg.ChatID, "thread_id", msg.ThreadID, "err", err)
		outcome[bus.KeyError] = err.Error()
		t.emit(bus.EventReplyFailed, outcome)
		return
	}
	t.logger.Debug("reply sent", "chat_id", msg.ChatID, "thread_id", msg.ThreadID)
	t.emit(bus.EventReplySent, outcome)
}

func (t *Telegram) skip(u update, reason string) {
	t.logger.Debug("update skipped", "update_id", u.UpdateID, "reason", reason)
	t.emit(bus.EventUpdateSkipped, map[string]any{
		bus.KeyUpdateID: u.UpdateID,
		bus.KeyReason:   reason,
	})
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	return t.allowFrom[userID]
}

// SendReply delivers reply with sendMessage. Only HTTP 429 responses are
// retried, and only when send retries are configured.
func (t *Telegram) SendReply(ctx context.Context, reply domain.OutboundReply) error {
	if t.bot == nil {
		return errors.New("telegram: not connected")
	}

	params := sendMessageParams(reply)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx, reply.ChatID); err != nil {
				return err
			}
		}

		_, err := t.bot.MakeRequest("sendMessage", params)
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests && attempt < t.sendRetries {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if wait <= 0 {
				wait = t.retryBackoff
			}
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", wait, "attempt", attempt+1,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		return fmt.Errorf("sendMessage: %w", t.redact(err))
	}
}

func sendMessageParams(reply domain.OutboundReply) tgbotapi.Params {
	params := tgbotapi.Params{
		"chat_id": strconv.FormatInt(reply.ChatID, 10),
		"text":    reply.Text,
	}
	params.AddNonZero("message_thread_id", reply.ThreadID)
	params.AddBool("protect_content", reply.ProtectContent)
	params.AddBool("disable_notification", reply.DisableNotification)
	return params
}

// redact strips the bot token from transport errors, which embed the request URL.
func (t *Telegram) redact(err error) error {
	if err == nil || t.token == "" || !strings.Contains(err.Error(), t.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), t.token, "<token>"))
}

func (t *Telegram) emit(eventType string, payload map[string]any) {
	if t.events == nil {
		return
	}
	t.events.Emit(bus.Event{Type: eventType, Source: t.Name(), Payload: payload})
}
