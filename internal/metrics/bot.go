package metrics

import (
	"time"

	"echobot/internal/bus"
)

// BotMetrics holds the series echobot reports.
type BotMetrics struct {
	MessagesReceived *Counter
	RepliesSent      *Counter
	RepliesFailed    *Counter
	UpdatesSkipped   *Counter
	PollErrors       *Counter
	LastUpdateID     *Gauge
	ReplyLatency     *Histogram
}

func NewBotMetrics(c *MetricsCollector) *BotMetrics {
	return &BotMetrics{
		MessagesReceived: c.Counter("echobot_messages_received_total", "Text messages received", ""),
		RepliesSent:      c.Counter("echobot_replies_sent_total", "Echo replies delivered", ""),
		RepliesFailed:    c.Counter("echobot_replies_failed_total", "Echo replies that failed to send", ""),
		UpdatesSkipped:   c.Counter("echobot_updates_skipped_total", "Updates ignored without a reply", ""),
		PollErrors:       c.Counter("echobot_poll_errors_total", "Failed getUpdates calls", ""),
		LastUpdateID:     c.Gauge("echobot_last_update_id", "Highest Telegram update id seen", ""),
		ReplyLatency: c.Histogram("echobot_reply_latency_seconds",
			"Seconds from receiving a message to delivering its reply, throttling and retries included", "",
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}),
	}
}

// Attach subscribes the metrics to the event bus.
func (m *BotMetrics) Attach(eb *bus.EventBus) {
	eb.On(bus.EventMessageReceived, func(e bus.Event) {
		m.MessagesReceived.Inc()
		if id, ok := e.Payload[bus.KeyUpdateID].(int); ok {
			m.LastUpdateID.Set(int64(id))
		}
	})
	eb.On(bus.EventUpdateSkipped, func(bus.Event) { m.UpdatesSkipped.Inc() })
	eb.On(bus.EventPollError, func(bus.Event) { m.PollErrors.Inc() })
	eb.On(bus.EventReplySent, func(e bus.Event) {
		m.RepliesSent.Inc()
		if d, ok := e.Payload[bus.KeyLatency].(time.Duration); ok {
			m.ReplyLatency.Observe(d.Seconds())
		}
	})
	eb.On(bus.EventReplyFailed, func(bus.Event) { m.RepliesFailed.Inc() })
}
