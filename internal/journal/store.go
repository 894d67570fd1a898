// Package journal keeps a local SQLite record of echo delivery outcomes.
// Message text is never stored, only its length.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"echobot/internal/bus"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Delivery is one recorded reply attempt.
type Delivery struct {
	ID        string        `json:"id"`
	ChatID    int64         `json:"chat_id"`
	ThreadID  int           `json:"thread_id,omitempty"`
	MessageID int           `json:"message_id,omitempty"`
	TextLen   int           `json:"text_len"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Stats summarises the journal.
type Stats struct {
	Total  int64      `json:"total"`
	Sent   int64      `json:"sent"`
	Failed int64      `json:"failed"`
	Chats  int64      `json:"chats"`
	LastAt *time.Time `json:"last_at,omitempty"`
}

// SQLiteJournal stores deliveries in SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteJournal(dbPath string, logger *slog.Logger) (*SQLiteJournal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &SQLiteJournal{db: db, logger: logger}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return j, nil
}

// Record stores d, assigning an ID and timestamp when missing.
func (j *SQLiteJournal) Record(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, chat_id, thread_id, message_id, text_len, status, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ChatID, d.ThreadID, d.MessageID, d.TextLen, d.Status, d.Error,
		d.Latency.Milliseconds(), d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Recent returns the latest deliveries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, chat_id, thread_id, message_id, text_len, status, COALESCE(error, ''), latency_ms, created_at
		 FROM deliveries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Delivery
	for rows.Next() {
		var d Delivery
		var latencyMs, createdMs int64
		if err := rows.Scan(&d.ID, &d.ChatID, &d.ThreadID, &d.MessageID, &d.TextLen,
			&d.Status, &d.Error, &latencyMs, &createdMs); err != nil {
			return nil, err
		}
		d.Latency = time.Duration(latencyMs) * time.Millisecond
		d.CreatedAt = time.UnixMilli(createdMs)
		result = append(result, d)
	}
	return result, rows.Err()
}

func (j *SQLiteJournal) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var lastMs sql.NullInt64
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COUNT(DISTINCT chat_id),
		        MAX(created_at)
		 FROM deliveries`, StatusSent, StatusFailed,
	).Scan(&s.Total, &s.Sent, &s.Failed, &s.Chats, &lastMs)
	if err != nil {
		return Stats{}, fmt.Errorf("journal stats: %w", err)
	}
	if lastMs.Valid {
		t := time.UnixMilli(lastMs.Int64)
		s.LastAt = &t
	}
	return s, nil
}

// Prune deletes deliveries older than the given age and returns how many were removed.
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := j.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Attach records reply.sent and reply.failed events.
func (j *SQLiteJournal) Attach(eb *bus.EventBus) {
	record := func(status string) bus.EventHandler {
		return func(e bus.Event) {
			d := deliveryFromEvent(e)
			d.Status = status
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.Record(ctx, d); err != nil {
				j.logger.Warn("journal write failed", "err", err)
			}
		}
	}
	eb.On(bus.EventReplySent, record(StatusSent))
	eb.On(bus.EventReplyFailed, record(StatusFailed))
}

func deliveryFromEvent(e bus.Event) Delivery {
	d := Delivery{CreatedAt: e.Timestamp}
	if v, ok := e.Payload[bus.KeyChatID].(int64); ok {
		d.ChatID = v
	}
	if v, ok := e.Payload[bus.KeyThreadID].(int); ok {
		d.ThreadID = v
	}
	if v, ok := e.Payload[bus.KeyMessageID].(int); ok {
		d.MessageID = v
	}
	if v, ok := e.Payload[bus.KeyTextLen].(int); ok {
		d.TextLen = v
	}
	if v, ok := e.Payload[bus.KeyLatency].(time.Duration); ok {
		d.Latency = v
	}
	if v, ok := e.Payload[bus.KeyError].(string); ok {
		d.Error = v
	}
	return d
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
