package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"echobot/internal/journal"
	"echobot/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeBot struct{ name string }

func (b fakeBot) Username() string { return b.name }

type brokenJournal struct{}

func (brokenJournal) Stats(ctx context.Context) (journal.Stats, error) {
	return journal.Stats{}, errors.New("database is locked")
}

func (brokenJournal) Recent(ctx context.Context, limit int) ([]journal.Delivery, error) {
	return nil, errors.New("database is locked")
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	s := New(Config{Version: "1.2.3"}, fakeBot{"echo_bot"}, metrics.NewMetricsCollector(), nil, testLogger())

	rr := get(t, s.Handler(), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["bot"] != "@echo_bot" || body["version"] != "1.2.3" {
		t.Errorf("unexpected body %v", body)
	}
	if body["journal"] != false {
		t.Errorf("expected journal=false, got %v", body["journal"])
	}
}

func TestHealthz_Connecting(t *testing.T) {
	s := New(Config{}, fakeBot{""}, metrics.NewMetricsCollector(), nil, testLogger())

	rr := get(t, s.Handler(), "/healthz")
	if !strings.Contains(rr.Body.String(), `"connecting"`) {
		t.Errorf("expected connecting status, got %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	c := metrics.NewMetricsCollector()
	metrics.NewBotMetrics(c).RepliesSent.Add(3)
	s := New(Config{}, nil, c, nil, testLogger())

	rr := get(t, s.Handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "echobot_replies_sent_total 3") {
		t.Errorf("missing counter in:\n%s", rr.Body.String())
	}
}

func TestStats_JournalDisabled(t *testing.T) {
	s := New(Config{}, nil, metrics.NewMetricsCollector(), nil, testLogger())

	if rr := get(t, s.Handler(), "/api/stats"); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestStats_WithJournal(t *testing.T) {
	j, err := journal.NewSQLiteJournal(filepath.Join(t.TempDir(), "echobot.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	ctx := context.Background()
	j.Record(ctx, journal.Delivery{ChatID: 42, Status: journal.StatusSent, TextLen: 5})
	j.Record(ctx, journal.Delivery{ChatID: 43, Status: journal.StatusFailed, Error: "Forbidden"})

	s := New(Config{}, nil, metrics.NewMetricsCollector(), j, testLogger())
	rr := get(t, s.Handler(), "/api/stats?limit=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Stats  journal.Stats      `json:"stats"`
		Recent []journal.Delivery `json:"recent"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Stats.Total != 2 || body.Stats.Sent != 1 || body.Stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", body.Stats)
	}
	if len(body.Recent) != 1 {
		t.Errorf("expected 1 recent delivery, got %d", len(body.Recent))
	}
}

func TestStats_BadLimit(t *testing.T) {
	s := New(Config{}, nil, metrics.NewMetricsCollector(), brokenJournal{}, testLogger())

	for _, q := range []string{"abc", "0", "1000"} {
		if rr := get(t, s.Handler(), "/api/stats?limit="+q); rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", q, rr.Code)
		}
	}
}

func TestStats_JournalError(t *testing.T) {
	s := New(Config{}, nil, metrics.NewMetricsCollector(), brokenJournal{}, testLogger())

	rr := get(t, s.Handler(), "/api/stats")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "locked") {
		t.Error("internal error details should not be exposed")
	}
}

func TestCORS_Preflight(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"https://dash.example.com"}}, nil, metrics.NewMetricsCollector(), nil, testLogger())

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0}, nil, metrics.NewMetricsCollector(), nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
