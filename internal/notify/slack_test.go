package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/benchsweep/internal/config"
)

// captureServer records the last message posted to it.
func captureServer(t *testing.T, msg *SlackMessage) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, msg)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func fieldValue(msg SlackMessage, title string) (string, bool) {
	if len(msg.Attachments) == 0 {
		return "", false
	}
	for _, f := range msg.Attachments[0].Fields {
		if f.Title == title {
			return f.Value, true
		}
	}
	return "", false
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		name     string
		config   *config.SlackConfig
		expected bool
	}{
		{
			name:     "nil config",
			config:   nil,
			expected: false,
		},
		{
			name:     "disabled explicitly",
			config:   &config.SlackConfig{Enabled: false, WebhookURL: "https://test"},
			expected: false,
		},
		{
			name:     "enabled but no webhook",
			config:   &config.SlackConfig{Enabled: true},
			expected: false,
		},
		{
			name:     "enabled with webhook",
			config:   &config.SlackConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/test"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.config).IsEnabled(); got != tt.expected {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := New(nil)
	if err := n.SweepStarted("s", "page-size", 2, 8); err != nil {
		t.Error(err)
	}
	if err := n.SweepCompleted("s", time.Now(), time.Minute, 2, 8, nil); err != nil {
		t.Error(err)
	}
	if err := n.SweepFailed("s", errors.New("x"), time.Minute); err != nil {
		t.Error(err)
	}
	if err := n.RunFailed("s", "tpch_q1", "p=16", "1", errors.New("x")); err != nil {
		t.Error(err)
	}
}

func TestSweepStarted(t *testing.T) {
	var msg SlackMessage
	server := captureServer(t, &msg)
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: server.URL, Channel: "#bench", Username: "bench-bot"})

	if err := n.SweepStarted("sweep-123", "tpch-q1-q14", 2, 1200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Channel != "#bench" || msg.Username != "bench-bot" {
		t.Errorf("channel/username = %q/%q", msg.Channel, msg.Username)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Title != "Sweep Started" {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	if v, _ := fieldValue(msg, "Runs"); v != "1,200" {
		t.Errorf("Runs = %q", v)
	}
}

func TestSweepCompleted(t *testing.T) {
	t.Run("all runs succeeded", func(t *testing.T) {
		var msg SlackMessage
		server := captureServer(t, &msg)
		n := New(&config.SlackConfig{Enabled: true, WebhookURL: server.URL})

		start := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)
		if err := n.SweepCompleted("sweep-456", start, 5*time.Minute, 2, 4, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.IconEmoji != ":white_check_mark:" {
			t.Errorf("icon = %q", msg.IconEmoji)
		}
		if msg.Attachments[0].Color != colorGood {
			t.Errorf("color = %q, want green", msg.Attachments[0].Color)
		}
	})

	t.Run("failed runs listed", func(t *testing.T) {
		var msg SlackMessage
		server := captureServer(t, &msg)
		n := New(&config.SlackConfig{Enabled: true, WebhookURL: server.URL})

		failed := []string{"q1#1", "q1#2", "q14#0", "q14#3", "q14#7"}
		if err := n.SweepCompleted("sweep-456", time.Now(), time.Minute, 2, 3, failed); err != nil {
			t.Fatal(err)
		}
		if msg.Attachments[0].Color != colorWarning {
			t.Errorf("color = %q, want yellow", msg.Attachments[0].Color)
		}
		v, ok := fieldValue(msg, "Failed Runs")
		if !ok || v != "q1#1, q1#2, q14#0... and 2 more" {
			t.Errorf("Failed Runs = %q", v)
		}
	})
}

func TestSweepFailed(t *testing.T) {
	t.Run("nil error handled", func(t *testing.T) {
		var msg SlackMessage
		server := captureServer(t, &msg)
		n := New(&config.SlackConfig{Enabled: true, WebhookURL: server.URL})

		if err := n.SweepFailed("sweep-123", nil, time.Minute); err != nil {
			t.Fatal(err)
		}
		if v, _ := fieldValue(msg, "Error"); v != "Unknown error" {
			t.Errorf("Error = %q", v)
		}
	})

	t.Run("long error truncated", func(t *testing.T) {
		var msg SlackMessage
		server := captureServer(t, &msg)
		n := New(&config.SlackConfig{Enabled: true, WebhookURL: server.URL})

		if err := n.SweepFailed("sweep-123", errors.New(strings.Repeat("a", 600)), time.Minute); err != nil {
			t.Fatal(err)
		}
		v, _ := fieldValue(msg, "Error")
		if len(v) > 510 || !strings.HasSuffix(v, "...") {
			t.Errorf("error not truncated: len=%d", len(v))
		}
		if msg.Attachments[0].Color != colorDanger {
			t.Errorf("color = %q, want red", msg.Attachments[0].Color)
		}
	})
}

func TestRunFailed(t *testing.T) {
	var msg SlackMessage
	server := captureServer(t, &msg)
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: server.URL})

	if err := n.RunFailed("sweep-1", "tpch_q14", "PAGE=18", "num_threads=2", errors.New("exit status 139")); err != nil {
		t.Fatal(err)
	}
	if msg.Attachments[0].Title != "Benchmark Run Failed" {
		t.Errorf("title = %q", msg.Attachments[0].Title)
	}
	if v, _ := fieldValue(msg, "Benchmark"); v != "tpch_q14" {
		t.Errorf("Benchmark = %q", v)
	}
}

func TestSend(t *testing.T) {
	t.Run("HTTP error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		n := New(&config.SlackConfig{Enabled: true, WebhookURL: server.URL})
		if err := n.SweepStarted("s", "x", 1, 1); err == nil {
			t.Error("expected error for non-200 response")
		}
	})

	t.Run("connection error", func(t *testing.T) {
		n := New(&config.SlackConfig{Enabled: true, WebhookURL: "http://localhost:99999"})
		if err := n.SweepStarted("s", "x", 1, 1); err == nil {
			t.Error("expected error for connection failure")
		}
	})
}

func TestGetUsername(t *testing.T) {
	if got := New(&config.SlackConfig{Username: "custom-bot"}).getUsername(); got != "custom-bot" {
		t.Errorf("getUsername() = %q", got)
	}
	if got := New(&config.SlackConfig{}).getUsername(); got != "benchsweep" {
		t.Errorf("getUsername() = %q, want default", got)
	}
}

func TestFormatNumberWithCommas(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0"},
		{12, "12"},
		{123, "123"},
		{1234, "1,234"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{1000000000, "1,000,000,000"},
		{-1234567, "-1,234,567"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatNumberWithCommas(tt.input); got != tt.expected {
				t.Errorf("formatNumberWithCommas(%d) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{0, "0s"},
		{59 * time.Second, "59s"},
		{61 * time.Second, "1m 1s"},
		{60 * time.Minute, "1h 0m 0s"},
		{25*time.Hour + 5*time.Minute + 10*time.Second, "25h 5m 10s"},
		{1*time.Second + 500*time.Millisecond, "2s"},
		{1*time.Second + 499*time.Millisecond, "1s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.input); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
