// Package notify posts sweep lifecycle messages to a Slack incoming webhook.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/version"
)

const (
	colorGood    = "#36a64f"
	colorWarning = "#ffc107"
	colorDanger  = "#dc3545"
	colorInfo    = "#439fe0"

	maxErrorLen   = 500
	maxFailedRuns = 3
)

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a Slack message attachment.
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

// Field is one attachment field.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notifier sends notifications. A disabled notifier is a no-op.
type Notifier struct {
	cfg    *config.SlackConfig
	client *http.Client
}

// New creates a notifier. cfg may be nil.
func New(cfg *config.SlackConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled reports whether messages are sent.
func (n *Notifier) IsEnabled() bool {
	return n.cfg != nil && n.cfg.Enabled && n.cfg.WebhookURL != ""
}

// SweepStarted announces a sweep.
func (n *Notifier) SweepStarted(sweepID, name string, builds, runs int) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(":hourglass_flowing_sand:", Attachment{
		Color: colorInfo,
		Title: "Sweep Started",
		Fields: []Field{
			{Title: "Sweep", Value: name, Short: true},
			{Title: "Sweep ID", Value: sweepID, Short: true},
			{Title: "Build Configurations", Value: formatNumberWithCommas(int64(builds)), Short: true},
			{Title: "Runs", Value: formatNumberWithCommas(int64(runs)), Short: true},
		},
	})
}

// SweepCompleted reports a finished sweep. Failed runs under the continue
// policy turn the message yellow and are listed.
func (n *Notifier) SweepCompleted(sweepID string, start time.Time, duration time.Duration, builds, runs int, failedRuns []string) error {
	if !n.IsEnabled() {
		return nil
	}
	att := Attachment{
		Color: colorGood,
		Title: "Sweep Completed",
		Fields: []Field{
			{Title: "Sweep ID", Value: sweepID, Short: true},
			{Title: "Started", Value: start.Format(time.RFC3339), Short: true},
			{Title: "Duration", Value: formatDuration(duration), Short: true},
			{Title: "Builds", Value: formatNumberWithCommas(int64(builds)), Short: true},
			{Title: "Successful Runs", Value: formatNumberWithCommas(int64(runs)), Short: true},
		},
	}
	icon := ":white_check_mark:"
	if len(failedRuns) > 0 {
		att.Color = colorWarning
		att.Title = "Sweep Completed With Failed Runs"
		icon = ":warning:"
		att.Fields = append(att.Fields,
			Field{Title: "Failed Runs", Value: summarizeFailures(failedRuns), Short: false})
	}
	return n.send(icon, att)
}

// SweepFailed reports an aborted sweep.
func (n *Notifier) SweepFailed(sweepID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(":x:", Attachment{
		Color: colorDanger,
		Title: "Sweep Failed",
		Fields: []Field{
			{Title: "Sweep ID", Value: sweepID, Short: true},
			{Title: "Duration", Value: formatDuration(duration), Short: true},
			{Title: "Error", Value: errorText(err), Short: false},
		},
	})
}

// RunFailed reports one failed run the sweep moved past.
func (n *Notifier) RunFailed(sweepID, benchmark, build, args string, err error) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(":warning:", Attachment{
		Color: colorWarning,
		Title: "Benchmark Run Failed",
		Fields: []Field{
			{Title: "Sweep ID", Value: sweepID, Short: true},
			{Title: "Benchmark", Value: benchmark, Short: true},
			{Title: "Build", Value: build, Short: true},
			{Title: "Arguments", Value: args, Short: true},
			{Title: "Error", Value: errorText(err), Short: false},
		},
	})
}

func (n *Notifier) send(icon string, att Attachment) error {
	att.Footer = version.Name + " " + version.Version
	att.Ts = time.Now().Unix()
	msg := SlackMessage{
		Channel:     n.cfg.Channel,
		Username:    n.getUsername(),
		IconEmoji:   icon,
		Attachments: []Attachment{att},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}
	resp, err := n.client.Post(n.cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sending slack message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) getUsername() string {
	if n.cfg != nil && n.cfg.Username != "" {
		return n.cfg.Username
	}
	return version.Name
}

func errorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	s := err.Error()
	if len(s) > maxErrorLen {
		s = s[:maxErrorLen] + "..."
	}
	return s
}

func summarizeFailures(runs []string) string {
	if len(runs) <= maxFailedRuns {
		return strings.Join(runs, ", ")
	}
	return fmt.Sprintf("%s... and %d more", strings.Join(runs[:maxFailedRuns], ", "), len(runs)-maxFailedRuns)
}

// formatNumberWithCommas renders n with thousands separators.
func formatNumberWithCommas(n int64) string {
	if n < 0 {
		return "-" + formatNumberWithCommas(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatDuration renders d as "1h 2m 3s", rounded to the second.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
