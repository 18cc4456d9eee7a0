package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"castline/internal/config"
)

const userAgent = "castline/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventUnitDetected  Event = "unit_detected"
	EventUnitFailed    Event = "unit_failed"
	EventUnitCompleted Event = "unit_completed"
	EventBatchStarted  Event = "batch_started"
	EventBatchFinished Event = "batch_finished"
	EventTest          Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventUnitDetected:  false,
			EventUnitFailed:    cfg.Notifications.UnitFailed,
			EventUnitCompleted: cfg.Notifications.UnitCompleted,
			EventBatchStarted:  false,
			EventBatchFinished: cfg.Notifications.BatchFinished,
			EventTest:          true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventUnitFailed:
		return message{
			title:    "Castline - Unit Failed",
			body:     fmt.Sprintf("%s failed at %s: %s", unitLabel(payload), payload.text("stage"), payload.text("error")),
			tags:     []string{"castline", "unit", "failed"},
			priority: "high",
		}, true
	case EventUnitCompleted:
		body := fmt.Sprintf("Published: %s", unitLabel(payload))
		if cost, ok := payload["cost"].(float64); ok {
			body += fmt.Sprintf(" (cost $%.4f)", cost)
		}
		return message{
			title: "Castline - Unit Complete",
			body:  body,
			tags:  []string{"castline", "unit", "completed"},
		}, true
	case EventBatchFinished:
		title := "Castline - Batch " + titleWord(payload.text("state"))
		body := fmt.Sprintf("Batch %s: %v completed, %v failed, %v remaining, cost $%.4f",
			shortID(payload.text("batch_id")), payload["completed"], payload["failed"], payload["remaining"], payload.float("cost"))
		if d, ok := payload["duration"].(time.Duration); ok {
			body += " in " + d.Round(time.Second).String()
		}
		return message{title: title, body: body, tags: []string{"castline", "batch", payload.text("state")}}, true
	case EventTest:
		return message{
			title:    "Castline - Test",
			body:     "Notification system test",
			tags:     []string{"castline", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) float(key string) float64 {
	if v, ok := p[key].(float64); ok {
		return v
	}
	return 0
}

func unitLabel(p Payload) string {
	title := p.text("title")
	id := p.text("unit_id")
	switch {
	case title != "" && id != "":
		return fmt.Sprintf("%s (unit #%s)", title, id)
	case title != "":
		return title
	default:
		return "unit #" + id
	}
}

func titleWord(s string) string {
	if s == "" {
		return "Finished"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
