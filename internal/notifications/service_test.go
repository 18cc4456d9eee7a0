package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/config"
	"castline/internal/notifications"
)

type ntfyRequest struct {
	Title, Tags, Priority, Body string
}

// ntfyRecorder is a fake ntfy topic that keeps every request it receives.
type ntfyRecorder struct {
	mu       sync.Mutex
	requests []ntfyRequest
}

func (r *ntfyRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, ntfyRequest{
		Title:    req.Header.Get("Title"),
		Tags:     req.Header.Get("Tags"),
		Priority: req.Header.Get("Priority"),
		Body:     string(body),
	})
	r.mu.Unlock()
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (r *ntfyRecorder) all() []ntfyRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ntfyRequest(nil), r.requests...)
}

func newTopic(t *testing.T, handler http.Handler, tweak func(*config.Notifications)) notifications.Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	if tweak != nil {
		tweak(&cfg.Notifications)
	}
	return notifications.NewService(&cfg)
}

func TestPublishWithoutTopicIsSilent(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventUnitFailed, notifications.Payload{"unit_id": 1})
	assert.NoError(t, err)
}

func TestPublishFormatsMessages(t *testing.T) {
	cases := map[string]struct {
		event   notifications.Event
		payload notifications.Payload
		want    ntfyRequest
	}{
		"unit failed": {
			event:   notifications.EventUnitFailed,
			payload: notifications.Payload{"unit_id": int64(7), "title": "Garden Hour", "stage": "translate", "error": "rate limited"},
			want: ntfyRequest{
				Title:    "Castline - Unit Failed",
				Tags:     "castline,unit,failed",
				Priority: "high",
				Body:     "Garden Hour (unit #7) failed at translate: rate limited",
			},
		},
		"unit completed": {
			event:   notifications.EventUnitCompleted,
			payload: notifications.Payload{"unit_id": int64(3), "title": "Roman Roads", "cost": 1.25},
			want: ntfyRequest{
				Title: "Castline - Unit Complete",
				Tags:  "castline,unit,completed",
				Body:  "Published: Roman Roads (unit #3) (cost $1.2500)",
			},
		},
		"batch stopped": {
			event: notifications.EventBatchFinished,
			payload: notifications.Payload{
				"batch_id": "0123456789abcdef", "state": "stopped",
				"completed": 2, "failed": 1, "remaining": 4,
				"cost": 0.5, "duration": 90 * time.Second,
			},
			want: ntfyRequest{
				Title: "Castline - Batch Stopped",
				Tags:  "castline,batch,stopped",
				Body:  "Batch 01234567: 2 completed, 1 failed, 4 remaining, cost $0.5000 in 1m30s",
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := &ntfyRecorder{}
			svc := newTopic(t, rec, nil)
			require.NoError(t, svc.Publish(context.Background(), tc.event, tc.payload))
			got := rec.all()
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0])
		})
	}
}

func TestPublishSkipsDisabledEvents(t *testing.T) {
	rec := &ntfyRecorder{}
	svc := newTopic(t, rec, func(n *config.Notifications) { n.UnitCompleted = false })
	for _, event := range []notifications.Event{
		notifications.EventUnitDetected,
		notifications.EventBatchStarted,
		notifications.EventUnitCompleted,
	} {
		assert.NoError(t, svc.Publish(context.Background(), event, notifications.Payload{"unit_id": 1}), event)
	}
	assert.Empty(t, rec.all())
}

func TestPublishReportsRejectedRequests(t *testing.T) {
	svc := newTopic(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic not allowed", http.StatusForbidden)
	}), nil)
	assert.Error(t, svc.Publish(context.Background(), notifications.EventTest, nil))
}
