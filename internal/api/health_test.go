package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medinotify/internal/queue"
)

func getHealth(t *testing.T, s *Server) (int, healthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_NoProbes(t *testing.T) {
	code, body := getHealth(t, NewServer(Deps{}))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body.Status)
	assert.Empty(t, body.Components)
}

func TestHealth_AllHealthyWithQueueStats(t *testing.T) {
	s := NewServer(Deps{
		Probes: []HealthProbe{
			ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return nil }},
			ProbeFunc{ProbeName: "broker", Fn: func(context.Context) error { return nil }},
		},
		Queues: []QueueInspector{
			fakeQueue{name: "email-notifications", counts: queue.Counts{Wait: 3, Active: 1, Failed: 2}},
			fakeQueue{name: "sms-notifications", err: errors.New("redis down")},
		},
	})

	code, body := getHealth(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Components["database"].Status)
	assert.Equal(t, queue.Counts{Wait: 3, Active: 1, Failed: 2}, body.Queues["email-notifications"])
	assert.NotContains(t, body.Queues, "sms-notifications")
}

func TestHealth_FailingProbe(t *testing.T) {
	s := NewServer(Deps{Probes: []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return nil }},
		ProbeFunc{ProbeName: "broker", Fn: func(context.Context) error { return errors.New("event consumer disconnected") }},
		ProbeFunc{ProbeName: "redis", Fn: func(context.Context) error { panic("boom") }},
	}})

	code, body := getHealth(t, s)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "healthy", body.Components["database"].Status)
	assert.Equal(t, "event consumer disconnected", body.Components["broker"].Message)
	assert.Contains(t, body.Components["redis"].Message, "probe panicked")
}

func TestHealth_ProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := NewServer(Deps{Probes: []HealthProbe{
		ProbeFunc{ProbeName: "slow", Fn: func(context.Context) error {
			<-release
			return nil
		}},
	}})

	code, body := getHealth(t, s)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "health check timed out", body.Components["slow"].Message)
}
