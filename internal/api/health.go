package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"medinotify/internal/queue"
)

// healthCheckTimeout bounds all probes of one health request.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one critical dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// QueueInspector reports the sizes of one job queue.
type QueueInspector interface {
	Name() string
	Stats(ctx context.Context) (queue.Counts, error)
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
	Queues     map[string]queue.Counts    `json:"queues,omitempty"`
}

type probeResult struct {
	name string
	err  error
}

// HandleHealth runs every probe concurrently under a short deadline and
// attaches queue counts. It answers 503 when any probe fails or times out.
// Queue stats are informational and never fail the check.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	completed := s.runProbes(ctx)

	resp := healthResponse{Status: "healthy"}
	status := http.StatusOK
	if len(s.deps.Probes) > 0 {
		resp.Components = make(map[string]componentStatus, len(s.deps.Probes))
	}
	for _, probe := range s.deps.Probes {
		name := probe.Name()
		result, ok := completed[name]
		switch {
		case !ok:
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case result.err != nil:
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: result.err.Error()}
		default:
			resp.Components[name] = componentStatus{Status: "healthy"}
			continue
		}
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	if len(s.deps.Queues) > 0 {
		resp.Queues = make(map[string]queue.Counts, len(s.deps.Queues))
		for _, q := range s.deps.Queues {
			counts, err := q.Stats(ctx)
			if err != nil {
				s.logger.Warn("failed to read queue stats", "queue", q.Name(), "error", err.Error())
				continue
			}
			resp.Queues[q.Name()] = counts
		}
	}

	JSON(w, r, status, resp)
}

func (s *Server) runProbes(ctx context.Context) map[string]probeResult {
	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(s.deps.Probes))
		wg      sync.WaitGroup
	)
	for _, probe := range s.deps.Probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			var err error
			func() {
				defer func() {
					if rvr := recover(); rvr != nil {
						err = fmt.Errorf("probe panicked: %v", rvr)
					}
				}()
				err = p.Check(ctx)
			}()
			mu.Lock()
			results[p.Name()] = probeResult{name: p.Name(), err: err}
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]probeResult, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}
