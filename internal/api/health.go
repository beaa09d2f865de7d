package api

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthChecker reports whether a single dependency is reachable.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type RedisChecker struct {
	Client *redis.Client
}

func (c RedisChecker) Name() string { return "redis" }

func (c RedisChecker) Check(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

type PostgresChecker struct {
	DB *sql.DB
}

func (c PostgresChecker) Name() string { return "postgres" }

func (c PostgresChecker) Check(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// HealthHandler serves liveness and readiness probes. Liveness always
// succeeds while the process runs; readiness checks every dependency
// concurrently with a short deadline.
type HealthHandler struct {
	checkers []HealthChecker
	timeout  time.Duration
	mux      *http.ServeMux
}

func NewHealthHandler(checkers ...HealthChecker) *HealthHandler {
	h := &HealthHandler{
		checkers: checkers,
		timeout:  2 * time.Second,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /health/live", h.handleLive)
	h.mux.HandleFunc("GET /health/ready", h.handleReady)
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HealthHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	type result struct {
		name    string
		err     error
		elapsed time.Duration
	}

	results := make([]result, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func(i int, c HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			results[i] = result{name: c.Name(), err: err, elapsed: time.Since(start)}
		}(i, c)
	}
	wg.Wait()

	type depStatus struct {
		Status   string `json:"status"`
		Error    string `json:"error,omitempty"`
		Duration string `json:"duration"`
	}

	status := http.StatusOK
	deps := make(map[string]depStatus, len(results))
	for _, res := range results {
		ds := depStatus{Status: "ok", Duration: res.elapsed.String()}
		if res.err != nil {
			ds.Status = "down"
			ds.Error = res.err.Error()
			status = http.StatusServiceUnavailable
		}
		deps[res.name] = ds
	}

	body := map[string]any{"status": "ok", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
