package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"lv-tradecore/internal/httputil"
)

// Pinger is the storage backend's reachability check. A nil Pinger means
// the backend lives in process and is always reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db        Pinger
	backend   string
	startedAt time.Time
	timeout   time.Duration
}

func NewHandler(db Pinger, backend string, startedAt time.Time) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{db: db, backend: backend, startedAt: start, timeout: time.Second}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
}

type readinessResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	UptimeSec int64       `json:"uptime_sec"`
	Storage   storageStat `json:"storage"`
}

type storageStat struct {
	Backend   string `json:"backend"`
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) check(ctx context.Context) storageStat {
	st := storageStat{Backend: h.backend, Reachable: true}
	if h.db == nil {
		return st
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.db.Ping(ctx)
	cancel()
	st.PingMs = time.Since(start).Milliseconds()
	if err != nil {
		st.Reachable = false
		st.Error = err.Error()
	}
	return st
}

// Live does not touch storage.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(h.uptime(now).Seconds()),
	})
}

// Ready returns 503 while storage is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	st := h.check(r.Context())
	status, code := "ok", http.StatusOK
	if !st.Reachable {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, readinessResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(h.uptime(now).Seconds()),
		Storage:   st,
	})
}

// Metrics writes a few gauges in Prometheus text format.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	st := h.check(r.Context())
	up := 0
	if st.Reachable {
		up = 1
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "# TYPE tradecore_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "tradecore_uptime_seconds %d\n", int64(h.uptime(now).Seconds()))
	_, _ = fmt.Fprintf(w, "# TYPE tradecore_storage_up gauge\n")
	_, _ = fmt.Fprintf(w, "tradecore_storage_up{backend=%q} %d\n", h.backend, up)
	_, _ = fmt.Fprintf(w, "tradecore_storage_ping_milliseconds %d\n", st.PingMs)
	_, _ = fmt.Fprintf(w, "# TYPE tradecore_go_goroutines gauge\n")
	_, _ = fmt.Fprintf(w, "tradecore_go_goroutines %d\n", runtime.NumGoroutine())
}
