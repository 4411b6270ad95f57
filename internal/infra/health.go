package infra

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Health is the single externally observable liveness signal. Beat is called
// by the auditor after each successful flush, so "healthy" means the full
// pipeline (feed, aggregator, detector, audit) is actively processing, not
// merely that the process is alive.
type Health struct {
	mu            sync.RWMutex
	lastBeat      time.Time
	startedAt     time.Time
	staleAfter    time.Duration
	heartbeatFile string
}

// NewHealth creates a liveness tracker. heartbeatFile may be empty to
// disable the file probe.
func NewHealth(staleAfter time.Duration, heartbeatFile string) *Health {
	return &Health{
		startedAt:     time.Now(),
		staleAfter:    staleAfter,
		heartbeatFile: heartbeatFile,
	}
}

// Beat records pipeline activity and refreshes the heartbeat file.
func (h *Health) Beat(t time.Time) {
	h.mu.Lock()
	h.lastBeat = t
	h.mu.Unlock()

	if h.heartbeatFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.heartbeatFile), 0755); err != nil {
		return
	}
	// Touch is best-effort; supervision falls back to the HTTP probe.
	_ = os.WriteFile(h.heartbeatFile, []byte(strconv.FormatInt(t.Unix(), 10)+"\n"), 0644)
}

// Status returns "healthy" while the pipeline has written recently, "stale"
// once it has not, and "starting" before the first beat.
func (h *Health) Status(now time.Time) string {
	h.mu.RLock()
	last := h.lastBeat
	h.mu.RUnlock()

	if last.IsZero() {
		return "starting"
	}
	if now.Sub(last) > h.staleAfter {
		return "stale"
	}
	return "healthy"
}

// LastBeat returns the time of the most recent pipeline write.
func (h *Health) LastBeat() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastBeat
}

// Handler serves the /health endpoint.
func (h *Health) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		resp := map[string]any{
			"status":           h.Status(now),
			"last_audit_write": h.LastBeat(),
			"uptime_sec":       int64(now.Sub(h.startedAt).Seconds()),
			"service":          "arbitrage-engine",
		}

		w.Header().Set("Content-Type", "application/json")
		if resp["status"] == "stale" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Serve runs the health endpoint until the listener fails. Intended to be
// launched in its own goroutine.
func (h *Health) Serve(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Handler())

	addr := ":" + strconv.Itoa(port)
	slog.Info("Health endpoint started", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Health endpoint failed", slog.Any("error", err))
	}
}
