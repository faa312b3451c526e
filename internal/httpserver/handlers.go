package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"acc_linker/internal/domain"
)

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type readyzResponse struct {
	Ready bool `json:"ready"`
}

type linksResponse struct {
	Count int           `json:"count"`
	Links []domain.Link `json:"links"`
}

func healthz(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, healthzResponse{
			Status:        "ok",
			UptimeSeconds: time.Since(started).Seconds(),
		})
	}
}

// readyz reports ready once persisted links have been loaded.
func readyz(links Links) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := links.Loaded()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, readyzResponse{Ready: ready})
	}
}

func listLinks(links Links) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var result []domain.Link
		if upstream := r.URL.Query().Get("upstream"); upstream != "" {
			result = links.ByUpstream(upstream)
		} else {
			result = links.Snapshot()
		}
		if result == nil {
			result = []domain.Link{}
		}
		writeJSON(w, http.StatusOK, linksResponse{Count: len(result), Links: result})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
