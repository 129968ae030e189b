package handlers

import (
	"encoding/json"
	"net/http"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Sessions *int   `json:"sessions,omitempty"`
}

// Health returns the health status of the server
func Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version})
	}
}

// Ready reports readiness together with the number of open terminal sessions.
func Ready(sessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := sessions()
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ready", Sessions: &n})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
