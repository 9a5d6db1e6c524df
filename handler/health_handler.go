package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether the credential store answers.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	ping Pinger
}

func NewHealthHandler(ping Pinger) *HealthHandler {
	return &HealthHandler{ping: ping}
}

// HealthCheck godoc
// @Summary      Show the status of server
// @Description  get the status of server and its credential store
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /health [get]
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "credential store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "API is healthy and running"})
}
