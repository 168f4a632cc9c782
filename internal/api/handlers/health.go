package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/docintel/internal/api"
	"github.com/cloo-solutions/docintel/internal/database"
)

// CacheProbe reports whether the cache backend answers.
type CacheProbe interface {
	Healthy(ctx context.Context) bool
}

type HealthHandler struct {
	cache     CacheProbe
	poolStats func() database.Stats
}

func NewHealthHandler(cache CacheProbe) *HealthHandler {
	return &HealthHandler{cache: cache}
}

// WithPoolStats adds connection pool figures to the health payload.
func (h *HealthHandler) WithPoolStats(fn func() database.Stats) *HealthHandler {
	h.poolStats = fn
	return h
}

type HealthResponse struct {
	Status   string          `json:"status"`
	Cache    string          `json:"cache"`
	Database *database.Stats `json:"database,omitempty"`
}

// Health always answers 200 while the process serves requests. An
// unreachable cache only degrades the service.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Cache: "ok"}
	if h.cache == nil || !h.cache.Healthy(r.Context()) {
		resp.Status = "degraded"
		resp.Cache = "unreachable"
	}
	if h.poolStats != nil {
		stats := h.poolStats()
		resp.Database = &stats
	}
	api.Success(w, http.StatusOK, resp)
}
