package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/docintel/internal/api"
	"github.com/cloo-solutions/docintel/internal/service"
)

type SummaryService interface {
	Summarize(ctx context.Context, text string) (*service.SummaryOutput, error)
}

type SummaryHandler struct {
	svc SummaryService
}

func NewSummaryHandler(svc SummaryService) *SummaryHandler {
	return &SummaryHandler{svc: svc}
}

type SummarizeRequest struct {
	Text string `json:"text"`
}

type SummarizeResponse struct {
	Summary   string `json:"summary"`
	Truncated bool   `json:"truncated"`
	Cached    bool   `json:"cached"`
}

func (h *SummaryHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req SummarizeRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	out, err := h.svc.Summarize(r.Context(), req.Text)
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusOK, SummarizeResponse{
		Summary:   out.Summary,
		Truncated: out.Truncated,
		Cached:    out.Cached,
	})
}
