package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloo-solutions/docintel/internal/api"
	"github.com/cloo-solutions/docintel/internal/api/middleware"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/pagination"
	"github.com/cloo-solutions/docintel/internal/service"
	"github.com/go-chi/chi/v5"
)

type DocumentService interface {
	Upload(ctx context.Context, input service.UploadInput) (*domain.Document, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, input service.ListDocumentsInput) (pagination.Page[*domain.Document], error)
	Delete(ctx context.Context, id string) error
	Reprocess(ctx context.Context, id string) (*domain.ProcessingJob, error)
}

type SearchService interface {
	Search(ctx context.Context, query string, topK int) (*service.SearchOutput, error)
}

type DocumentHandler struct {
	docs   DocumentService
	search SearchService
}

func NewDocumentHandler(docs DocumentService, search SearchService) *DocumentHandler {
	return &DocumentHandler{docs: docs, search: search}
}

type UploadDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type UploadDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

type DocumentResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Filename    string `json:"filename"`
	Title       string `json:"title,omitempty"`
	FileType    string `json:"file_type"`
	Status      string `json:"status"`
	Summary     string `json:"summary,omitempty"`
	Truncated   bool   `json:"truncated"`
	WordCount   int    `json:"word_count"`
	Error       string `json:"error,omitempty"`
	UploadedAt  string `json:"uploaded_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

type DocumentListResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

type SearchResponse struct {
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
	Cached  bool                  `json:"cached"`
}

type ReprocessResponse struct {
	DocumentID string `json:"document_id"`
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
}

const timeLayout = "2006-01-02T15:04:05Z"

func documentToResponse(d *domain.Document) *DocumentResponse {
	resp := &DocumentResponse{
		ID:         d.ID,
		OwnerID:    d.OwnerID,
		Filename:   d.Filename,
		Title:      d.Title,
		FileType:   string(d.FileType),
		Status:     string(d.Status),
		Summary:    d.Summary,
		Truncated:  d.Truncated,
		WordCount:  d.WordCount,
		Error:      d.Error,
		UploadedAt: d.UploadedAt.UTC().Format(timeLayout),
	}
	if d.ProcessedAt != nil {
		resp.ProcessedAt = d.ProcessedAt.UTC().Format(timeLayout)
	}
	return resp
}

// Upload accepts either a multipart form with a "file" part or a JSON body
// carrying the text inline. Processing happens in the background.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	input, status, msg := readUpload(r)
	if status != 0 {
		api.Error(w, status, msg)
		return
	}
	input.OwnerID = middleware.GetOwnerID(r.Context())

	doc, err := h.docs.Upload(r.Context(), input)
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusAccepted, UploadDocumentResponse{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
	})
}

func readUpload(r *http.Request) (service.UploadInput, int, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				return service.UploadInput{}, http.StatusRequestEntityTooLarge, "upload too large"
			}
			return service.UploadInput{}, http.StatusBadRequest, "file is required"
		}
		defer file.Close()

		body, err := io.ReadAll(file)
		if err != nil {
			if isTooLarge(err) {
				return service.UploadInput{}, http.StatusRequestEntityTooLarge, "upload too large"
			}
			return service.UploadInput{}, http.StatusBadRequest, "failed to read file"
		}
		return service.UploadInput{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        body,
		}, 0, ""
	}

	var req UploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isTooLarge(err) {
			return service.UploadInput{}, http.StatusRequestEntityTooLarge, "upload too large"
		}
		return service.UploadInput{}, http.StatusBadRequest, "invalid request body"
	}
	if req.Filename == "" {
		return service.UploadInput{}, http.StatusBadRequest, "filename is required"
	}
	return service.UploadInput{
		Filename: req.Filename,
		Body:     []byte(req.Content),
	}, 0, ""
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), id)
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	page, err := h.docs.ListDocuments(r.Context(), service.ListDocumentsInput{
		OwnerID: middleware.GetOwnerID(r.Context()),
		Cursor:  r.URL.Query().Get("cursor"),
		Limit:   limit,
	})
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	items := make([]*DocumentResponse, len(page.Items))
	for i, d := range page.Items {
		items[i] = documentToResponse(d)
	}

	api.Success(w, http.StatusOK, DocumentListResponse{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.docs.Delete(r.Context(), id); err != nil {
		api.HandleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := h.docs.Reprocess(r.Context(), id)
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusAccepted, ReprocessResponse{
		DocumentID: job.DocumentID,
		JobID:      job.ID,
		Status:     string(job.Status),
	})
}

// Search ranks completed documents against the query parameter.
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
		topK = parsed
	}

	out, err := h.search.Search(r.Context(), query, topK)
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusOK, SearchResponse{
		Query:   out.Query,
		Results: out.Results,
		Cached:  out.Cached,
	})
}
