package middleware

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Requests slower than this are flagged so they stand out in the log.
const slowRequestThreshold = 2 * time.Second

type accessLogEntry struct {
	Timestamp  string `json:"ts"`
	Method     string `json:"method"`
	Route      string `json:"route,omitempty"`
	Path       string `json:"path"`
	DocumentID string `json:"document_id,omitempty"`
	Status     int    `json:"status"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	Slow       bool   `json:"slow,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	OwnerID    string `json:"owner_id,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// statusWriter records what the handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// AccessLog writes one JSON line per request. The route is the chi pattern,
// so /documents/{id} aggregates across documents.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		entry := accessLogEntry{
			Timestamp:  start.UTC().Format(time.RFC3339Nano),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     sw.status,
			Bytes:      sw.size,
			DurationMS: elapsed.Milliseconds(),
			Slow:       elapsed > slowRequestThreshold,
			RequestID:  GetRequestID(r.Context()),
			OwnerID:    GetOwnerID(r.Context()),
			RemoteAddr: remoteIP(r),
		}
		if entry.Status == 0 {
			entry.Status = http.StatusOK
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			entry.Route = rctx.RoutePattern()
			entry.DocumentID = rctx.URLParam("id")
		}

		line, err := json.Marshal(entry)
		if err != nil {
			log.Printf("access log: %v", err)
			return
		}
		log.Println(string(line))
	})
}

// remoteIP prefers the first X-Forwarded-For hop set by the proxy.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
