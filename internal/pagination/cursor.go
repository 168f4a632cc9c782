package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Cursor is the position after the last item of a page, ordered by
// (Timestamp, LastID) descending.
type Cursor struct {
	LastID    string
	Timestamp time.Time
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var ErrInvalidCursor = errors.New("invalid cursor format")

// EncodeCursor creates a base64-encoded cursor from the last item ID and timestamp
func EncodeCursor(lastID string, timestamp time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := lastID + "|" + timestamp.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor returns nil for an empty cursor.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	id, ts, ok := strings.Cut(string(decoded), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}

	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{LastID: id, Timestamp: timestamp}, nil
}

// ClampLimit applies DefaultLimit and MaxLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// NewPage builds a page from a result set fetched with limit+1 rows.
func NewPage[T any](items []T, limit int, key func(T) (string, time.Time)) Page[T] {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	page := Page[T]{Items: items, HasMore: hasMore}
	if hasMore && len(items) > 0 {
		page.Cursor = EncodeCursor(key(items[len(items)-1]))
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
