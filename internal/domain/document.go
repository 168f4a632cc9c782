package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DocumentStatus represents the processing state of a document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// MaxErrorLength bounds the failure message stored on a document.
const MaxErrorLength = 500

// FileType is the kind of upload a document's text was extracted from
type FileType string

const (
	FileTypeText     FileType = "txt"
	FileTypeMarkdown FileType = "md"
)

// Document is an uploaded text and the artifacts derived from it.
// Content is immutable once created.
type Document struct {
	ID          string
	OwnerID     string
	Filename    string
	Title       string
	FileType    FileType
	Content     string
	ContentHash string
	Summary     string
	Status      DocumentStatus
	Truncated   bool
	WordCount   int
	Error       string
	StorageKey  string
	UploadedAt  time.Time
	ProcessedAt *time.Time
}

// NewDocument creates a pending Document
func NewDocument(id, ownerID, filename string, fileType FileType, content string, uploadedAt time.Time) *Document {
	return &Document{
		ID:         id,
		OwnerID:    ownerID,
		Filename:   filename,
		FileType:   fileType,
		Content:    content,
		Status:     DocumentStatusPending,
		UploadedAt: uploadedAt,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.OwnerID == "" {
		return fmt.Errorf("document OwnerID is required")
	}
	if d.Filename == "" {
		return fmt.Errorf("document Filename is required")
	}
	if !isValidFileType(d.FileType) {
		return fmt.Errorf("document FileType is invalid: %s", d.FileType)
	}
	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidDocumentStatus, d.Status)
	}
	return nil
}

// FileTypeFromName maps a filename extension onto a supported FileType.
func FileTypeFromName(filename string) (FileType, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "txt", "text":
		return FileTypeText, nil
	case "md", "markdown":
		return FileTypeMarkdown, nil
	}
	return "", NewDomainErrorWithCause(ErrUnsupportedFileType.Code, ErrUnsupportedFileType.Message,
		fmt.Errorf("%q: only .txt and .md are accepted", filename))
}

// FailureMessage formats a processing error for storage on the document.
func FailureMessage(err error) string {
	msg := []rune(err.Error())
	if len(msg) > MaxErrorLength {
		msg = msg[:MaxErrorLength]
	}
	return string(msg)
}

func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing,
		DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}

func isValidFileType(t FileType) bool {
	return t == FileTypeText || t == FileTypeMarkdown
}
