package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key namespaces.
const (
	SummaryPrefix  = "summary:"
	SearchPrefix   = "search:"
	DocumentPrefix = "doc:"
)

// SummaryModelKey records the summary model whose output fills the summary
// namespace.
const SummaryModelKey = "meta:summary_model"

// Normalize collapses whitespace runs to single spaces and lowercases the text.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// ContentHash is the hex SHA-256 of the normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// SummaryKey addresses a summary by the content it was computed from,
// so identical documents uploaded separately share one entry.
func SummaryKey(text string) string {
	return SummaryPrefix + ContentHash(text)
}

// SearchKey scopes a query's results to one corpus version.
func SearchKey(corpusVersion int64, query string, topK int) string {
	return SearchPrefix + strconv.FormatInt(corpusVersion, 10) + ":" + ContentHash(query+"\x00"+strconv.Itoa(topK))
}

// SearchVersionPrefix matches every search entry of one corpus version.
func SearchVersionPrefix(corpusVersion int64) string {
	return SearchPrefix + strconv.FormatInt(corpusVersion, 10) + ":"
}

// DocumentKey addresses a document by its identifier.
func DocumentKey(documentID string) string {
	return DocumentPrefix + documentID
}
