// Package validator checks documents and ingest events before they reach the
// index, returning per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
)

const (
	maxIDLength = 512
	// MaxDocumentBytes bounds a single encoded request body.
	MaxDocumentBytes = 1 << 20
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func checkID(errs map[string]string, field, id string) {
	switch {
	case strings.TrimSpace(id) == "":
		errs[field] = "identifier is required"
	case len(id) > maxIDLength:
		errs[field] = fmt.Sprintf("identifier must be at most %d bytes", maxIDLength)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		errs[field] = "identifier must not contain control characters"
	}
}

// ValidateID checks a document identifier taken from a URL path.
func ValidateID(id string) error {
	errs := make(map[string]string)
	checkID(errs, "id", id)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateDocument checks that doc carries a usable string identifier under
// idField. Field values are checked against the schema by the encoder.
func ValidateDocument(doc document.Document, idField string) error {
	errs := make(map[string]string)
	if doc == nil {
		errs["document"] = "document is required"
		return &ValidationError{Fields: errs}
	}
	v, ok := doc[idField]
	switch {
	case !ok || v.Kind == document.NullValue:
		errs[idField] = "identifier is required"
	case v.Kind != document.StringValue:
		errs[idField] = fmt.Sprintf("identifier must be a string, got %s", v.Kind)
	default:
		checkID(errs, idField, v.Str)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateEvent checks a DocumentEvent consumed from Kafka.
func ValidateEvent(ev *ingestion.DocumentEvent, idField string) error {
	errs := make(map[string]string)
	switch ev.Op {
	case ingestion.OpIndex:
		if err := ValidateDocument(ev.Document, idField); err != nil {
			return err
		}
		if id := ev.Document[idField].Str; ev.ID != "" && ev.ID != id {
			errs["id"] = fmt.Sprintf("event id %q does not match document id %q", ev.ID, id)
		}
	case ingestion.OpDelete:
		checkID(errs, "id", ev.ID)
	default:
		errs["op"] = fmt.Sprintf("unknown operation %q", ev.Op)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
