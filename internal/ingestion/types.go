// Package ingestion defines the request/response types and Kafka event schemas
// used by the document write path.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
)

// Operation is the kind of change a DocumentEvent carries.
type Operation string

const (
	OpIndex  Operation = "index"
	OpDelete Operation = "delete"
)

// DocumentEvent is the Kafka message payload for one write. Events for the
// same identifier share a partition key, so they are applied in order.
type DocumentEvent struct {
	Op         Operation         `json:"op"`
	ID         string            `json:"id"`
	Document   document.Document `json:"document,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// Write statuses reported to callers.
const (
	StatusBuffered = "buffered"
	StatusQueued   = "queued"
)

// IndexResponse is returned once a document is accepted.
type IndexResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// DeleteResponse is returned once a delete is accepted. Found is only known
// when the delete was applied directly to the index.
type DeleteResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Found      *bool  `json:"found,omitempty"`
}

// BulkItemError describes one rejected document of a bulk request.
type BulkItemError struct {
	Index      int               `json:"index"`
	DocumentID string            `json:"document_id,omitempty"`
	Error      string            `json:"error"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// BulkResponse summarises a bulk request.
type BulkResponse struct {
	Accepted int             `json:"accepted"`
	Failed   int             `json:"failed"`
	Status   string          `json:"status"`
	Errors   []BulkItemError `json:"errors,omitempty"`
}
