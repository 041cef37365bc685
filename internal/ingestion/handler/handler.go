// Package handler serves the document write API. Writes go straight to the
// index engine, or to Kafka when a publisher is configured.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
)

const maxBulkBytes = 32 << 20

// Indexer is the write side of *indexer.Engine.
type Indexer interface {
	IndexDocument(doc document.Document) (string, error)
	DeleteDocument(id string) (bool, error)
}

type Handler struct {
	indexer   Indexer
	publisher *publisher.Publisher
	idField   string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Handler. With a non-nil pub, writes are queued to Kafka and
// answered with 202; otherwise they are buffered in idx directly. m may be
// nil.
func New(idx Indexer, pub *publisher.Publisher, idField string, m *metrics.Metrics) *Handler {
	return &Handler{
		indexer:   idx,
		publisher: pub,
		idField:   idField,
		metrics:   m,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Create)
	mux.HandleFunc("POST /api/v1/documents/_bulk", h.Bulk)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.Delete)
}

// Create indexes the request body. A document without an identifier is
// assigned a random one.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.decode(w, r)
	if !ok {
		return
	}
	if _, present := doc[h.idField]; !present {
		doc[h.idField] = document.String(uuid.NewString())
	}
	h.index(w, r, doc, http.StatusCreated)
}

// Update replaces the document named in the path. An identifier in the
// body must match it.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.validate(w, validator.ValidateID(id)) {
		return
	}
	doc, ok := h.decode(w, r)
	if !ok {
		return
	}
	if v, present := doc[h.idField]; present && (v.Kind != document.StringValue || v.Str != id) {
		h.validate(w, &validator.ValidationError{Fields: map[string]string{
			h.idField: fmt.Sprintf("body identifier does not match path identifier %q", id),
		}})
		return
	}
	doc[h.idField] = document.String(id)
	h.index(w, r, doc, http.StatusOK)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request, doc document.Document, status int) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	if !h.validate(w, validator.ValidateDocument(doc, h.idField)) {
		return
	}
	id := doc[h.idField].Str

	if h.publisher != nil {
		if err := h.publisher.Index(ctx, id, doc); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "failed to queue document")
			return
		}
		log.Info("document queued", "doc_id", id)
		h.writeJSON(w, http.StatusAccepted, ingestion.IndexResponse{DocumentID: id, Status: ingestion.StatusQueued})
		return
	}

	if _, err := h.indexer.IndexDocument(doc); err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Warn("document rejected", "doc_id", id, "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.DocsIndexedTotal.Inc()
	}
	log.Info("document buffered", "doc_id", id)
	h.writeJSON(w, status, ingestion.IndexResponse{DocumentID: id, Status: ingestion.StatusBuffered})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	id := r.PathValue("id")
	if !h.validate(w, validator.ValidateID(id)) {
		return
	}

	if h.publisher != nil {
		if err := h.publisher.Delete(ctx, id); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "failed to queue delete")
			return
		}
		log.Info("delete queued", "doc_id", id)
		h.writeJSON(w, http.StatusAccepted, ingestion.DeleteResponse{DocumentID: id, Status: ingestion.StatusQueued})
		return
	}

	found, err := h.indexer.DeleteDocument(id)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("delete failed", "doc_id", id, "error", err)
		h.writeError(w, statusCode, err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.DocsDeletedTotal.Inc()
	}
	log.Info("delete buffered", "doc_id", id, "found", found)
	status := http.StatusOK
	if !found {
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, ingestion.DeleteResponse{DocumentID: id, Status: ingestion.StatusBuffered, Found: &found})
}

// Bulk indexes a stream of JSON documents. Invalid documents are reported
// individually and do not stop the rest.
func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBulkBytes))

	resp := ingestion.BulkResponse{Status: ingestion.StatusBuffered}
	var ids []string
	var queued []document.Document
	for i := 0; ; i++ {
		var doc document.Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON at document %d: %v", i, err))
			return
		}
		if doc == nil {
			doc = document.Document{}
		}
		if _, present := doc[h.idField]; !present {
			doc[h.idField] = document.String(uuid.NewString())
		}
		if err := validator.ValidateDocument(doc, h.idField); err != nil {
			resp.Errors = append(resp.Errors, itemError(i, "", err))
			continue
		}
		id := doc[h.idField].Str
		if h.publisher != nil {
			ids = append(ids, id)
			queued = append(queued, doc)
			continue
		}
		if _, err := h.indexer.IndexDocument(doc); err != nil {
			resp.Errors = append(resp.Errors, itemError(i, id, err))
			continue
		}
		resp.Accepted++
	}

	if h.publisher != nil && len(queued) > 0 {
		if err := h.publisher.IndexBatch(ctx, ids, queued); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "failed to queue documents")
			return
		}
		resp.Accepted = len(queued)
		resp.Status = ingestion.StatusQueued
	}
	resp.Failed = len(resp.Errors)
	if h.metrics != nil && h.publisher == nil {
		h.metrics.DocsIndexedTotal.Add(float64(resp.Accepted))
	}

	log.Info("bulk request processed", "accepted", resp.Accepted, "failed", resp.Failed, "status", resp.Status)
	status := http.StatusOK
	if h.publisher != nil {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}

func itemError(i int, id string, err error) ingestion.BulkItemError {
	item := ingestion.BulkItemError{Index: i, DocumentID: id, Error: err.Error()}
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		item.Error = "validation failed"
		item.Fields = validationErr.Fields
	}
	return item
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (document.Document, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validator.MaxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("document exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	doc, err := document.ParseJSON(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return doc, true
}

// validate writes a 400 response for err and reports whether err was nil.
func (h *Handler) validate(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return false
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
	return false
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
