package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"app error", New(ErrInvalidInput, http.StatusUnprocessableEntity, "bad"), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("get: %w", ErrDocumentNotFound), http.StatusNotFound},
		{"encode", &document.EncodeError{Field: "id", Err: document.ErrMissingIdentifier}, http.StatusBadRequest},
		{"query", &parser.QueryError{Err: parser.ErrSyntax, Msg: "unexpected )"}, http.StatusBadRequest},
		{"analyzer", fmt.Errorf("%w: %q", analyzer.ErrUnknownAnalyzer, "x"), http.StatusBadRequest},
		{"limit", fmt.Errorf("%w: got 0", executor.ErrInvalidLimit), http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unavailable", ErrUnavailable, http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}

func TestAppErrorUnwraps(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "limit %d out of range", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "invalid input: limit 0 out of range", err.Error())
}
