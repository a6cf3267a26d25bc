package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"wrapped conflict", fmt.Errorf("saving query: %w", ErrConflict), http.StatusConflict},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"worker fault", fmt.Errorf("search: %w", ErrWorkerFault), http.StatusServiceUnavailable},
		{"gateway closed", ErrGatewayClosed, http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"app error wins", New(ErrNotFound, http.StatusGone, "gone"), http.StatusGone},
		{"unknown", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrConflict, http.StatusConflict, "query %s was modified", "abc")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "conflict: query abc was modified", err.Error())
}
