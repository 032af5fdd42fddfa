package errors

import (
	"errors"
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
		{"app error wins", New(ErrInvalidArgument, http.StatusTeapot, "x"), http.StatusTeapot},
		{"wrapped invalid path", fmt.Errorf("flatten: %w", ErrInvalidCategoryPath), http.StatusBadRequest},
		{"closed", fmt.Errorf("%w: reader", ErrObjectClosed), http.StatusServiceUnavailable},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"illegal state", ErrIllegalState, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrCorruptData, http.StatusInternalServerError, "segment %d", 3)
	assert.ErrorIs(t, err, ErrCorruptData)
	assert.Equal(t, "corrupt data: segment 3", err.Error())
}
