package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", Transient("embed", errors.New("throttled")), true},
		{"timeout kind", Timeout("search", context.DeadlineExceeded), true},
		{"bare deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"unknown", errors.New("boom"), true},
		{"non extractable", NonExtractable("extract", "scanned"), false},
		{"config drift", Config("ingest", "dimension mismatch"), false},
		{"terminal job", fmt.Errorf("update: %w", ErrJobTerminal), false},
		{"empty doc", ErrEmptyDocument, false},
		{"canceled", context.Canceled, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("stage: %w", NotReady("chat", "dataset status is PROCESSING"))

	assert.True(t, Is(err, KindNotReady))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
	assert.Contains(t, err.Error(), "PROCESSING")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("chat", "dataset not found")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Invalid("search", "empty query")))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(Timeout("chat", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}
