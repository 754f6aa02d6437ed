package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	middleware "github.com/markdave123-py/ragready/internal/api/middlewares"
	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/logger"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		retryable bool
	}{
		{apperr.NotFound("chat", "dataset d1 not found"), http.StatusNotFound, false},
		{apperr.NotReady("chat", "dataset d1 is PROCESSING, not READY"), http.StatusConflict, false},
		{apperr.Invalid("search", "query is empty"), http.StatusBadRequest, false},
		{apperr.Timeout("chat completion", context.DeadlineExceeded), http.StatusGatewayTimeout, true},
		{apperr.Transient("embed query", errors.New("throttled")), http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), logger.Nop(), tc.err)

		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Contains(t, rec.Body.String(), string(apperr.KindOf(tc.err)))
		if tc.retryable {
			assert.Contains(t, rec.Body.String(), `"retryable":true`)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), logger.Nop(), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestTenantOf(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := tenantOf(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(middleware.WithTenant(req.Context(), "t1"))
	id, ok := tenantOf(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, "t1", id)
}
