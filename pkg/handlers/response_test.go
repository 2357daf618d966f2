package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestErrorResponse(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, ErrorResponse(w, code, "some_code", "details"))

			assert.Equal(t, code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body map[string]string
			decodeBody(t, w, &body)
			assert.Equal(t, map[string]string{"error": "some_code", "message": "details"}, body)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"}))
	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	decodeBody(t, w, &health)
	assert.Equal(t, "ok", health.Status)

	w = httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusCreated, map[string]int{"count": 5}))
	assert.Equal(t, http.StatusCreated, w.Code)

	// Channels cannot be encoded.
	assert.Error(t, WriteJSON(httptest.NewRecorder(), http.StatusOK, make(chan int)))
}

func TestWriteOK_WrapsData(t *testing.T) {
	w := httptest.NewRecorder()

	writeOK(w, http.StatusAccepted, map[string]string{"run_id": "abc"}, zap.NewNop())

	if w.Code != http.StatusAccepted {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusAccepted)
	}
	var body struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if !body.Success || body.Data["run_id"] != "abc" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", fmt.Errorf("run 1: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"audit disabled", apperrors.ErrAuditDisabled, http.StatusConflict, "audit_disabled"},
		{"unknown data source", fmt.Errorf("%w: x", apperrors.ErrUnknownDataSource), http.StatusBadRequest, "unknown_data_source"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			writeServiceError(w, tt.err, "do the thing", zap.NewNop())

			if w.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body["error"] != tt.wantCode {
				t.Errorf("body[error] = %q, want %q", body["error"], tt.wantCode)
			}
		})
	}
}
