package response

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "reqid123"))
}

func TestFail(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "domain error",
			err:         apperr.ErrNotFound,
			wantStatus:  http.StatusNotFound,
			wantCode:    "NOT_FOUND",
			wantMessage: "resource not found",
		},
		{
			name:        "wrapped domain error",
			err:         errors.Join(errors.New("ctx"), apperr.ErrRateLimited),
			wantStatus:  http.StatusTooManyRequests,
			wantCode:    "RATE_LIMIT_EXCEEDED",
			wantMessage: "rate limit exceeded",
		},
		{
			name:        "infra error hides details",
			err:         errors.New("pq: connection refused on 10.0.0.5"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL_ERROR",
			wantMessage: "internal server error",
		},
		{
			name:        "upstream keeps its message",
			err:         apperr.New(apperr.KindUpstream, "BILLING_ERROR", "billing provider request failed").WithErr(errors.New("stripe 500")),
			wantStatus:  http.StatusBadGateway,
			wantCode:    "BILLING_ERROR",
			wantMessage: "billing provider request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Fail(rec, newRequest(), newNoopLogger(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var got ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, StatusError, got.Status)
			assert.Equal(t, tt.wantCode, got.Error.Code)
			assert.Equal(t, tt.wantMessage, got.Error.Message)
			assert.Equal(t, "reqid123", got.Error.RequestID)
			assert.NotEmpty(t, got.Error.Timestamp)
			assert.NotContains(t, rec.Body.String(), "10.0.0.5")
		})
	}
}

func TestValidationError(t *testing.T) {
	type TestStruct struct {
		Email   string `validate:"required,email"`
		Name    string `validate:"required"`
		Repeat  string `validate:"eqfield=Name"`
		Comment string `validate:"max=3"`
	}

	v := validator.New()
	err := v.Struct(TestStruct{Email: "not-an-email", Repeat: "x", Comment: "long"})
	require.Error(t, err)

	e := ValidationError(err.(validator.ValidationErrors))

	assert.ErrorIs(t, e, apperr.ErrValidation)
	assert.Equal(t, "must be a valid email address", e.Details["Email"])
	assert.Equal(t, "field is required", e.Details["Name"])
	assert.Equal(t, "must match Name", e.Details["Repeat"])
	assert.Equal(t, "must be at most 3 characters", e.Details["Comment"])
}

func TestMessage(t *testing.T) {
	assert.Equal(t, MessageResponse{Message: "ok"}, Message("ok"))
}
