// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON-ответов HTTP-обработчиков: конверт ошибки, сообщения
// и перевод ошибок валидации в детали.
package response

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
)

// StatusError значение поля status в ответе с ошибкой.
const StatusError = "Error"

// ErrorBody описание ошибки для клиента.
type ErrorBody struct {
	Code      string         `json:"code" example:"VALIDATION_ERROR"`
	Message   string         `json:"message" example:"request validation failed"`
	Timestamp string         `json:"timestamp" example:"2024-01-01T09:00:00Z"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ErrorResponse конверт ответа с ошибкой.
type ErrorResponse struct {
	Status string    `json:"status" example:"Error"`
	Error  ErrorBody `json:"error"`
}

// MessageResponse ответ операций без данных.
type MessageResponse struct {
	Message string `json:"message" example:"Password changed successfully"`
}

// Message возвращает MessageResponse.
func Message(msg string) MessageResponse {
	return MessageResponse{Message: msg}
}

// Error собирает конверт ошибки для запроса.
func Error(r *http.Request, e *apperr.Error) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error: ErrorBody{
			Code:      e.Code,
			Message:   e.Message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RequestID: middleware.GetReqID(r.Context()),
			Details:   e.Details,
		},
	}
}

// Fail переводит ошибку в HTTP-статус и пишет конверт ошибки. Внутренние
// ошибки логируются целиком, клиент получает только общее сообщение.
func Fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	e := apperr.From(err)
	status := e.Kind.HTTPStatus()

	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("code", e.Code), sl.Err(err))
		if e.Kind == apperr.KindInternal {
			e = apperr.ErrInternal
		}
	} else {
		log.Info("request rejected", slog.String("code", e.Code), slog.String("reason", e.Message))
	}

	render.Status(r, status)
	render.JSON(w, r, Error(r, e))
}

// ValidationError формирует ошибку валидации с описанием каждого поля в Details.
func ValidationError(errs validator.ValidationErrors) *apperr.Error {
	details := make(map[string]any, len(errs))

	for _, err := range errs {
		var msg string
		switch err.ActualTag() {
		case "required":
			msg = "field is required"
		case "email":
			msg = "must be a valid email address"
		case "password":
			msg = "must be 8-128 characters with upper-case, lower-case letters and a digit"
		case "eqfield":
			msg = fmt.Sprintf("must match %s", err.Param())
		case "max":
			msg = fmt.Sprintf("must be at most %s characters", err.Param())
		case "min":
			msg = fmt.Sprintf("must be at least %s characters", err.Param())
		default:
			msg = "is not valid"
		}
		details[err.Field()] = msg
	}
	return apperr.ErrValidation.WithDetails(details)
}
