// Package apperr описывает доменные ошибки, которые HTTP-слой переводит в статусы.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind класс ошибки.
type Kind int

// Классы ошибок.
const (
	KindInternal Kind = iota
	KindValidation
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindUpstream
)

// Error доменная ошибка с машиночитаемым кодом.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с сентинелами
// после WithErr и WithDetails.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithErr возвращает копию ошибки с причиной.
func (e *Error) WithErr(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// WithDetails возвращает копию ошибки с деталями для клиента.
func (e *Error) WithDetails(details map[string]any) *Error {
	c := *e
	c.Details = details
	return &c
}

// New создаёт ошибку.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// HTTPStatus возвращает HTTP-статус для класса ошибки.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// From извлекает *Error из цепочки. Для прочих ошибок возвращает ErrInternal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithErr(err)
}

// Общие ошибки.
var (
	ErrInternal         = New(KindInternal, "INTERNAL_ERROR", "internal server error")
	ErrValidation       = New(KindValidation, "VALIDATION_ERROR", "request validation failed")
	ErrBadRequest       = New(KindBadRequest, "BAD_REQUEST", "invalid request body")
	ErrUnauthorized     = New(KindUnauthorized, "UNAUTHORIZED", "could not validate credentials")
	ErrForbidden        = New(KindForbidden, "FORBIDDEN", "access denied")
	ErrNotFound         = New(KindNotFound, "NOT_FOUND", "resource not found")
	ErrRateLimited      = New(KindRateLimited, "RATE_LIMIT_EXCEEDED", "rate limit exceeded")
	ErrInvalidSignature = New(KindBadRequest, "INVALID_SIGNATURE", "invalid webhook signature")
)
