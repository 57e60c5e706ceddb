// Package request разбирает и валидирует JSON-тела запросов.
package request

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/password"
)

// maxBodySize ограничение размера тела запроса.
const maxBodySize = 1 << 20

// NewValidator создаёт валидатор, который называет поля по json-тегам и
// знает правило password.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return password.Validate(fl.Field().String()) == nil
	})
	return v
}

// Decode читает JSON из тела в dst и проверяет его валидатором.
// Пустое тело допустимо, если allowEmpty. Ошибки возвращаются как *apperr.Error.
func Decode(r *http.Request, v *validator.Validate, dst any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
	switch {
	case errors.Is(err, io.EOF) && allowEmpty:
	case err != nil:
		return apperr.ErrBadRequest.WithErr(err)
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return response.ValidationError(verrs)
		}
		return apperr.ErrBadRequest.WithErr(err)
	}
	return nil
}
