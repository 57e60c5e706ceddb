// Package password реализует хеширование паролей и проверку их сложности.
package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Границы длины пароля. bcrypt обрезает ввод после 72 байт, поэтому
// верхняя граница проверяется до хеширования.
const (
	MinLength = 8
	MaxLength = 128
)

// ErrWeakPassword возвращается, если пароль не проходит правила сложности.
var ErrWeakPassword = errors.New("password does not meet requirements")

// GetHash принимает пароль пользователя и возвращает его bcrypt‑хэш.
func GetHash(password string) (string, error) {
	const op = "password.GetHash"
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashedPassword), nil
}

// CompareHash сравнивает bcrypt‑хэш с введённым паролем.
//
// Возвращает nil, если пароль соответствует хэшу, иначе ошибку.
func CompareHash(originalHash, externalPassword string) error {
	const op = "password.CompareHash"
	if err := bcrypt.CompareHashAndPassword([]byte(originalHash), []byte(externalPassword)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Validate проверяет длину пароля и наличие заглавной, строчной буквы и цифры.
// Ошибка оборачивает ErrWeakPassword и перечисляет нарушенные правила.
func Validate(password string) error {
	var problems []string

	length := len([]rune(password))
	if length < MinLength {
		problems = append(problems, fmt.Sprintf("at least %d characters", MinLength))
	}
	if length > MaxLength {
		problems = append(problems, fmt.Sprintf("at most %d characters", MaxLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		problems = append(problems, "one uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "one lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "one digit")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: must contain %s", ErrWeakPassword, strings.Join(problems, ", "))
	}
	return nil
}
