// Package token генерирует одноразовые URL-безопасные токены для подтверждения
// email и сброса пароля.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultBytes количество случайных байт в токене.
const DefaultBytes = 32

// Generate возвращает base64url-строку из n криптографически случайных байт.
func Generate(n int) (string, error) {
	const op = "token.Generate"
	if n <= 0 {
		n = DefaultBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// New возвращает токен длины DefaultBytes.
func New() (string, error) {
	return Generate(DefaultBytes)
}
