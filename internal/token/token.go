// Package token выпускает и проверяет подписанные токены сервиса IttrKart.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
)

const (
	sessionTTL = 30 * 24 * time.Hour
	resetTTL   = 3 * time.Hour
)

// ErrInvalidToken возвращается, если токен не прошёл проверку подписи или истёк.
var ErrInvalidToken = errors.New("invalid token")

// Claims содержит данные пользователя, зашитые в токен. Токен
// самодостаточен: после выпуска изменения учётной записи на него не влияют.
type Claims struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"isAdmin"`
	IsVendor bool   `json:"isVendor"`
	jwt.RegisteredClaims
}

// UserID возвращает идентификатор пользователя из токена.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject: %w", err)
	}
	return id, nil
}

// Manager выпускает и проверяет токены с указанным секретным ключом.
type Manager struct {
	secretKey []byte
}

// NewManager создаёт новый Manager с указанным секретным ключом.
func NewManager(secret string) *Manager {
	return &Manager{secretKey: []byte(secret)}
}

// IssueSession выпускает сессионный токен пользователя сроком на 30 дней.
func (m *Manager) IssueSession(u *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:     u.Name,
		Email:    u.Email,
		IsAdmin:  u.IsAdmin,
		IsVendor: u.IsVendor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}

	return m.sign(&claims)
}

// IssueReset выпускает токен сброса пароля сроком на 3 часа.
func (m *Manager) IssueReset(userID int64) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(resetTTL)),
		},
	}

	return m.sign(&claims)
}

func (m *Manager) sign(claims *Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := t.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Parse проверяет подпись и срок действия токена и возвращает его claims.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	return claims, nil
}
