// Package middleware содержит HTTP middleware сервиса IttrKart.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
	"github.com/mmeshcher/ittrkart-backend/internal/token"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal описывает аутентифицированного пользователя запроса.
type Principal struct {
	UserID int64
	Name   string
	Email  string
	Role   model.Role
}

// AuthMiddleware выполняет проверку аутентификации пользователя по
// самодостаточному подписанному токену из заголовка Authorization.
type AuthMiddleware struct {
	tokens *token.Manager
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным менеджером токенов.
func NewAuthMiddleware(tokens *token.Manager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// Middleware проверяет bearer-токен и добавляет данные пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		if authorization == "" {
			writeMessage(w, http.StatusUnauthorized, "No Token")
			return
		}

		tokenString := strings.TrimPrefix(authorization, "Bearer ")

		claims, err := a.tokens.Parse(tokenString)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid Token")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid Token")
			return
		}

		principal := &Principal{
			UserID: userID,
			Name:   claims.Name,
			Email:  claims.Email,
			Role:   model.RoleFromFlags(claims.IsAdmin, claims.IsVendor),
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только запросы пользователей с возможностью администрирования.
func (a *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipalFromContext(r.Context())
		if !ok || !p.Role.Can(model.CapabilityAdministration) {
			writeMessage(w, http.StatusUnauthorized, "Invalid Admin Token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireVendor пропускает запросы продавцов и администраторов.
func (a *AuthMiddleware) RequireVendor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipalFromContext(r.Context())
		if !ok || !p.Role.Can(model.CapabilityFulfillment) {
			writeMessage(w, http.StatusUnauthorized, "Invalid Vendor Token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipalFromContext извлекает данные пользователя из контекста запроса.
func GetPrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}
