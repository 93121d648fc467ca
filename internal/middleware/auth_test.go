package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
	"github.com/mmeshcher/ittrkart-backend/internal/token"
)

func issueToken(t *testing.T, m *token.Manager, u *model.User) string {
	t.Helper()

	signed, err := m.IssueSession(u)
	if err != nil {
		t.Fatalf("IssueSession error: %v", err)
	}
	return signed
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	tokens := token.NewManager("test-secret")
	a := NewAuthMiddleware(tokens)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		p, ok := GetPrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("principal not in context")
		}
		if p.UserID != 42 {
			t.Fatalf("principal user id = %d, want 42", p.UserID)
		}
		if p.Role != model.RoleCustomer {
			t.Fatalf("principal role = %q, want customer", p.Role)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+issueToken(t, tokens, &model.User{ID: 42, Email: "a@x.com"}))

	a.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	a := NewAuthMiddleware(token.NewManager("test-secret"))

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()

	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler must not be called")
	})).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ForeignToken(t *testing.T) {
	a := NewAuthMiddleware(token.NewManager("test-secret"))

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+issueToken(t, token.NewManager("other-secret"), &model.User{ID: 1}))

	w := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler must not be called")
	})).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdmin(t *testing.T) {
	tokens := token.NewManager("test-secret")
	a := NewAuthMiddleware(tokens)

	tests := []struct {
		name string
		user *model.User
		want int
	}{
		{name: "admin allowed", user: &model.User{ID: 1, IsAdmin: true}, want: http.StatusOK},
		{name: "vendor rejected", user: &model.User{ID: 2, IsVendor: true}, want: http.StatusUnauthorized},
		{name: "customer rejected", user: &model.User{ID: 3}, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			r.Header.Set("Authorization", "Bearer "+issueToken(t, tokens, tt.user))

			w := httptest.NewRecorder()
			handler := a.Middleware(a.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})))
			handler.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireVendor_AdminSatisfies(t *testing.T) {
	tokens := token.NewManager("test-secret")
	a := NewAuthMiddleware(tokens)

	tests := []struct {
		name string
		user *model.User
		want int
	}{
		{name: "vendor allowed", user: &model.User{ID: 1, IsVendor: true}, want: http.StatusOK},
		{name: "admin allowed", user: &model.User{ID: 2, IsAdmin: true}, want: http.StatusOK},
		{name: "customer rejected", user: &model.User{ID: 3}, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/upload", nil)
			r.Header.Set("Authorization", "Bearer "+issueToken(t, tokens, tt.user))

			w := httptest.NewRecorder()
			handler := a.Middleware(a.RequireVendor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})))
			handler.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
