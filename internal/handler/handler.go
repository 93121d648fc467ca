// Package handler содержит HTTP-обработчики API магазина IttrKart.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/ittrkart-backend/internal/middleware"
	"github.com/mmeshcher/ittrkart-backend/internal/model"
	"github.com/mmeshcher/ittrkart-backend/internal/payment"
	"github.com/mmeshcher/ittrkart-backend/internal/repository"
	"github.com/mmeshcher/ittrkart-backend/internal/service"
	"github.com/mmeshcher/ittrkart-backend/internal/token"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	SignUp(ctx context.Context, name, email, password string) (*model.User, string, error)
	SignIn(ctx context.Context, email, password string) (*model.User, string, error)
	UpdateProfile(ctx context.Context, userID int64, name, email, password string) (*model.User, string, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateUser(ctx context.Context, id int64, name, email string, isAdmin, isVendor bool) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	ForgetPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, password string) error
	CreateOrder(ctx context.Context, userID int64, in service.NewOrder) (*model.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListMyOrders(ctx context.Context, userID int64) ([]model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (*model.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, p service.PaymentPayload) (*model.Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	Summary(ctx context.Context) (*model.SalesSummary, error)
	CreateCheckoutSession(ctx context.Context, items []model.CartItem, orderID string) (*payment.Session, error)
}

// Handler реализует HTTP-обработчики API магазина IttrKart.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	uploadDir      string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, uploadDir string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		uploadDir:      uploadDir,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"message": message})
}

// respondError переводит ошибку бизнес-логики в HTTP-ответ. Неожиданные
// ошибки логируются и возвращаются как 500 без деталей.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		h.writeMessage(w, http.StatusNotFound, "User Not Found")
	case errors.Is(err, repository.ErrOrderNotFound):
		h.writeMessage(w, http.StatusNotFound, "Order Not Found")
	case errors.Is(err, repository.ErrUserExists):
		h.writeMessage(w, http.StatusBadRequest, "User Already Exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeMessage(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, service.ErrProtectedUser):
		h.writeMessage(w, http.StatusBadRequest, "Can Not Delete Admin User")
	case errors.Is(err, token.ErrInvalidToken):
		h.writeMessage(w, http.StatusUnauthorized, "Invalid Token")
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

type userResponse struct {
	ID       int64  `json:"_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
	IsVendor bool   `json:"isVendor"`
	Token    string `json:"token,omitempty"`
}

func toUserResponse(u *model.User, signed string) userResponse {
	return userResponse{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		IsAdmin:  u.IsAdmin,
		IsVendor: u.IsVendor,
		Token:    signed,
	}
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp обрабатывает регистрацию нового пользователя.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	u, signed, err := h.service.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toUserResponse(u, signed))
}

// SignIn выполняет аутентификацию пользователя и выпуск сессионного токена.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	u, signed, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toUserResponse(u, signed))
}

// UpdateProfile обновляет профиль текущего пользователя и возвращает свежий токен.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		h.writeMessage(w, http.StatusUnauthorized, "No Token")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	u, signed, err := h.service.UpdateProfile(r.Context(), p.UserID, req.Name, req.Email, req.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toUserResponse(u, signed))
}

// ListUsers возвращает всех пользователей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i], ""))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func userIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// GetUser возвращает пользователя по идентификатору.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.writeMessage(w, http.StatusNotFound, "User Not Found")
		return
	}

	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toUserResponse(u, ""))
}

type updateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
	IsVendor bool   `json:"isVendor"`
}

// UpdateUser обновляет пользователя от имени администратора.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.writeMessage(w, http.StatusNotFound, "User Not Found")
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	u, err := h.service.UpdateUser(r.Context(), id, req.Name, req.Email, req.IsAdmin, req.IsVendor)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "User Updated",
		"user":    toUserResponse(u, ""),
	})
}

// DeleteUser удаляет пользователя. Защищённая учётная запись администратора не удаляется.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.writeMessage(w, http.StatusNotFound, "User Not Found")
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}

	h.writeMessage(w, http.StatusOK, "User Deleted")
}

type forgetPasswordRequest struct {
	Email string `json:"email"`
}

// ForgetPassword выпускает токен сброса пароля и отправляет ссылку на email.
func (h *Handler) ForgetPassword(w http.ResponseWriter, r *http.Request) {
	var req forgetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if err := h.service.ForgetPassword(r.Context(), req.Email); err != nil {
		h.respondError(w, err)
		return
	}

	h.writeMessage(w, http.StatusOK, "We sent reset password link to your email.")
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword устанавливает новый пароль по токену сброса.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.respondError(w, err)
		return
	}

	h.writeMessage(w, http.StatusOK, "Password reseted successfully")
}

const timeLayout = time.RFC3339

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}
