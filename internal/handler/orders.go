package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/ittrkart-backend/internal/middleware"
	"github.com/mmeshcher/ittrkart-backend/internal/model"
	"github.com/mmeshcher/ittrkart-backend/internal/service"
)

type orderItemJSON struct {
	Product  string          `json:"product"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type shippingAddressJSON struct {
	FullName   string `json:"fullName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

type paymentResultJSON struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

type orderUserJSON struct {
	ID   int64  `json:"_id"`
	Name string `json:"name"`
}

type orderResponse struct {
	ID              string              `json:"_id"`
	User            any                 `json:"user"`
	OrderItems      []orderItemJSON     `json:"orderItems"`
	ShippingAddress shippingAddressJSON `json:"shippingAddress"`
	PaymentMethod   string              `json:"paymentMethod"`
	ItemsPrice      decimal.Decimal     `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal     `json:"shippingPrice"`
	TaxPrice        decimal.Decimal     `json:"taxPrice"`
	TotalPrice      decimal.Decimal     `json:"totalPrice"`
	IsPaid          bool                `json:"isPaid"`
	PaidAt          string              `json:"paidAt,omitempty"`
	IsDelivered     bool                `json:"isDelivered"`
	DeliveredAt     string              `json:"deliveredAt,omitempty"`
	PaymentResult   *paymentResultJSON  `json:"paymentResult,omitempty"`
	CreatedAt       string              `json:"createdAt"`
}

// toOrderResponse собирает представление заказа. Для административного
// списка поле user раскрывается в объект с именем владельца.
func toOrderResponse(o *model.Order, withUserName bool) orderResponse {
	items := make([]orderItemJSON, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemJSON{
			Product:  it.ProductRef,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
		})
	}

	resp := orderResponse{
		ID:         o.ID.String(),
		User:       o.UserID,
		OrderItems: items,
		ShippingAddress: shippingAddressJSON{
			FullName:   o.ShippingAddress.FullName,
			Address:    o.ShippingAddress.Address,
			City:       o.ShippingAddress.City,
			Country:    o.ShippingAddress.Country,
			PostalCode: o.ShippingAddress.PostalCode,
		},
		PaymentMethod: o.PaymentMethod,
		ItemsPrice:    o.ItemsPrice,
		ShippingPrice: o.ShippingPrice,
		TaxPrice:      o.TaxPrice,
		TotalPrice:    o.TotalPrice,
		IsPaid:        o.IsPaid,
		PaidAt:        formatTime(o.PaidAt),
		IsDelivered:   o.IsDelivered,
		DeliveredAt:   formatTime(o.DeliveredAt),
		CreatedAt:     o.CreatedAt.Format(timeLayout),
	}

	if withUserName {
		resp.User = orderUserJSON{ID: o.UserID, Name: o.UserName}
	}

	if o.PaymentResult != nil {
		resp.PaymentResult = &paymentResultJSON{
			ID:           o.PaymentResult.ExternalID,
			Status:       o.PaymentResult.Status,
			UpdateTime:   o.PaymentResult.UpdateTime,
			EmailAddress: o.PaymentResult.PayerEmail,
		}
	}

	return resp
}

type createOrderItemRequest struct {
	ID       string          `json:"_id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	OrderItems      []createOrderItemRequest `json:"orderItems"`
	ShippingAddress shippingAddressJSON      `json:"shippingAddress"`
	PaymentMethod   string                   `json:"paymentMethod"`
	ItemsPrice      decimal.Decimal          `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal          `json:"shippingPrice"`
	TaxPrice        decimal.Decimal          `json:"taxPrice"`
	TotalPrice      decimal.Decimal          `json:"totalPrice"`
}

// CreateOrder создаёт новый заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		h.writeMessage(w, http.StatusUnauthorized, "No Token")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	in := service.NewOrder{
		ShippingAddress: model.ShippingAddress{
			FullName:   req.ShippingAddress.FullName,
			Address:    req.ShippingAddress.Address,
			City:       req.ShippingAddress.City,
			Country:    req.ShippingAddress.Country,
			PostalCode: req.ShippingAddress.PostalCode,
		},
		PaymentMethod: req.PaymentMethod,
		ItemsPrice:    req.ItemsPrice,
		ShippingPrice: req.ShippingPrice,
		TaxPrice:      req.TaxPrice,
		TotalPrice:    req.TotalPrice,
	}
	for _, it := range req.OrderItems {
		in.Items = append(in.Items, model.OrderItem{
			ProductRef: it.ID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Price:      it.Price,
		})
	}

	o, err := h.service.CreateOrder(r.Context(), p.UserID, in)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "New Order Created",
		"order":   toOrderResponse(o, false),
	})
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		h.writeMessage(w, http.StatusNotFound, "Order Not Found")
		return
	}

	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(o, false))
}

// ListMyOrders возвращает заказы текущего пользователя.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		h.writeMessage(w, http.StatusUnauthorized, "No Token")
		return
	}

	orders, err := h.service.ListMyOrders(r.Context(), p.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i], false))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ListOrders возвращает все заказы с именами владельцев.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i], true))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// MarkDelivered отмечает заказ доставленным.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		h.writeMessage(w, http.StatusNotFound, "Order Not Found")
		return
	}

	o, err := h.service.MarkDelivered(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Order Delivered",
		"order":   toOrderResponse(o, false),
	})
}

type payOrderRequest struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	User       int64  `json:"user"`
}

// MarkPaid отмечает заказ оплаченным и ставит уведомления в очередь отправки.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		h.writeMessage(w, http.StatusNotFound, "Order Not Found")
		return
	}

	var req payOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	o, err := h.service.MarkPaid(r.Context(), id, service.PaymentPayload{
		ExternalID:  req.ID,
		Status:      req.Status,
		UpdateTime:  req.UpdateTime,
		PayerUserID: req.User,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Order Paid",
		"order":   toOrderResponse(o, false),
	})
}

// DeleteOrder удаляет заказ.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		h.writeMessage(w, http.StatusNotFound, "Order Not Found")
		return
	}

	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}

	h.writeMessage(w, http.StatusOK, "Order Deleted")
}

type summaryUsersJSON struct {
	NumUsers int64 `json:"numUsers"`
}

type summaryOrdersJSON struct {
	NumOrders  int64           `json:"numOrders"`
	TotalSales decimal.Decimal `json:"totalSales"`
}

type summaryDailyJSON struct {
	ID     string          `json:"_id"`
	Orders int64           `json:"orders"`
	Sales  decimal.Decimal `json:"sales"`
}

type summaryCategoryJSON struct {
	ID    string `json:"_id"`
	Count int64  `json:"count"`
}

// Summary возвращает сводку продаж для панели администратора.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	daily := make([]summaryDailyJSON, 0, len(s.DailyOrders))
	for _, d := range s.DailyOrders {
		daily = append(daily, summaryDailyJSON{ID: d.Day, Orders: d.Orders, Sales: d.Sales})
	}

	categories := make([]summaryCategoryJSON, 0, len(s.ProductCategories))
	for _, c := range s.ProductCategories {
		categories = append(categories, summaryCategoryJSON{ID: c.Category, Count: c.Count})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"users":             []summaryUsersJSON{{NumUsers: s.Users}},
		"orders":            []summaryOrdersJSON{{NumOrders: s.Orders.Count, TotalSales: s.Orders.Sales}},
		"dailyOrders":       daily,
		"productCategories": categories,
	})
}

type checkoutItemRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Image       string          `json:"image"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type checkoutRequest struct {
	CartItems []checkoutItemRequest `json:"cartItems"`
	OrderID   string                `json:"OrderID"`
}

// CreateCheckoutSession создаёт сессию оплаты у платёжного шлюза.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	items := make([]model.CartItem, 0, len(req.CartItems))
	for _, it := range req.CartItems {
		items = append(items, model.CartItem{
			ID:          it.ID,
			Name:        it.Name,
			Image:       it.Image,
			Description: it.Description,
			Price:       it.Price,
			Quantity:    it.Quantity,
		})
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), items, req.OrderID)
	if err != nil {
		h.logger.Error("create checkout session error", zap.Error(err))
		h.writeMessage(w, http.StatusInternalServerError, "error at backend")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"url":     session.URL,
		"session": session,
	})
}

// Upload сохраняет загруженный файл изображения и возвращает его имя.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.respondError(w, err)
		return
	}

	name := filepath.Base(header.Filename)
	dst, err := os.Create(filepath.Join(h.uploadDir, name))
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"secure_url": name})
}
