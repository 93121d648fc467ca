// Package model содержит доменные сущности магазина IttrKart.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash []byte
	IsAdmin      bool
	IsVendor     bool
	ResetToken   *string
	CreatedAt    time.Time
}

// Role возвращает роль пользователя по его флагам.
func (u *User) Role() Role {
	return RoleFromFlags(u.IsAdmin, u.IsVendor)
}

// OrderItem описывает одну позицию заказа.
type OrderItem struct {
	ProductRef string
	Name       string
	Quantity   int
	Price      decimal.Decimal
}

// ShippingAddress содержит адрес доставки заказа.
type ShippingAddress struct {
	FullName   string
	Address    string
	City       string
	Country    string
	PostalCode string
}

// PaymentResult содержит данные подтверждения оплаты от платёжной системы.
type PaymentResult struct {
	ExternalID string
	Status     string
	UpdateTime string
	PayerEmail string
}

// Order описывает заказ пользователя и его жизненный цикл: создан, оплачен, доставлен.
type Order struct {
	ID              uuid.UUID
	UserID          int64
	UserName        string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
	ItemsPrice      decimal.Decimal
	ShippingPrice   decimal.Decimal
	TaxPrice        decimal.Decimal
	TotalPrice      decimal.Decimal
	IsPaid          bool
	PaidAt          *time.Time
	IsDelivered     bool
	DeliveredAt     *time.Time
	PaymentResult   *PaymentResult
	CreatedAt       time.Time
}

// CartItem описывает позицию корзины при создании платёжной сессии.
type CartItem struct {
	ID          string
	Name        string
	Image       string
	Description string
	Price       decimal.Decimal
	Quantity    int
}

// MailStatus описывает состояние письма в очереди отправки.
type MailStatus string

const (
	MailStatusPending MailStatus = "pending"
	MailStatusSent    MailStatus = "sent"
	MailStatusFailed  MailStatus = "failed"
)

// OutboxMail описывает письмо, ожидающее отправки через почтовый API.
type OutboxMail struct {
	ID        uuid.UUID
	Recipient string
	Subject   string
	Body      string
	Status    MailStatus
	Attempts  int
	CreatedAt time.Time
	SentAt    *time.Time
}

// OrdersTotal содержит количество и сумму оплаченных заказов.
type OrdersTotal struct {
	Count int64
	Sales decimal.Decimal
}

// DailyOrders содержит количество и сумму оплаченных заказов за один календарный день.
type DailyOrders struct {
	Day    string
	Orders int64
	Sales  decimal.Decimal
}

// CategoryCount содержит число товаров в одной категории каталога.
type CategoryCount struct {
	Category string
	Count    int64
}

// SalesSummary содержит данные сводного отчёта для панели администратора.
type SalesSummary struct {
	Users             int64
	Orders            OrdersTotal
	DailyOrders       []DailyOrders
	ProductCategories []CategoryCount
}
