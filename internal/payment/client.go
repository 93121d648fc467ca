// Package payment предоставляет клиент платёжной системы для создания
// сессий оплаты с перенаправлением на её платёжную страницу.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
)

// Валюта и параметры единственного варианта доставки фиксированы:
// плоский тариф 4000 в минимальных единицах валюты, доставка за 4-6
// рабочих дней.
const (
	currency            = "inr"
	shippingAmount      = 4000
	shippingDisplayName = "Deliver soon"
	deliveryEstimateMin = 4
	deliveryEstimateMax = 6
)

// Client инкапсулирует HTTP-взаимодействие с платёжной системой.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Session описывает созданную платёжную сессию.
type Session struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Mode        string `json:"mode"`
	Status      string `json:"status"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
}

// NewClient создаёт HTTP-клиент платёжной системы с указанным адресом и секретным ключом.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateCheckoutSession создаёт платёжную сессию в режиме "payment" для
// позиций корзины и возвращает сессию с URL платёжной страницы.
func (c *Client) CreateCheckoutSession(ctx context.Context, items []model.CartItem, successURL, cancelURL string) (*Session, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment client not configured")
	}

	form := buildSessionForm(items, successURL, cancelURL)

	endpoint := c.baseURL + "/v1/checkout/sessions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &session, nil
}

// buildSessionForm собирает параметры платёжной сессии: позиции корзины с
// ценой в минимальных единицах валюты и единственный фиксированный вариант
// доставки.
func buildSessionForm(items []model.CartItem, successURL, cancelURL string) url.Values {
	form := url.Values{}

	for i, item := range items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.Image != "" {
			form.Set(prefix+"[price_data][product_data][images][0]", item.Image)
		}
		if item.Description != "" {
			form.Set(prefix+"[price_data][product_data][description]", item.Description)
		}
		form.Set(prefix+"[price_data][product_data][metadata][id]", item.ID)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(toUnitAmount(item.Price), 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}

	shipping := "shipping_options[0][shipping_rate_data]"
	form.Set(shipping+"[type]", "fixed_amount")
	form.Set(shipping+"[fixed_amount][amount]", strconv.Itoa(shippingAmount))
	form.Set(shipping+"[fixed_amount][currency]", currency)
	form.Set(shipping+"[display_name]", shippingDisplayName)
	form.Set(shipping+"[delivery_estimate][minimum][unit]", "business_day")
	form.Set(shipping+"[delivery_estimate][minimum][value]", strconv.Itoa(deliveryEstimateMin))
	form.Set(shipping+"[delivery_estimate][maximum][unit]", "business_day")
	form.Set(shipping+"[delivery_estimate][maximum][value]", strconv.Itoa(deliveryEstimateMax))

	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)

	return form
}

// toUnitAmount переводит цену в минимальные единицы валюты.
func toUnitAmount(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
