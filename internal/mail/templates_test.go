package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
)

func testOrder(t *testing.T) *model.Order {
	t.Helper()

	created, err := time.Parse(time.RFC3339, "2026-03-14T10:30:00Z")
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}

	return &model.Order{
		ID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Items: []model.OrderItem{
			{ProductRef: "p1", Name: "Oud Attar", Quantity: 2, Price: decimal.RequireFromString("250.00")},
			{ProductRef: "p2", Name: "Rose Attar", Quantity: 1, Price: decimal.RequireFromString("99.50")},
		},
		ShippingAddress: model.ShippingAddress{
			FullName:   "Amit Kumar",
			Address:    "12 MG Road",
			City:       "Lucknow",
			Country:    "India",
			PostalCode: "226001",
		},
		PaymentMethod: "card",
		ItemsPrice:    decimal.RequireFromString("599.50"),
		ShippingPrice: decimal.RequireFromString("40.00"),
		TaxPrice:      decimal.RequireFromString("30.00"),
		TotalPrice:    decimal.RequireFromString("669.50"),
		CreatedAt:     created,
	}
}

func TestPaidOrderBody(t *testing.T) {
	body, err := PaidOrderBody("Amit", testOrder(t))
	if err != nil {
		t.Fatalf("PaidOrderBody error: %v", err)
	}

	for _, want := range []string{
		"Hi Amit,",
		"Oud Attar",
		"Rs.250.00",
		"Rs.669.50",
		"2026-03-14",
		"12 MG Road",
		"Thanks for shopping with us",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body does not contain %q", want)
		}
	}
}

func TestVendorOrderBody(t *testing.T) {
	body, err := VendorOrderBody("Vendor", testOrder(t))
	if err != nil {
		t.Fatalf("VendorOrderBody error: %v", err)
	}

	for _, want := range []string{
		"Hi Vendor,",
		"New Order for Fulfillment",
		"Rose Attar",
		"Rs.99.50",
		"partnering with IttrKart",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body does not contain %q", want)
		}
	}
}

func TestResetPasswordBody(t *testing.T) {
	body, err := ResetPasswordBody("https://shop/reset-password/tok123")
	if err != nil {
		t.Fatalf("ResetPasswordBody error: %v", err)
	}

	if !strings.Contains(body, `href="https://shop/reset-password/tok123"`) {
		t.Fatalf("body does not contain reset link: %s", body)
	}
}
