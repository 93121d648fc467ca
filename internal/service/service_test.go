package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
	"github.com/mmeshcher/ittrkart-backend/internal/payment"
	"github.com/mmeshcher/ittrkart-backend/internal/repository"
	"github.com/mmeshcher/ittrkart-backend/internal/token"
)

type stubRepo struct {
	usersByID    map[int64]*model.User
	usersByEmail map[string]*model.User
	vendor       *model.User

	createdUser *model.User
	updatedUser *model.User
	deletedID   int64

	order       *model.Order
	orderErr    error
	createdOrder *model.Order

	markPaidID     uuid.UUID
	markPaidResult model.PaymentResult
	markPaidMails  []model.OutboxMail
	markPaidErr    error

	deliveredID uuid.UUID

	enqueued []model.OutboxMail

	pending    []model.OutboxMail
	sentIDs    []uuid.UUID
	failedIDs  []uuid.UUID
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*model.User, error) {
	if _, ok := s.usersByEmail[email]; ok {
		return nil, repository.ErrUserExists
	}
	u := &model.User{ID: 1, Name: name, Email: email, PasswordHash: passwordHash}
	s.createdUser = u
	return u, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	if u, ok := s.usersByID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if u, ok := s.usersByEmail[email]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetUserByResetToken(ctx context.Context, resetToken string) (*model.User, error) {
	for _, u := range s.usersByID {
		if u.ResetToken != nil && *u.ResetToken == resetToken {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetVendorUser(ctx context.Context) (*model.User, error) {
	if s.vendor == nil {
		return nil, repository.ErrUserNotFound
	}
	return s.vendor, nil
}

func (s *stubRepo) ListUsers(ctx context.Context) ([]model.User, error) { return nil, nil }

func (s *stubRepo) UpdateUser(ctx context.Context, u *model.User) error {
	s.updatedUser = u
	return nil
}

func (s *stubRepo) DeleteUser(ctx context.Context, id int64) error {
	s.deletedID = id
	return nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, order *model.Order) error {
	s.createdOrder = order
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	if s.order == nil {
		return nil, repository.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *stubRepo) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) ListOrders(ctx context.Context) ([]model.Order, error) { return nil, nil }

func (s *stubRepo) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	if s.order == nil {
		return repository.ErrOrderNotFound
	}
	s.deliveredID = id
	now := time.Now()
	s.order.IsDelivered = true
	s.order.DeliveredAt = &now
	return nil
}

func (s *stubRepo) MarkPaid(ctx context.Context, id uuid.UUID, res model.PaymentResult, mails []model.OutboxMail) error {
	if s.markPaidErr != nil {
		return s.markPaidErr
	}
	s.markPaidID = id
	s.markPaidResult = res
	s.markPaidMails = mails
	now := time.Now()
	s.order.IsPaid = true
	s.order.PaidAt = &now
	s.order.PaymentResult = &res
	return nil
}

func (s *stubRepo) DeleteOrder(ctx context.Context, id uuid.UUID) error { return nil }

func (s *stubRepo) Summary(ctx context.Context) (*model.SalesSummary, error) { return nil, nil }

func (s *stubRepo) EnqueueMail(ctx context.Context, m model.OutboxMail) error {
	s.enqueued = append(s.enqueued, m)
	return nil
}

func (s *stubRepo) PendingMail(ctx context.Context, limit int) ([]model.OutboxMail, error) {
	return s.pending, nil
}

func (s *stubRepo) MarkMailSent(ctx context.Context, id uuid.UUID) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubRepo) MarkMailFailed(ctx context.Context, id uuid.UUID) error {
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubMailer struct {
	sent    []string
	sendErr error
}

func (m *stubMailer) Send(ctx context.Context, to, subject, html string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, to)
	return nil
}

type stubGateway struct {
	successURL string
	cancelURL  string
	session    *payment.Session
	err        error
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, items []model.CartItem, successURL, cancelURL string) (*payment.Session, error) {
	g.successURL = successURL
	g.cancelURL = cancelURL
	return g.session, g.err
}

func newTestService(repo *stubRepo, gateway PaymentGateway, mailer MailSender) *Service {
	return NewService(repo, gateway, mailer, token.NewManager("test-secret"), zap.NewNop(), "https://shop.example.com", "")
}

func hashFor(t *testing.T, password string) []byte {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func TestSignUp_DefaultRoleFlagsInToken(t *testing.T) {
	repo := &stubRepo{usersByEmail: map[string]*model.User{}}
	svc := newTestService(repo, nil, nil)

	u, signed, err := svc.SignUp(context.Background(), "alice", "a@x.com", "pw")
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if u.IsAdmin || u.IsVendor {
		t.Fatalf("new user must have no role flags")
	}

	claims, err := token.NewManager("test-secret").Parse(signed)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if claims.Email != "a@x.com" || claims.IsAdmin || claims.IsVendor {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSignIn_RoundTrip(t *testing.T) {
	u := &model.User{ID: 5, Name: "alice", Email: "a@x.com", PasswordHash: hashFor(t, "pw")}
	repo := &stubRepo{usersByEmail: map[string]*model.User{"a@x.com": u}}
	svc := newTestService(repo, nil, nil)

	got, signed, err := svc.SignIn(context.Background(), "a@x.com", "pw")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if got.ID != 5 {
		t.Fatalf("user id = %d, want 5", got.ID)
	}
	if signed == "" {
		t.Fatalf("expected session token")
	}
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	u := &model.User{ID: 5, Email: "a@x.com", PasswordHash: hashFor(t, "pw")}
	repo := &stubRepo{usersByEmail: map[string]*model.User{"a@x.com": u}}
	svc := newTestService(repo, nil, nil)

	if _, _, err := svc.SignIn(context.Background(), "a@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.SignIn(context.Background(), "missing@x.com", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestCreateOrder_TrustsClientPrices(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil, nil)

	in := NewOrder{
		Items: []model.OrderItem{
			{ProductRef: "p1", Name: "Attar", Quantity: 1, Price: decimal.NewFromInt(100)},
		},
		PaymentMethod: "card",
		ItemsPrice:    decimal.NewFromInt(100),
		ShippingPrice: decimal.NewFromInt(10),
		TaxPrice:      decimal.NewFromInt(5),
		TotalPrice:    decimal.NewFromInt(115),
	}

	order, err := svc.CreateOrder(context.Background(), 7, in)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	if !order.TotalPrice.Equal(decimal.NewFromInt(115)) {
		t.Fatalf("total price = %s, want 115", order.TotalPrice)
	}
	if order.UserID != 7 {
		t.Fatalf("user id = %d, want 7", order.UserID)
	}
	if order.IsPaid || order.IsDelivered {
		t.Fatalf("new order must not be paid or delivered")
	}
	if repo.createdOrder != order {
		t.Fatalf("order was not persisted")
	}
}

func TestMarkPaid_NotFound(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil, nil)

	_, err := svc.MarkPaid(context.Background(), uuid.New(), PaymentPayload{PayerUserID: 1})
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMarkPaid_PayerEmailFromResolvedAccount(t *testing.T) {
	owner := &model.User{ID: 1, Name: "owner", Email: "owner@x.com"}
	payer := &model.User{ID: 2, Name: "payer", Email: "payer@x.com"}
	vendor := &model.User{ID: 3, Name: "vendor", Email: "vendor@x.com", IsVendor: true}

	orderID := uuid.New()
	repo := &stubRepo{
		usersByID: map[int64]*model.User{1: owner, 2: payer},
		vendor:    vendor,
		order: &model.Order{
			ID:         orderID,
			UserID:     1,
			ItemsPrice: decimal.NewFromInt(100),
			TotalPrice: decimal.NewFromInt(115),
		},
	}
	svc := newTestService(repo, nil, nil)

	order, err := svc.MarkPaid(context.Background(), orderID, PaymentPayload{
		ExternalID:  "pi_1",
		Status:      "succeeded",
		UpdateTime:  "2026-03-14T10:30:00Z",
		PayerUserID: 2,
	})
	if err != nil {
		t.Fatalf("MarkPaid error: %v", err)
	}

	if !order.IsPaid || order.PaidAt == nil {
		t.Fatalf("order must be paid with timestamp")
	}
	// Плательщик не обязан совпадать с владельцем заказа.
	if repo.markPaidResult.PayerEmail != "payer@x.com" {
		t.Fatalf("payer email = %q, want payer@x.com", repo.markPaidResult.PayerEmail)
	}

	if len(repo.markPaidMails) != 2 {
		t.Fatalf("mails enqueued = %d, want 2", len(repo.markPaidMails))
	}
	if repo.markPaidMails[0].Recipient != "owner@x.com" {
		t.Fatalf("first mail recipient = %q, want owner@x.com", repo.markPaidMails[0].Recipient)
	}
	if repo.markPaidMails[1].Recipient != "vendor@x.com" {
		t.Fatalf("second mail recipient = %q, want vendor@x.com", repo.markPaidMails[1].Recipient)
	}
}

func TestMarkPaid_ConfiguredFulfillmentRecipient(t *testing.T) {
	owner := &model.User{ID: 1, Name: "owner", Email: "owner@x.com"}

	orderID := uuid.New()
	repo := &stubRepo{
		usersByID:    map[int64]*model.User{1: owner},
		usersByEmail: map[string]*model.User{},
		order:        &model.Order{ID: orderID, UserID: 1},
	}
	svc := NewService(repo, nil, nil, token.NewManager("test-secret"), zap.NewNop(), "https://shop.example.com", "fulfillment@x.com")

	if _, err := svc.MarkPaid(context.Background(), orderID, PaymentPayload{PayerUserID: 1}); err != nil {
		t.Fatalf("MarkPaid error: %v", err)
	}

	if repo.markPaidMails[1].Recipient != "fulfillment@x.com" {
		t.Fatalf("vendor mail recipient = %q, want fulfillment@x.com", repo.markPaidMails[1].Recipient)
	}
}

func TestMarkDelivered_RestampSafe(t *testing.T) {
	orderID := uuid.New()
	delivered := time.Now().Add(-time.Hour)
	repo := &stubRepo{
		order: &model.Order{ID: orderID, IsDelivered: true, DeliveredAt: &delivered},
	}
	svc := newTestService(repo, nil, nil)

	order, err := svc.MarkDelivered(context.Background(), orderID)
	if err != nil {
		t.Fatalf("MarkDelivered error: %v", err)
	}
	if !order.IsDelivered || order.DeliveredAt == nil {
		t.Fatalf("order must be delivered with timestamp")
	}
	if !order.DeliveredAt.After(delivered) {
		t.Fatalf("delivered timestamp was not re-stamped")
	}
}

func TestMarkDelivered_NotFound(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	_, err := svc.MarkDelivered(context.Background(), uuid.New())
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestDeleteUser_Protected(t *testing.T) {
	u := &model.User{ID: 9, Email: "manjeetsinghmzn2002@gmail.com", IsAdmin: true}
	repo := &stubRepo{usersByID: map[int64]*model.User{9: u}}
	svc := newTestService(repo, nil, nil)

	if err := svc.DeleteUser(context.Background(), 9); !errors.Is(err, ErrProtectedUser) {
		t.Fatalf("expected ErrProtectedUser, got %v", err)
	}
	if repo.deletedID != 0 {
		t.Fatalf("protected user must not be deleted")
	}
}

func TestForgetPassword_UnknownEmail(t *testing.T) {
	repo := &stubRepo{usersByEmail: map[string]*model.User{}}
	svc := newTestService(repo, nil, nil)

	if err := svc.ForgetPassword(context.Background(), "missing@x.com"); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestForgetPassword_EnqueuesSingleMail(t *testing.T) {
	u := &model.User{ID: 4, Name: "alice", Email: "a@x.com"}
	repo := &stubRepo{
		usersByID:    map[int64]*model.User{4: u},
		usersByEmail: map[string]*model.User{"a@x.com": u},
	}
	svc := newTestService(repo, nil, nil)

	if err := svc.ForgetPassword(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("ForgetPassword error: %v", err)
	}

	if repo.updatedUser == nil || repo.updatedUser.ResetToken == nil {
		t.Fatalf("reset token was not stored")
	}

	claims, err := token.NewManager("test-secret").Parse(*repo.updatedUser.ResetToken)
	if err != nil {
		t.Fatalf("stored reset token invalid: %v", err)
	}
	id, err := claims.UserID()
	if err != nil || id != 4 {
		t.Fatalf("reset token subject = %d (%v), want 4", id, err)
	}

	if len(repo.enqueued) != 1 {
		t.Fatalf("mails enqueued = %d, want 1", len(repo.enqueued))
	}
	if repo.enqueued[0].Recipient != "a@x.com" {
		t.Fatalf("recipient = %q, want a@x.com", repo.enqueued[0].Recipient)
	}
}

func TestResetPassword_InvalidToken(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	err := svc.ResetPassword(context.Background(), "garbage", "newpw")
	if !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestResetPassword_SetsNewHash(t *testing.T) {
	tokens := token.NewManager("test-secret")
	resetToken, err := tokens.IssueReset(4)
	if err != nil {
		t.Fatalf("IssueReset error: %v", err)
	}

	u := &model.User{ID: 4, Email: "a@x.com", ResetToken: &resetToken, PasswordHash: hashFor(t, "old")}
	repo := &stubRepo{usersByID: map[int64]*model.User{4: u}}
	svc := newTestService(repo, nil, nil)

	if err := svc.ResetPassword(context.Background(), resetToken, "newpw"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	if err := bcrypt.CompareHashAndPassword(repo.updatedUser.PasswordHash, []byte("newpw")); err != nil {
		t.Fatalf("new password does not verify: %v", err)
	}
}

func TestCreateCheckoutSession_RedirectURLs(t *testing.T) {
	gateway := &stubGateway{session: &payment.Session{URL: "https://pay/cs_1"}}
	svc := newTestService(&stubRepo{}, gateway, nil)

	session, err := svc.CreateCheckoutSession(context.Background(), nil, "abc123")
	if err != nil {
		t.Fatalf("CreateCheckoutSession error: %v", err)
	}

	if session.URL != "https://pay/cs_1" {
		t.Fatalf("session url = %q", session.URL)
	}
	if gateway.successURL != "https://shop.example.com/order/abc123" {
		t.Fatalf("success url = %q", gateway.successURL)
	}
	if gateway.cancelURL != "https://shop.example.com/cart" {
		t.Fatalf("cancel url = %q", gateway.cancelURL)
	}
}

func TestProcessOutboxBatch_MarksSentAndFailed(t *testing.T) {
	ok := model.OutboxMail{ID: uuid.New(), Recipient: "a@x.com", Subject: "s", Body: "b"}
	repo := &stubRepo{pending: []model.OutboxMail{ok}}
	mailer := &stubMailer{}
	svc := newTestService(repo, nil, mailer)

	svc.processOutboxBatch(context.Background())

	if len(repo.sentIDs) != 1 || repo.sentIDs[0] != ok.ID {
		t.Fatalf("mail was not marked sent: %+v", repo.sentIDs)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(mailer.sent))
	}

	bad := model.OutboxMail{ID: uuid.New(), Recipient: "b@x.com", Subject: "s", Body: "b"}
	repo2 := &stubRepo{pending: []model.OutboxMail{bad}}
	svc2 := newTestService(repo2, nil, &stubMailer{sendErr: errors.New("mail api down")})
	svc2.retryBase = time.Millisecond

	svc2.processOutboxBatch(context.Background())

	if len(repo2.failedIDs) != 1 || repo2.failedIDs[0] != bad.ID {
		t.Fatalf("mail was not marked failed: %+v", repo2.failedIDs)
	}
}

func TestStartOutboxDispatch_NoMailer(t *testing.T) {
	svc := &Service{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartOutboxDispatch(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartOutboxDispatch did not return without mailer")
	}
}
