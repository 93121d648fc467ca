// Package service реализует бизнес-логику магазина IttrKart.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/ittrkart-backend/internal/mail"
	"github.com/mmeshcher/ittrkart-backend/internal/model"
	"github.com/mmeshcher/ittrkart-backend/internal/payment"
	"github.com/mmeshcher/ittrkart-backend/internal/token"
)

// Учётная запись главного администратора защищена от удаления.
const protectedAdminEmail = "manjeetsinghmzn2002@gmail.com"

// ErrInvalidCredentials возвращается при неверном email или пароле.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrProtectedUser возвращается при попытке удалить защищённую учётную запись администратора.
	ErrProtectedUser = errors.New("protected admin user cannot be deleted")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByResetToken(ctx context.Context, resetToken string) (*model.User, error)
	GetVendorUser(ctx context.Context) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id int64) error
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkPaid(ctx context.Context, id uuid.UUID, res model.PaymentResult, mails []model.OutboxMail) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	Summary(ctx context.Context) (*model.SalesSummary, error)
	EnqueueMail(ctx context.Context, m model.OutboxMail) error
	PendingMail(ctx context.Context, limit int) ([]model.OutboxMail, error)
	MarkMailSent(ctx context.Context, id uuid.UUID) error
	MarkMailFailed(ctx context.Context, id uuid.UUID) error
}

// PaymentGateway описывает контракт платёжной системы, используемый сервисом.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, items []model.CartItem, successURL, cancelURL string) (*payment.Session, error)
}

// MailSender описывает контракт почтового API, используемый обработчиком очереди писем.
type MailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Service содержит бизнес-логику магазина IttrKart.
type Service struct {
	repo             Repository
	gateway          PaymentGateway
	mailer           MailSender
	tokens           *token.Manager
	logger           *zap.Logger
	baseURL          string
	fulfillmentEmail string
	retryBase        time.Duration
}

// NewService создаёт новый сервис. fulfillmentEmail задаёт явного
// получателя уведомлений об исполнении заказов; при пустом значении
// получатель определяется по первой учётной записи продавца.
func NewService(repo Repository, gateway PaymentGateway, mailer MailSender, tokens *token.Manager, logger *zap.Logger, baseURL, fulfillmentEmail string) *Service {
	return &Service{
		repo:             repo,
		gateway:          gateway,
		mailer:           mailer,
		tokens:           tokens,
		logger:           logger,
		baseURL:          baseURL,
		fulfillmentEmail: fulfillmentEmail,
		retryBase:        500 * time.Millisecond,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// SignUp регистрирует нового пользователя и возвращает его вместе с сессионным токеном.
func (s *Service) SignUp(ctx context.Context, name, email, password string) (*model.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, name, email, hash)
	if err != nil {
		return nil, "", err
	}

	signed, err := s.tokens.IssueSession(u)
	if err != nil {
		return nil, "", err
	}

	return u, signed, nil
}

// SignIn проверяет email и пароль пользователя и возвращает его вместе с сессионным токеном.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	signed, err := s.tokens.IssueSession(u)
	if err != nil {
		return nil, "", err
	}

	return u, signed, nil
}

// UpdateProfile обновляет имя, email и пароль текущего пользователя.
// Пустые значения оставляют текущие. Возвращает свежий сессионный токен.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, name, email, password string) (*model.User, string, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	if name != "" {
		u.Name = name
	}
	if email != "" {
		u.Email = email
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, "", err
	}

	signed, err := s.tokens.IssueSession(u)
	if err != nil {
		return nil, "", err
	}

	return u, signed, nil
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// UpdateUser обновляет имя, email и флаги ролей пользователя от имени администратора.
func (s *Service) UpdateUser(ctx context.Context, id int64, name, email string, isAdmin, isVendor bool) (*model.User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != "" {
		u.Name = name
	}
	if email != "" {
		u.Email = email
	}
	u.IsAdmin = isAdmin
	u.IsVendor = isVendor

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// DeleteUser удаляет пользователя. Защищённая учётная запись
// администратора удалена быть не может.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	if u.Email == protectedAdminEmail {
		return ErrProtectedUser
	}

	return s.repo.DeleteUser(ctx, id)
}

// ForgetPassword выпускает токен сброса пароля, сохраняет его за
// пользователем и ставит письмо со ссылкой в очередь отправки. Новый
// запрос замещает прежний токен.
func (s *Service) ForgetPassword(ctx context.Context, email string) error {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	resetToken, err := s.tokens.IssueReset(u.ID)
	if err != nil {
		return err
	}

	u.ResetToken = &resetToken
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return err
	}

	body, err := mail.ResetPasswordBody(s.baseURL + "/reset-password/" + resetToken)
	if err != nil {
		return err
	}

	return s.repo.EnqueueMail(ctx, model.OutboxMail{
		ID:        uuid.New(),
		Recipient: u.Email,
		Subject:   "IttrKart | Reset Password",
		Body:      body,
	})
}

// ResetPassword проверяет токен сброса и устанавливает новый пароль.
// Токен после использования не аннулируется: его ограничивает только срок
// действия и замещение следующим запросом сброса.
func (s *Service) ResetPassword(ctx context.Context, resetToken, password string) error {
	if _, err := s.tokens.Parse(resetToken); err != nil {
		return err
	}

	u, err := s.repo.GetUserByResetToken(ctx, resetToken)
	if err != nil {
		return err
	}

	if password == "" {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u.PasswordHash = hash
	return s.repo.UpdateUser(ctx, u)
}

// NewOrder содержит данные нового заказа. Цены приходят от клиента и
// сохраняются без пересчёта и сверки с каталогом.
type NewOrder struct {
	Items           []model.OrderItem
	ShippingAddress model.ShippingAddress
	PaymentMethod   string
	ItemsPrice      decimal.Decimal
	ShippingPrice   decimal.Decimal
	TaxPrice        decimal.Decimal
	TotalPrice      decimal.Decimal
}

// CreateOrder создаёт новый заказ от имени указанного пользователя.
func (s *Service) CreateOrder(ctx context.Context, userID int64, in NewOrder) (*model.Order, error) {
	order := &model.Order{
		ID:              uuid.New(),
		UserID:          userID,
		Items:           in.Items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		ItemsPrice:      in.ItemsPrice,
		ShippingPrice:   in.ShippingPrice,
		TaxPrice:        in.TaxPrice,
		TotalPrice:      in.TotalPrice,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// ListMyOrders возвращает заказы указанного пользователя.
func (s *Service) ListMyOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}

// ListOrders возвращает все заказы с именами владельцев.
func (s *Service) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListOrders(ctx)
}

// DeleteOrder удаляет заказ.
func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteOrder(ctx, id)
}

// Summary возвращает данные сводного отчёта.
func (s *Service) Summary(ctx context.Context) (*model.SalesSummary, error) {
	return s.repo.Summary(ctx)
}

// MarkDelivered отмечает заказ доставленным. Повторный вызов заново
// проставляет время доставки и не является ошибкой.
func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if err := s.repo.MarkDelivered(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetOrderByID(ctx, id)
}

// PaymentPayload содержит подтверждение оплаты от платёжной системы.
// PayerUserID указывает учётную запись плательщика; совпадение с
// владельцем заказа не проверяется.
type PaymentPayload struct {
	ExternalID  string
	Status      string
	UpdateTime  string
	PayerUserID int64
}

// MarkPaid отмечает заказ оплаченным и ставит в очередь два письма:
// владельцу заказа со сводкой и продавцу с заказом на исполнение.
// Изменение заказа и постановка писем фиксируются одной транзакцией.
func (s *Service) MarkPaid(ctx context.Context, orderID uuid.UUID, p PaymentPayload) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payer, err := s.repo.GetUserByID(ctx, p.PayerUserID)
	if err != nil {
		return nil, err
	}

	owner, err := s.repo.GetUserByID(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	vendorName, vendorEmail, err := s.fulfillmentRecipient(ctx)
	if err != nil {
		return nil, err
	}

	subject := "IttrKart | New order " + order.ID.String()

	ownerBody, err := mail.PaidOrderBody(owner.Name, order)
	if err != nil {
		return nil, err
	}

	vendorBody, err := mail.VendorOrderBody(vendorName, order)
	if err != nil {
		return nil, err
	}

	result := model.PaymentResult{
		ExternalID: p.ExternalID,
		Status:     p.Status,
		UpdateTime: p.UpdateTime,
		PayerEmail: payer.Email,
	}

	mails := []model.OutboxMail{
		{ID: uuid.New(), Recipient: owner.Email, Subject: subject, Body: ownerBody},
		{ID: uuid.New(), Recipient: vendorEmail, Subject: subject, Body: vendorBody},
	}

	if err := s.repo.MarkPaid(ctx, orderID, result, mails); err != nil {
		return nil, err
	}

	return s.repo.GetOrderByID(ctx, orderID)
}

// fulfillmentRecipient определяет получателя уведомлений об исполнении:
// явно настроенный адрес либо первая учётная запись продавца.
func (s *Service) fulfillmentRecipient(ctx context.Context) (name, email string, err error) {
	if s.fulfillmentEmail != "" {
		if u, lookupErr := s.repo.GetUserByEmail(ctx, s.fulfillmentEmail); lookupErr == nil {
			return u.Name, u.Email, nil
		}
		return s.fulfillmentEmail, s.fulfillmentEmail, nil
	}

	vendor, err := s.repo.GetVendorUser(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolve fulfillment recipient: %w", err)
	}

	return vendor.Name, vendor.Email, nil
}

// CreateCheckoutSession создаёт платёжную сессию для позиций корзины и
// возвращает её вместе с URL платёжной страницы. Успешная оплата
// возвращает покупателя на страницу указанного заказа.
func (s *Service) CreateCheckoutSession(ctx context.Context, items []model.CartItem, orderID string) (*payment.Session, error) {
	successURL := s.baseURL + "/order/" + orderID
	cancelURL := s.baseURL + "/cart"

	return s.gateway.CreateCheckoutSession(ctx, items, successURL, cancelURL)
}

// StartOutboxDispatch запускает фоновый процесс отправки писем из очереди.
func (s *Service) StartOutboxDispatch(ctx context.Context) {
	if s.mailer == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processOutboxBatch(ctx)
			}
		}
	}()
}

func (s *Service) processOutboxBatch(ctx context.Context) {
	mails, err := s.repo.PendingMail(ctx, 50)
	if err != nil {
		s.logger.Error("select pending mail error", zap.Error(err))
		return
	}

	for _, m := range mails {
		backoff := retry.WithMaxRetries(3, retry.NewExponential(s.retryBase))

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if sendErr := s.mailer.Send(ctx, m.Recipient, m.Subject, m.Body); sendErr != nil {
				return retry.RetryableError(sendErr)
			}
			return nil
		})
		if err != nil {
			s.logger.Error("send mail error", zap.Error(err), zap.String("mail", m.ID.String()), zap.String("recipient", m.Recipient))
			if markErr := s.repo.MarkMailFailed(ctx, m.ID); markErr != nil {
				s.logger.Error("mark mail failed error", zap.Error(markErr), zap.String("mail", m.ID.String()))
			}
			continue
		}

		if markErr := s.repo.MarkMailSent(ctx, m.ID); markErr != nil {
			s.logger.Error("mark mail sent error", zap.Error(markErr), zap.String("mail", m.ID.String()))
		}
	}
}
