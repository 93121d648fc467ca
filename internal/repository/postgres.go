// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с ролью покупателя.
func (r *PostgresRepository) CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3)
		 RETURNING id, name, email, password_hash, is_admin, is_vendor, created_at`,
		name, email, passwordHash,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsVendor, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

const userColumns = `id, name, email, password_hash, is_admin, is_vendor, reset_token, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsVendor, &u.ResetToken, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByResetToken возвращает пользователя, за которым закреплён указанный токен сброса пароля.
func (r *PostgresRepository) GetUserByResetToken(ctx context.Context, resetToken string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE reset_token = $1`, resetToken))
}

// GetVendorUser возвращает учётную запись продавца для уведомлений об исполнении заказов.
func (r *PostgresRepository) GetVendorUser(ctx context.Context) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_vendor ORDER BY id LIMIT 1`))
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsVendor, &u.ResetToken, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// UpdateUser сохраняет изменяемые поля пользователя: имя, email, хеш
// пароля, флаги ролей и токен сброса пароля.
func (r *PostgresRepository) UpdateUser(ctx context.Context, u *model.User) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET name = $2, email = $3, password_hash = $4, is_admin = $5, is_vendor = $6, reset_token = $7
		 WHERE id = $1`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.IsAdmin, u.IsVendor, u.ResetToken,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser удаляет пользователя. Заказы пользователя не удаляются.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateOrder сохраняет новый заказ вместе с позициями в одной транзакции.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (id, user_id, payment_method,
			     items_price, shipping_price, tax_price, total_price,
			     shipping_full_name, shipping_address, shipping_city, shipping_country, shipping_postal_code)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 RETURNING created_at`,
			order.ID.String(), order.UserID, order.PaymentMethod,
			order.ItemsPrice, order.ShippingPrice, order.TaxPrice, order.TotalPrice,
			order.ShippingAddress.FullName, order.ShippingAddress.Address,
			order.ShippingAddress.City, order.ShippingAddress.Country, order.ShippingAddress.PostalCode,
		).Scan(&order.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			_, err = tx.Exec(ctx,
				`INSERT INTO order_items (order_id, position, product_ref, name, quantity, price)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				order.ID.String(), i, item.ProductRef, item.Name, item.Quantity, item.Price,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

const orderColumns = `o.id, o.user_id, o.payment_method,
	o.items_price, o.shipping_price, o.tax_price, o.total_price,
	o.shipping_full_name, o.shipping_address, o.shipping_city, o.shipping_country, o.shipping_postal_code,
	o.is_paid, o.paid_at, o.is_delivered, o.delivered_at,
	o.payment_external_id, o.payment_status, o.payment_update_time, o.payment_payer_email,
	o.created_at`

func scanOrder(rows pgx.Rows, withUserName bool) (*model.Order, error) {
	var (
		o          model.Order
		idStr      string
		externalID *string
		status     *string
		updateTime *string
		payerEmail *string
	)

	dest := []any{
		&idStr, &o.UserID, &o.PaymentMethod,
		&o.ItemsPrice, &o.ShippingPrice, &o.TaxPrice, &o.TotalPrice,
		&o.ShippingAddress.FullName, &o.ShippingAddress.Address,
		&o.ShippingAddress.City, &o.ShippingAddress.Country, &o.ShippingAddress.PostalCode,
		&o.IsPaid, &o.PaidAt, &o.IsDelivered, &o.DeliveredAt,
		&externalID, &status, &updateTime, &payerEmail,
		&o.CreatedAt,
	}
	if withUserName {
		dest = append(dest, &o.UserName)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse order id: %w", err)
	}
	o.ID = id

	if externalID != nil || status != nil {
		o.PaymentResult = &model.PaymentResult{}
		if externalID != nil {
			o.PaymentResult.ExternalID = *externalID
		}
		if status != nil {
			o.PaymentResult.Status = *status
		}
		if updateTime != nil {
			o.PaymentResult.UpdateTime = *updateTime
		}
		if payerEmail != nil {
			o.PaymentResult.PayerEmail = *payerEmail
		}
	}

	return &o, nil
}

func (r *PostgresRepository) loadOrderItems(ctx context.Context, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*model.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID.String()] = o
		ids = append(ids, o.ID.String())
	}

	rows, err := r.pool.Query(ctx,
		`SELECT order_id, product_ref, name, quantity, price
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    model.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductRef, &item.Name, &item.Quantity, &item.Price); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

// GetOrderByID возвращает заказ вместе с позициями.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id.String())
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		return nil, ErrOrderNotFound
	}

	o, err := scanOrder(rows, false)
	if err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.loadOrderItems(ctx, []*model.Order{o}); err != nil {
		return nil, err
	}

	return o, nil
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, withUserName bool, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows, withUserName)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if err := r.loadOrderItems(ctx, orders); err != nil {
		return nil, err
	}

	res := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		res = append(res, *o)
	}

	return res, nil
}

// ListOrdersByUser возвращает заказы пользователя в порядке создания.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.user_id = $1 ORDER BY o.created_at`,
		false, userID)
}

// ListOrders возвращает все заказы с именем владельца каждого заказа.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`, COALESCE(u.name, '')
		 FROM orders o
		 LEFT JOIN users u ON u.id = o.user_id
		 ORDER BY o.created_at`,
		true)
}

// MarkDelivered отмечает заказ доставленным и проставляет время доставки.
// Повторный вызов безопасен: время доставки проставляется заново.
func (r *PostgresRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET is_delivered = true, delivered_at = now() WHERE id = $1`,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkPaid отмечает заказ оплаченным и ставит письма-уведомления в очередь
// отправки в одной транзакции. Блокирует строку заказа на время транзакции.
func (r *PostgresRepository) MarkPaid(ctx context.Context, id uuid.UUID, res model.PaymentResult, mails []model.OutboxMail) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = $1 FOR UPDATE`, id.String()).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order for update: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders
			 SET is_paid = true, paid_at = now(),
			     payment_external_id = $2, payment_status = $3, payment_update_time = $4, payment_payer_email = $5
			 WHERE id = $1`,
			id.String(), res.ExternalID, res.Status, res.UpdateTime, res.PayerEmail,
		)
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}

		for _, m := range mails {
			_, err = tx.Exec(ctx,
				`INSERT INTO mail_outbox (id, recipient, subject, body) VALUES ($1, $2, $3, $4)`,
				m.ID.String(), m.Recipient, m.Subject, m.Body,
			)
			if err != nil {
				return fmt.Errorf("enqueue mail: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// DeleteOrder удаляет заказ вместе с позициями.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// Summary собирает данные сводного отчёта: число пользователей, количество
// и сумму оплаченных заказов, оплаченные заказы по дням и число товаров по
// категориям каталога.
func (r *PostgresRepository) Summary(ctx context.Context) (*model.SalesSummary, error) {
	s := &model.SalesSummary{
		Orders: model.OrdersTotal{Sales: decimal.Zero},
	}

	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&s.Users)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_price), 0) FROM orders WHERE is_paid`,
	).Scan(&s.Orders.Count, &s.Orders.Sales)
	if err != nil {
		return nil, fmt.Errorf("sum paid orders: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT to_char(created_at, 'YYYY-MM-DD') AS day, COUNT(*), COALESCE(SUM(total_price), 0)
		 FROM orders
		 WHERE is_paid
		 GROUP BY day
		 ORDER BY day`,
	)
	if err != nil {
		return nil, fmt.Errorf("select daily orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d model.DailyOrders
		if err := rows.Scan(&d.Day, &d.Orders, &d.Sales); err != nil {
			return nil, fmt.Errorf("scan daily orders: %w", err)
		}
		s.DailyOrders = append(s.DailyOrders, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	catRows, err := r.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM products GROUP BY category`,
	)
	if err != nil {
		return nil, fmt.Errorf("select product categories: %w", err)
	}
	defer catRows.Close()

	for catRows.Next() {
		var c model.CategoryCount
		if err := catRows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		s.ProductCategories = append(s.ProductCategories, c)
	}
	if err := catRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return s, nil
}

// EnqueueMail ставит письмо в очередь отправки.
func (r *PostgresRepository) EnqueueMail(ctx context.Context, m model.OutboxMail) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO mail_outbox (id, recipient, subject, body) VALUES ($1, $2, $3, $4)`,
		m.ID.String(), m.Recipient, m.Subject, m.Body,
	)
	if err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// PendingMail возвращает письма, ожидающие отправки, в порядке постановки в очередь.
func (r *PostgresRepository) PendingMail(ctx context.Context, limit int) ([]model.OutboxMail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient, subject, body, status, attempts, created_at, sent_at
		 FROM mail_outbox
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.MailStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending mail: %w", err)
	}
	defer rows.Close()

	var res []model.OutboxMail
	for rows.Next() {
		var (
			m      model.OutboxMail
			idStr  string
			status string
		)
		if err := rows.Scan(&idStr, &m.Recipient, &m.Subject, &m.Body, &status, &m.Attempts, &m.CreatedAt, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan mail: %w", err)
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse mail id: %w", err)
		}
		m.ID = id
		m.Status = model.MailStatus(status)

		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkMailSent отмечает письмо отправленным.
func (r *PostgresRepository) MarkMailSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE mail_outbox SET status = $2, sent_at = now(), attempts = attempts + 1 WHERE id = $1`,
		id.String(), string(model.MailStatusSent),
	)
	if err != nil {
		return fmt.Errorf("mark mail sent: %w", err)
	}
	return nil
}

// MarkMailFailed отмечает письмо неотправленным после исчерпания попыток.
func (r *PostgresRepository) MarkMailFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE mail_outbox SET status = $2, attempts = attempts + 1 WHERE id = $1`,
		id.String(), string(model.MailStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("mark mail failed: %w", err)
	}
	return nil
}
