package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `
	id, order_number, user_id, total_amount, status, COALESCE(payment_id, ''), payment_status,
	shipping_street, shipping_city, shipping_state, shipping_zip, shipping_country,
	notes, version, created_at, updated_at`

// rowScanner объединяет *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		addr          = &order.ShippingAddress
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.TotalAmount, &status, &order.PaymentID, &paymentStatus,
		&addr.Street, &addr.City, &addr.State, &addr.Zip, &addr.Country,
		&order.Notes, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.OrderPaymentStatus(paymentStatus)
	return order, nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			rollback(tx)
		}
	}()

	addr := order.ShippingAddress
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, total_amount, status, payment_id, payment_status,
			shipping_street, shipping_city, shipping_state, shipping_zip, shipping_country,
			notes, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,NULLIF($6, ''),$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		order.ID, order.OrderNumber, order.UserID, order.TotalAmount, string(order.Status),
		order.PaymentID, string(order.PaymentStatus),
		addr.Street, addr.City, addr.State, addr.Zip, addr.Country,
		order.Notes, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, unit_price, quantity, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, order.ID, i, item.ProductID, item.Name, item.UnitPrice, item.Quantity, item.Subtotal); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = insertHistory(ctx, tx, order.ID, order.StatusHistory); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if err := r.loadChildren(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where := `WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)`
	args := []any{filter.UserID, string(filter.Status)}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	_, limit := domain.NormalizePage(filter.Page, filter.Limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, append(args, limit, domain.Offset(filter.Page, filter.Limit))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// Save обновляет заказ по версии и дописывает новые записи журнала статусов.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			rollback(tx)
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_id = NULLIF($2, ''),
		    payment_status = $3,
		    notes = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $6
		  AND version = $7
	`,
		string(order.Status), order.PaymentID, string(order.PaymentStatus), order.Notes,
		order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	// Журнал только дописывается: сохраняем записи сверх уже лежащих в базе.
	var stored int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_status_history WHERE order_id = $1`, order.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count status history: %w", err)
	}
	if stored < len(order.StatusHistory) {
		if err = insertHistory(ctx, tx, order.ID, order.StatusHistory[stored:]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID string, entries []domain.StatusChange) error {
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, note, changed_at)
			VALUES ($1,$2,$3,$4)
		`, orderID, string(entry.Status), entry.Note, entry.ChangedAt); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) loadChildren(ctx context.Context, order *domain.Order) error {
	items, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price, quantity, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer items.Close()

	order.Items = make([]domain.OrderItem, 0)
	for items.Next() {
		var item domain.OrderItem
		if err := items.Scan(&item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &item.Subtotal); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := items.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}

	history, err := r.db.QueryContext(ctx, `
		SELECT status, note, changed_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load status history: %w", err)
	}
	defer history.Close()

	order.StatusHistory = make([]domain.StatusChange, 0)
	for history.Next() {
		var (
			entry  domain.StatusChange
			status string
		)
		if err := history.Scan(&status, &entry.Note, &entry.ChangedAt); err != nil {
			return fmt.Errorf("scan status history: %w", err)
		}
		entry.Status = domain.OrderStatus(status)
		order.StatusHistory = append(order.StatusHistory, entry)
	}
	if err := history.Err(); err != nil {
		return fmt.Errorf("iterate status history: %w", err)
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
