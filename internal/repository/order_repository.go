package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vaidashi/storefront-api/internal/database"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

const orderColumns = `id, user_id, total_price, status, created_at, updated_at, payment_date`

// OrderChange is what an OrderMutation asks the repository to persist besides the order row
type OrderChange struct {
	Events []*models.OutboxMessage
	// Restock returns every item quantity to its product
	Restock bool
}

// OrderMutation edits a locked order in place. Returning ErrNoChange keeps
// the stored row as it is; any other error aborts the transaction.
type OrderMutation func(order *models.Order) (*OrderChange, error)

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// PlaceOrder reserves stock for every item and inserts the order, its items
// and events in one transaction. A stock shortage or a missing product rolls
// everything back. Items are reserved in product id order so concurrent
// orders lock product rows in the same sequence.
func (r *OrderRepository) PlaceOrder(ctx context.Context, order *models.Order, events ...*models.OutboxMessage) error {
	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, item := range items {
			if err := reserveStock(ctx, tx, item); err != nil {
				return err
			}
		}

		query := `INSERT INTO orders (id, user_id, total_price, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`

		if _, err := tx.ExecContext(ctx, query,
			order.ID, order.UserID, order.TotalPrice, order.Status, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return classify(err)
		}

		for i := range order.Items {
			if err := insertOrderItem(ctx, tx, &order.Items[i]); err != nil {
				return err
			}
		}

		for _, event := range events {
			if err := insertOutboxMessage(ctx, tx, event); err != nil {
				return fmt.Errorf("%w: %v", ErrDatabase, err)
			}
		}

		return nil
	})

	if err != nil {
		if !errors.Is(err, ErrInsufficientStock) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDuplicate) {
			r.logger.Error("Failed to place order", "error", err, "orderID", order.ID)
		}
		return err
	}

	return nil
}

// reserveStock decrements stock only when enough remains, so the check and the
// write cannot be separated by a concurrent order.
func reserveStock(ctx context.Context, tx *sqlx.Tx, item models.OrderItem) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND is_deleted = FALSE AND stock >= $1`,
		item.Quantity, item.ProductID,
	)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	affected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if affected == 1 {
		return nil
	}

	var stock int

	err = tx.GetContext(ctx, &stock, `SELECT stock FROM products WHERE id = $1 AND is_deleted = FALSE`, item.ProductID)

	if errors.Is(err, sql.ErrNoRows) {
		return &ProductMissingError{ProductID: item.ProductID}
	}

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &StockShortageError{ProductID: item.ProductID, ProductName: item.ProductName, Requested: item.Quantity}
}

func insertOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `INSERT INTO order_items (order_id, product_id, product_name, product_img, unit_price, quantity, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	err := tx.QueryRowxContext(ctx, query,
		item.OrderID, item.ProductID, item.ProductName, item.ProductImg, item.UnitPrice, item.Quantity, item.TotalPrice,
	).Scan(&item.ID)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetByID retrieves an order with its items
func (r *OrderRepository) GetByID(ctx context.Context, id int) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order models.Order
	err := r.db.DB.GetContext(ctx, &order, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err := r.attachItems(ctx, r.db.DB, []*models.Order{&order}); err != nil {
		return nil, err
	}

	return &order, nil
}

// ListByUser returns the user's orders, newest first
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	return r.list(ctx, query, userID)
}

// List returns a page of all orders, newest first
func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	return r.list(ctx, query, limit, offset)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	orders := []*models.Order{}

	if err := r.db.DB.SelectContext(ctx, &orders, query, args...); err != nil {
		r.logger.Error("Failed to list orders", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err := r.attachItems(ctx, r.db.DB, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, q sqlx.QueryerContext, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int]*models.Order, len(orders))

	for i, order := range orders {
		ids[i] = int64(order.ID)
		order.Items = []models.OrderItem{}
		byID[order.ID] = order
	}

	query := `SELECT id, order_id, product_id, product_name, product_img, unit_price, quantity, total_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`

	var items []models.OrderItem

	if err := sqlx.SelectContext(ctx, q, &items, query, pq.Array(ids)); err != nil {
		r.logger.Error("Failed to load order items", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	for _, item := range items {
		if order, ok := byID[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	return nil
}

// Update locks the order row, lets fn edit it and persists status, payment
// date and any events together. The returned order reflects the stored state.
func (r *OrderRepository) Update(ctx context.Context, id int, fn OrderMutation) (*models.Order, error) {
	var order models.Order

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

		if err := tx.GetContext(ctx, &order, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		if err := r.attachItems(ctx, tx, []*models.Order{&order}); err != nil {
			return err
		}

		snapshot := order
		change, err := fn(&order)

		if err != nil {
			if errors.Is(err, ErrNoChange) {
				order = snapshot
			}
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, payment_date = $2, updated_at = $3 WHERE id = $4`,
			order.Status, order.PaymentDate, order.UpdatedAt, order.ID,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		if change == nil {
			return nil
		}

		if change.Restock {
			for _, item := range order.Items {
				if _, err := tx.ExecContext(ctx,
					`UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2`,
					item.Quantity, item.ProductID,
				); err != nil {
					return fmt.Errorf("%w: %v", ErrDatabase, err)
				}
			}
		}

		for _, event := range change.Events {
			if err := insertOutboxMessage(ctx, tx, event); err != nil {
				return fmt.Errorf("%w: %v", ErrDatabase, err)
			}
		}

		return nil
	})

	if errors.Is(err, ErrNoChange) {
		return &order, nil
	}

	if err != nil {
		if errors.Is(err, ErrDatabase) {
			r.logger.Error("Failed to update order", "error", err, "orderID", id)
		}
		return nil, err
	}

	return &order, nil
}

// Delete purges the order and its items. Stock is not restored.
func (r *OrderRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)

	if err != nil {
		r.logger.Error("Failed to delete order", "error", err, "orderID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	affected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
