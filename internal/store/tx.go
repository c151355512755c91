package store

import (
	"context"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CheckoutTx is the write surface available inside one checkout
// transaction. Either every call in the transaction takes effect or
// none of them do.
type CheckoutTx interface {
	// CreateOrder inserts the order header and returns the generated id.
	CreateOrder(ctx context.Context, userID, total int64) (int64, error)
	// DecrementStock subtracts quantity from a product's stock, guarded
	// so stock never goes negative. Returns the number of affected rows:
	// zero means the guard failed (insufficient stock at decrement time).
	DecrementStock(ctx context.Context, productID int64, quantity int) (int64, error)
	// InsertOrderLines inserts one row per cart line with its computed
	// subtotal and returns the number of rows inserted.
	InsertOrderLines(ctx context.Context, orderID int64, lines []models.CartLine) (int, error)
}

type checkoutTx struct {
	tx *sqlx.Tx
}

// RunInTx runs fn inside a database transaction. The transaction is
// committed only if fn returns nil; any error rolls everything back.
func (s *Store) RunInTx(ctx context.Context, fn func(tx CheckoutTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&checkoutTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *checkoutTx) CreateOrder(ctx context.Context, userID, total int64) (int64, error) {
	var orderID int64
	err := t.tx.GetContext(ctx, &orderID,
		"INSERT INTO orders (user_id, total) VALUES ($1, $2) RETURNING id",
		userID, total)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}
	return orderID, nil
}

func (t *checkoutTx) DecrementStock(ctx context.Context, productID int64, quantity int) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to decrement stock for product %d: %w", productID, err)
	}
	return res.RowsAffected()
}

func (t *checkoutTx) InsertOrderLines(ctx context.Context, orderID int64, lines []models.CartLine) (int, error) {
	query := `
		INSERT INTO order_lines (order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)`

	inserted := 0
	for _, line := range lines {
		if _, err := t.tx.ExecContext(ctx, query,
			orderID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal()); err != nil {
			return inserted, fmt.Errorf("failed to insert order line for product %d: %w", line.ProductID, err)
		}
		inserted++
	}
	return inserted, nil
}
