package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ErrOrderNotFound is returned when an order id does not exist or does
// not belong to the requesting user.
var ErrOrderNotFound = errors.New("order not found")

// GetOrdersByUserID retrieves a user's orders, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderForUser retrieves one order, scoped to its owner
func (s *Store) GetOrderForUser(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 AND user_id = $2", orderID, userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderLines retrieves all lines for an order with product names joined in
func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	query := `
		SELECT ol.id, ol.order_id, ol.product_id, p.name AS product_name,
		       ol.quantity, ol.unit_price, ol.subtotal
		FROM order_lines ol
		JOIN products p ON p.id = ol.product_id
		WHERE ol.order_id = $1
		ORDER BY ol.id`

	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines, query, orderID)
	return lines, err
}

// GetOrderLinesByOrderIDs retrieves lines for multiple orders in one query
func (s *Store) GetOrderLinesByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderLine, error) {
	grouped := make(map[int64][]models.OrderLine)
	if len(orderIDs) == 0 {
		return grouped, nil
	}

	query, args, err := sqlx.In(`
		SELECT ol.id, ol.order_id, ol.product_id, p.name AS product_name,
		       ol.quantity, ol.unit_price, ol.subtotal
		FROM order_lines ol
		JOIN products p ON p.id = ol.product_id
		WHERE ol.order_id IN (?)
		ORDER BY ol.order_id, ol.id`, orderIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var lines []models.OrderLine
	if err := s.db.SelectContext(ctx, &lines, query, args...); err != nil {
		return nil, err
	}

	for _, line := range lines {
		grouped[line.OrderID] = append(grouped[line.OrderID], line)
	}
	return grouped, nil
}
