package service

import (
	"context"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"
)

// OrderService serves committed order data: history and ticket reads.
// Orders are never mutated here; the checkout coordinator is the only
// writer.
type OrderService struct {
	store *store.Store
}

// NewOrderService creates a new order service
func NewOrderService(store *store.Store) *OrderService {
	return &OrderService{store: store}
}

// OrderWithLines pairs an order header with its lines
type OrderWithLines struct {
	Order models.Order       `json:"order"`
	Lines []models.OrderLine `json:"lines"`
}

// GetHistory returns a user's orders, newest first, each with its lines
func (s *OrderService) GetHistory(ctx context.Context, userID int64) ([]OrderWithLines, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetHistory")
	defer span.End()

	orders, err := s.store.GetOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []OrderWithLines{}, nil
	}

	orderIDs := make([]int64, len(orders))
	for i, order := range orders {
		orderIDs[i] = order.ID
	}

	linesByOrder, err := s.store.GetOrderLinesByOrderIDs(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	history := make([]OrderWithLines, len(orders))
	for i, order := range orders {
		history[i] = OrderWithLines{
			Order: order,
			Lines: linesByOrder[order.ID],
		}
	}
	return history, nil
}

// GetOrderForUser returns one order with lines, scoped to its owner
func (s *OrderService) GetOrderForUser(ctx context.Context, orderID, userID int64) (*OrderWithLines, error) {
	order, err := s.store.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	lines, err := s.store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &OrderWithLines{Order: *order, Lines: lines}, nil
}
