package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// commitTimeout bounds the commit phase once it has been detached from
// the caller's context.
const commitTimeout = 10 * time.Second

// StockReader reads available stock for validation.
type StockReader interface {
	GetStock(ctx context.Context, productID int64) (int, error)
}

// TxRunner runs the commit sequence inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx store.CheckoutTx) error) error
}

// CartClearer empties the cart held in a session. Called only after the
// commit succeeded.
type CartClearer interface {
	ClearCart(ctx context.Context, sessionID string) error
}

// OrderEventPublisher publishes order lifecycle events after commit.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// CheckoutService coordinates the checkout commit sequence: stock
// validation, order header, stock decrements, order lines, cart clear.
type CheckoutService struct {
	stock    StockReader
	txRunner TxRunner
	sessions CartClearer
	events   OrderEventPublisher
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	stock StockReader,
	txRunner TxRunner,
	sessions CartClearer,
	events OrderEventPublisher,
) *CheckoutService {
	return &CheckoutService{
		stock:    stock,
		txRunner: txRunner,
		sessions: sessions,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// Checkout commits a cart snapshot as one order. All writes happen in a
// single transaction: on any failure nothing is visible afterwards, on
// success the session cart is cleared and the new order id returned.
func (s *CheckoutService) Checkout(ctx context.Context, sessionID string, userID int64, cart []models.CartLine) (int64, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	if len(cart) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return 0, ErrEmptyCart
	}

	lines := coalesceLines(cart)

	if err := s.validateStock(ctx, lines); err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return 0, err
	}

	var total int64
	for _, line := range lines {
		total += line.Subtotal()
	}

	// The commit sequence must reach commit or rollback even if the
	// caller disconnects mid-checkout. Detach from the caller's
	// cancellation but keep its trace context.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	orderID, err := s.commit(commitCtx, userID, total, lines)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return 0, err
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Checkout committed",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID),
		zap.Int64("total", total),
		zap.Int("lines", len(lines)))

	if err := s.sessions.ClearCart(commitCtx, sessionID); err != nil {
		// The order is committed; a stale cart is recoverable, a lost
		// order is not.
		s.logger.Error("Failed to clear session cart",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	s.publishOrderPlaced(commitCtx, orderID, userID, total, lines)

	return orderID, nil
}

// validateStock checks every line against available stock before any
// write happens. Lines are checked concurrently; the first failure wins
// and cancels the remaining checks.
func (s *CheckoutService) validateStock(ctx context.Context, lines []models.CartLine) error {
	start := time.Now()
	defer func() {
		util.StockValidationLatency.Observe(time.Since(start).Seconds())
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, line := range lines {
		line := line
		g.Go(func() error {
			available, err := s.stock.GetStock(gctx, line.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrProductNotFound) {
					return &ProductNotFoundError{ProductID: line.ProductID}
				}
				return &PersistenceError{Cause: err}
			}
			if available < line.Quantity {
				return &InsufficientStockError{
					ProductID: line.ProductID,
					Name:      line.Name,
					Available: available,
					Requested: line.Quantity,
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// commit runs steps order-header, stock-decrement and line-insert inside
// one transaction. The guarded decrement re-checks stock at write time,
// so two concurrent checkouts cannot both pass validation and then
// over-decrement the same product.
func (s *CheckoutService) commit(ctx context.Context, userID, total int64, lines []models.CartLine) (int64, error) {
	var orderID int64

	err := s.txRunner.RunInTx(ctx, func(tx store.CheckoutTx) error {
		id, err := tx.CreateOrder(ctx, userID, total)
		if err != nil {
			return &PersistenceError{Cause: err}
		}
		orderID = id

		for _, line := range lines {
			affected, err := tx.DecrementStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return &PartialCommitFailure{ProductID: line.ProductID, Cause: err}
			}
			if affected == 0 {
				// Lost the race since validation; the current stock is
				// re-read for the error message.
				available, readErr := s.stock.GetStock(ctx, line.ProductID)
				if readErr != nil {
					available = 0
				}
				return &InsufficientStockError{
					ProductID: line.ProductID,
					Name:      line.Name,
					Available: available,
					Requested: line.Quantity,
				}
			}

			if _, err := tx.InsertOrderLines(ctx, orderID, []models.CartLine{line}); err != nil {
				return &PartialCommitFailure{ProductID: line.ProductID, Cause: err}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

func (s *CheckoutService) publishOrderPlaced(ctx context.Context, orderID, userID, total int64, lines []models.CartLine) {
	if s.events == nil {
		return
	}

	eventLines := make([]models.OrderLineData, 0, len(lines))
	for _, line := range lines {
		eventLines = append(eventLines, models.OrderLineData{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:   orderID,
		UserID:    userID,
		Total:     total,
		Lines:     eventLines,
	}

	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		// The commit already happened; event delivery is best effort.
		s.logger.Error("Failed to publish OrderPlaced event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

// coalesceLines merges duplicate product lines into one. Two lines for
// the same product in one cart are a caller-side bug; merging keeps the
// decrement and insert per product exactly-once.
func coalesceLines(cart []models.CartLine) []models.CartLine {
	merged := make(map[int64]models.CartLine, len(cart))
	for _, line := range cart {
		if existing, ok := merged[line.ProductID]; ok {
			existing.Quantity += line.Quantity
			merged[line.ProductID] = existing
			continue
		}
		merged[line.ProductID] = line
	}

	lines := make([]models.CartLine, 0, len(merged))
	for _, line := range merged {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func failureReason(err error) string {
	var notFound *ProductNotFoundError
	var insufficient *InsufficientStockError
	var partial *PartialCommitFailure

	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &notFound):
		return "product_not_found"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.As(err, &partial):
		return "partial_commit"
	default:
		return "db_error"
	}
}
