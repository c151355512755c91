package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"shop-service/internal/models"
	"shop-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommitStore backs both the stock reader and the transaction
// runner. Writes made inside RunInTx become visible only when the
// callback returns nil, mirroring the database's commit/rollback.
type fakeCommitStore struct {
	mu     sync.Mutex
	stock  map[int64]int
	orders map[int64]fakeOrder

	nextOrderID    int64
	failInsertFor  map[int64]bool
	beforeCommitTx func(s *fakeCommitStore)
}

type fakeOrder struct {
	userID int64
	total  int64
	lines  []models.CartLine
}

func newFakeCommitStore(stock map[int64]int) *fakeCommitStore {
	return &fakeCommitStore{
		stock:         stock,
		orders:        make(map[int64]fakeOrder),
		failInsertFor: make(map[int64]bool),
	}
}

func (s *fakeCommitStore) GetStock(_ context.Context, productID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	available, ok := s.stock[productID]
	if !ok {
		return 0, fmt.Errorf("product %d: %w", productID, store.ErrProductNotFound)
	}
	return available, nil
}

func (s *fakeCommitStore) RunInTx(_ context.Context, fn func(tx store.CheckoutTx) error) error {
	s.mu.Lock()
	if s.beforeCommitTx != nil {
		hook := s.beforeCommitTx
		s.beforeCommitTx = nil
		s.mu.Unlock()
		hook(s)
		s.mu.Lock()
	}

	tx := &fakeTx{store: s, stock: make(map[int64]int, len(s.stock))}
	for id, available := range s.stock {
		tx.stock[id] = available
	}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock = tx.stock
	for id, order := range tx.orders {
		s.orders[id] = order
	}
	return nil
}

type fakeTx struct {
	store  *fakeCommitStore
	stock  map[int64]int
	orders map[int64]fakeOrder
}

func (t *fakeTx) CreateOrder(_ context.Context, userID, total int64) (int64, error) {
	t.store.mu.Lock()
	t.store.nextOrderID++
	id := t.store.nextOrderID
	t.store.mu.Unlock()

	if t.orders == nil {
		t.orders = make(map[int64]fakeOrder)
	}
	t.orders[id] = fakeOrder{userID: userID, total: total}
	return id, nil
}

func (t *fakeTx) DecrementStock(_ context.Context, productID int64, quantity int) (int64, error) {
	if t.stock[productID] < quantity {
		return 0, nil
	}
	t.stock[productID] -= quantity
	return 1, nil
}

func (t *fakeTx) InsertOrderLines(_ context.Context, orderID int64, lines []models.CartLine) (int, error) {
	for _, line := range lines {
		if t.store.failInsertFor[line.ProductID] {
			return 0, fmt.Errorf("insert failed for product %d", line.ProductID)
		}
		order := t.orders[orderID]
		order.lines = append(order.lines, line)
		t.orders[orderID] = order
	}
	return len(lines), nil
}

type fakeCartClearer struct {
	cleared []string
}

func (f *fakeCartClearer) ClearCart(_ context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return nil
}

type fakePublisher struct {
	events []*models.OrderPlacedEvent
}

func (f *fakePublisher) PublishOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newCheckoutFixture(stock map[int64]int) (*CheckoutService, *fakeCommitStore, *fakeCartClearer, *fakePublisher) {
	commitStore := newFakeCommitStore(stock)
	clearer := &fakeCartClearer{}
	publisher := &fakePublisher{}
	svc := NewCheckoutService(commitStore, commitStore, clearer, publisher)
	return svc, commitStore, clearer, publisher
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc, commitStore, clearer, _ := newCheckoutFixture(map[int64]int{7: 5})

	_, err := svc.Checkout(context.Background(), "sess-1", 42, nil)

	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 5, commitStore.stock[7])
	assert.Empty(t, commitStore.orders)
	assert.Empty(t, clearer.cleared)
}

func TestCheckoutSuccess(t *testing.T) {
	svc, commitStore, clearer, publisher := newCheckoutFixture(map[int64]int{7: 5, 9: 3})

	cart := []models.CartLine{
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 2},
		{ProductID: 9, Name: "Gadget", UnitPrice: 550, Quantity: 1},
	}

	orderID, err := svc.Checkout(context.Background(), "sess-1", 42, cart)
	require.NoError(t, err)
	require.NotZero(t, orderID)

	order := commitStore.orders[orderID]
	assert.Equal(t, int64(42), order.userID)
	assert.Equal(t, int64(2550), order.total)
	require.Len(t, order.lines, 2)

	var lineTotal int64
	for _, line := range order.lines {
		lineTotal += line.Subtotal()
	}
	assert.Equal(t, order.total, lineTotal)

	assert.Equal(t, 3, commitStore.stock[7])
	assert.Equal(t, 2, commitStore.stock[9])

	assert.Equal(t, []string{"sess-1"}, clearer.cleared)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, orderID, publisher.events[0].OrderID)
	assert.Equal(t, int64(2550), publisher.events[0].Total)
	assert.Equal(t, models.EventTypeOrderPlaced, publisher.events[0].EventType)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	svc, commitStore, clearer, publisher := newCheckoutFixture(map[int64]int{7: 5})

	cart := []models.CartLine{
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 10},
	}

	_, err := svc.Checkout(context.Background(), "sess-1", 42, cart)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(7), insufficient.ProductID)
	assert.Equal(t, 5, insufficient.Available)
	assert.Equal(t, 10, insufficient.Requested)

	assert.Equal(t, 5, commitStore.stock[7])
	assert.Empty(t, commitStore.orders)
	assert.Empty(t, clearer.cleared)
	assert.Empty(t, publisher.events)
}

func TestCheckoutOneBadLineAbortsAll(t *testing.T) {
	svc, commitStore, _, _ := newCheckoutFixture(map[int64]int{7: 5, 9: 1})

	cart := []models.CartLine{
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 2},
		{ProductID: 9, Name: "Gadget", UnitPrice: 550, Quantity: 4},
	}

	_, err := svc.Checkout(context.Background(), "sess-1", 42, cart)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(9), insufficient.ProductID)

	assert.Equal(t, 5, commitStore.stock[7])
	assert.Equal(t, 1, commitStore.stock[9])
	assert.Empty(t, commitStore.orders)
}

func TestCheckoutProductNotFound(t *testing.T) {
	svc, commitStore, _, _ := newCheckoutFixture(map[int64]int{7: 5})

	cart := []models.CartLine{
		{ProductID: 404, Name: "Ghost", UnitPrice: 100, Quantity: 1},
	}

	_, err := svc.Checkout(context.Background(), "sess-1", 42, cart)

	var notFound *ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(404), notFound.ProductID)
	assert.Empty(t, commitStore.orders)
}

func TestCheckoutFailureIsIdempotent(t *testing.T) {
	svc, commitStore, _, _ := newCheckoutFixture(map[int64]int{7: 5})

	cart := []models.CartLine{
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 10},
	}

	for i := 0; i < 2; i++ {
		_, err := svc.Checkout(context.Background(), "sess-1", 42, cart)
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 5, commitStore.stock[7])
	}
	assert.Empty(t, commitStore.orders)
}

func TestCheckoutLineInsertFailureRollsBack(t *testing.T) {
	svc, commitStore, clearer, publisher := newCheckoutFixture(map[int64]int{7: 5, 9: 3})
	commitStore.failInsertFor[9] = true

	cart := []models.CartLine{
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 2},
		{ProductID: 9, Name: "Gadget", UnitPrice: 550, Quantity: 1},
	}

	_, err := svc.Checkout(context.Background(), "sess-1", 42, cart)

	var partial *PartialCommitFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, int64(9), partial.ProductID)

	// The first line's decrement must not survive the rollback and no
	// order may be visible.
	assert.Equal(t, 5, commitStore.stock[7])
	assert.Equal(t, 3, commitStore.stock[9])
	assert.Empty(t, commitStore.orders)
	assert.Empty(t, clearer.cleared)
	assert.Empty(t, publisher.events)
}

func TestCheckoutLosesRaceAtDecrement(t *testing.T) {
	svc, commitStore, _, _ := newCheckoutFixture(map[int64]int{7: 5})

	// A concurrent checkout drains the stock between validation and the
	// guarded decrement.
	commitStore.beforeCommitTx = func(s *fakeCommitStore) {
		s.mu.Lock()
		s.stock[7] = 1
		s.mu.Unlock()
	}

	cart := []models.CartLine{
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 2},
	}

	_, err := svc.Checkout(context.Background(), "sess-1", 42, cart)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Available)
	assert.Equal(t, 2, insufficient.Requested)

	assert.Equal(t, 1, commitStore.stock[7])
	assert.Empty(t, commitStore.orders)
}

func TestCheckoutCoalescesDuplicateLines(t *testing.T) {
	svc, commitStore, _, _ := newCheckoutFixture(map[int64]int{7: 5})

	cart := []models.CartLine{
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 1},
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 2},
	}

	orderID, err := svc.Checkout(context.Background(), "sess-1", 42, cart)
	require.NoError(t, err)

	order := commitStore.orders[orderID]
	require.Len(t, order.lines, 1)
	assert.Equal(t, 3, order.lines[0].Quantity)
	assert.Equal(t, int64(3000), order.total)
	assert.Equal(t, 2, commitStore.stock[7])
}

func TestCoalesceLines(t *testing.T) {
	lines := coalesceLines([]models.CartLine{
		{ProductID: 9, Name: "Gadget", UnitPrice: 550, Quantity: 1},
		{ProductID: 7, Name: "Widget", UnitPrice: 1000, Quantity: 2},
		{ProductID: 9, Name: "Gadget", UnitPrice: 550, Quantity: 3},
	})

	require.Len(t, lines, 2)
	assert.Equal(t, int64(7), lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, int64(9), lines[1].ProductID)
	assert.Equal(t, 4, lines[1].Quantity)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "empty_cart", failureReason(ErrEmptyCart))
	assert.Equal(t, "product_not_found", failureReason(&ProductNotFoundError{ProductID: 1}))
	assert.Equal(t, "insufficient_stock", failureReason(&InsufficientStockError{ProductID: 1}))
	assert.Equal(t, "partial_commit", failureReason(&PartialCommitFailure{ProductID: 1, Cause: errors.New("boom")}))
	assert.Equal(t, "db_error", failureReason(errors.New("boom")))
}
