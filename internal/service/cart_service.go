package service

import (
	"context"
	"errors"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// ProductReader looks up catalog data when a line is added to a cart.
type ProductReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// SessionStore loads and saves the per-request session value.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SaveSession(ctx context.Context, sessionID string, session *models.Session) error
}

// CartService mutates the session cart. The session is loaded, changed
// and written back per request; the checkout coordinator only ever sees
// an immutable snapshot of it.
type CartService struct {
	sessions SessionStore
	products ProductReader
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(sessions SessionStore, products ProductReader) *CartService {
	return &CartService{
		sessions: sessions,
		products: products,
		logger:   util.GetLogger(),
	}
}

// AddItem adds one unit of a product to the session cart, bumping the
// quantity when the product is already in it.
func (s *CartService) AddItem(ctx context.Context, sessionID string, productID int64) ([]models.CartLine, error) {
	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range session.Cart {
		if session.Cart[i].ProductID == productID {
			session.Cart[i].Quantity++
			found = true
			break
		}
	}
	if !found {
		session.Cart = append(session.Cart, models.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  1,
		})
	}

	if err := s.sessions.SaveSession(ctx, sessionID, session); err != nil {
		return nil, err
	}
	return session.Cart, nil
}

// UpdateQuantity sets the quantity of a cart line. Quantities below one
// are rejected; removing a line goes through RemoveItem.
func (s *CartService) UpdateQuantity(ctx context.Context, sessionID string, productID int64, quantity int) ([]models.CartLine, error) {
	if quantity < 1 {
		return nil, errors.New("quantity must be at least 1")
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for i := range session.Cart {
		if session.Cart[i].ProductID == productID {
			session.Cart[i].Quantity = quantity
			if err := s.sessions.SaveSession(ctx, sessionID, session); err != nil {
				return nil, err
			}
			return session.Cart, nil
		}
	}
	return session.Cart, nil
}

// RemoveItem drops a product's line from the cart
func (s *CartService) RemoveItem(ctx context.Context, sessionID string, productID int64) ([]models.CartLine, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	kept := session.Cart[:0]
	for _, line := range session.Cart {
		if line.ProductID != productID {
			kept = append(kept, line)
		}
	}
	session.Cart = kept

	if err := s.sessions.SaveSession(ctx, sessionID, session); err != nil {
		return nil, err
	}
	return session.Cart, nil
}

// GetCart returns the current cart with its running total
func (s *CartService) GetCart(ctx context.Context, sessionID string) ([]models.CartLine, int64, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	for _, line := range session.Cart {
		total += line.Subtotal()
	}
	return session.Cart, total, nil
}
