package service

import (
	"context"
	"errors"
	"fmt"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserStore persists and looks up user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// AccountService handles registration and login
type AccountService struct {
	store  UserStore
	logger *zap.Logger
}

// NewAccountService creates a new account service
func NewAccountService(store UserStore) *AccountService {
	return &AccountService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Register creates a user with a bcrypt-hashed password and returns the
// session identity for it.
func (s *AccountService) Register(ctx context.Context, name, email, password string) (*models.SessionUser, error) {
	if name == "" || email == "" || password == "" {
		return nil, errors.New("name, email and password are required")
	}

	taken, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if taken {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	util.RegistrationsTotal.Inc()
	s.logger.Info("User registered", zap.Int64("user_id", user.ID))

	return &models.SessionUser{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// Login verifies credentials and returns the session identity. The
// caller never learns whether the email or the password was wrong.
func (s *AccountService) Login(ctx context.Context, email, password string) (*models.SessionUser, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &models.SessionUser{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}
