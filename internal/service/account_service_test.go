package service

import (
	"context"
	"fmt"
	"testing"

	"shop-service/internal/models"
	"shop-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUserStore struct {
	users  map[string]*models.User
	nextID int64
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{users: make(map[string]*models.User)}
}

func (m *memoryUserStore) CreateUser(_ context.Context, user *models.User) error {
	m.nextID++
	user.ID = m.nextID
	stored := *user
	m.users[user.Email] = &stored
	return nil
}

func (m *memoryUserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return nil, fmt.Errorf("user %s: %w", email, store.ErrUserNotFound)
}

func (m *memoryUserStore) EmailExists(_ context.Context, email string) (bool, error) {
	_, ok := m.users[email]
	return ok, nil
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewAccountService(newMemoryUserStore())
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ana", "ana@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "Ana", user.Name)

	loggedIn, err := svc.Login(ctx, "ana@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewAccountService(newMemoryUserStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Ana Again", "ana@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginWrongPassword(t *testing.T) {
	userStore := newMemoryUserStore()
	svc := NewAccountService(userStore)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "ana@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// The stored hash must never equal the raw password.
	assert.NotEqual(t, "hunter2hunter2", userStore.users["ana@example.com"].PasswordHash)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := NewAccountService(newMemoryUserStore())

	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
