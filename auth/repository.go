package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pactchain/kv"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// KVRepository implements Repository on the injected key-value store. Users
// live beside ledger state under their own key prefix.
type KVRepository struct {
	store kv.Store
}

func NewRepository(store kv.Store) *KVRepository {
	return &KVRepository{store: store}
}

func userKey(email string) string {
	return "user/" + email
}

func (r *KVRepository) CreateUser(ctx context.Context, user User) error {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, ok, err := tx.Get(ctx, userKey(user.Email)); err != nil {
		return fmt.Errorf("auth: check email: %w", err)
	} else if ok {
		return ErrDuplicateEmail
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("auth: encode user: %w", err)
	}
	if err := tx.Put(ctx, userKey(user.Email), raw); err != nil {
		return fmt.Errorf("auth: store user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("auth: commit user: %w", err)
	}
	return nil
}

func (r *KVRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return User{}, fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	raw, ok, err := tx.Get(ctx, userKey(email))
	if err != nil {
		return User{}, fmt.Errorf("auth: load user: %w", err)
	}
	if !ok {
		return User{}, ErrUserNotFound
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return User{}, fmt.Errorf("auth: decode user: %w", err)
	}
	return user, nil
}
