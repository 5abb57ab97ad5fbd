package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"tutorledger/internal/core"
	"tutorledger/internal/ports"
)

const minPasswordLength = 8

// PasswordAuthenticator implements password-based authentication using bcrypt.
type PasswordAuthenticator struct {
	users ports.UserStore
	cost  int
}

// NewPasswordAuthenticator creates a new password-based authenticator.
// A cost of 0 selects bcrypt.DefaultCost.
func NewPasswordAuthenticator(users ports.UserStore, cost int) *PasswordAuthenticator {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordAuthenticator{users: users, cost: cost}
}

// ValidateCredential checks if the password meets minimum requirements.
func (a *PasswordAuthenticator) ValidateCredential(password string) error {
	if len(password) < minPasswordLength {
		return core.ErrWeakPassword
	}
	return nil
}

// Register creates an account with a hashed password.
func (a *PasswordAuthenticator) Register(ctx context.Context, email, password string) (core.User, error) {
	email, err := core.NormalizeEmail(email)
	if err != nil {
		return core.User{}, err
	}
	if err := a.ValidateCredential(password); err != nil {
		return core.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := a.users.CreateUser(ctx, core.User{Email: email, PasswordHash: string(hash)})
	if err != nil {
		if errors.Is(err, core.ErrEmailTaken) {
			return core.User{}, err
		}
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies the email and password, returning the user if valid.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (core.User, error) {
	email, err := core.NormalizeEmail(email)
	if err != nil {
		return core.User{}, core.ErrInvalidCredentials
	}
	user, err := a.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return core.User{}, core.ErrInvalidCredentials
		}
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return core.User{}, core.ErrInvalidCredentials
	}
	return user, nil
}
