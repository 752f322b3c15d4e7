package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identity is the slice of a user record the resolver needs.
type Identity struct {
	UserID       int64
	Email        string
	Role         Role
	PasswordHash string
}

// IdentityStore loads identities from the user directory.
type IdentityStore interface {
	IdentityByID(ctx context.Context, userID int64) (Identity, error)
	IdentityByEmail(ctx context.Context, email string) (Identity, error)
}

// Resolver turns bearer tokens into sessions and credentials into tokens.
type Resolver struct {
	store  IdentityStore
	tokens *Tokens
}

func NewResolver(store IdentityStore, tokens *Tokens) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if tokens == nil {
		return nil, errors.New("token signer is required")
	}
	return &Resolver{store: store, tokens: tokens}, nil
}

// ResolveRole validates token and looks up the current role of its subject.
// A token whose user no longer exists is unauthenticated.
func (r *Resolver) ResolveRole(ctx context.Context, token string) (Session, error) {
	userID, err := r.tokens.Verify(token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	identity, err := r.store.IdentityByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrInvalidUser) || errors.Is(err, ErrNotFound) {
			return Session{}, fmt.Errorf("%w: unknown subject", ErrUnauthenticated)
		}
		return Session{}, err
	}
	if !identity.Role.Valid() {
		return Session{}, fmt.Errorf("%w: user %d has no valid role", ErrUnauthenticated, userID)
	}
	return Session{UserID: identity.UserID, Role: identity.Role}, nil
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Session   Session
}

// Login checks the email/password pair and issues a token.
func (r *Resolver) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	identity, err := r.store.IdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrInvalidUser) || errors.Is(err, ErrNotFound) {
			return LoginResult{}, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
		}
		return LoginResult{}, err
	}
	if identity.PasswordHash == "" || VerifyPassword(identity.PasswordHash, password) != nil {
		return LoginResult{}, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	}
	token, expires, err := r.tokens.Issue(identity.UserID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		Token:     token,
		ExpiresAt: expires,
		Session:   Session{UserID: identity.UserID, Role: identity.Role},
	}, nil
}
