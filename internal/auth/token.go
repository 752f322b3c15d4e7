package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"comprobantes.org/internal/ids"
)

const (
	defaultIssuer   = "comprobantes"
	defaultTokenTTL = 12 * time.Hour
	clockSkew       = 5 * time.Second
)

var errMissingSecret = errors.New("auth secret is not configured")

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims issued by Tokens. The role is deliberately not
// carried: it is re-read from the directory on every resolution.
type Claims struct {
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens) error

func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("issuer must not be empty")
		}
		t.issuer = issuer
		return nil
	}
}

func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) error {
		if ttl <= 0 {
			return errors.New("ttl must be greater than zero")
		}
		t.ttl = ttl
		return nil
	}
}

// WithTokenClock overrides the time source; used by tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *Tokens) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		t.now = now
		return nil
	}
}

// NewTokens constructs a signer with the given shared secret.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	t := &Tokens{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Issue signs a token for userID and returns it with its expiry.
func (t *Tokens) Issue(userID int64) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	now := t.now().UTC()
	expires := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   ids.FormatID(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature and claims and returns the subject user id.
func (t *Tokens) Verify(token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithLeeway(clockSkew))
	if err != nil {
		return 0, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return 0, ErrInvalidToken
	}
	userID, err := ids.ParseID(claims.Subject)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

func (t *Tokens) validateClaims(claims *Claims) error {
	if claims.Issuer != t.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.IssuedAt.Time.After(now.Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
