package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubIdentities struct {
	byID map[int64]Identity
}

func (s stubIdentities) IdentityByID(_ context.Context, userID int64) (Identity, error) {
	identity, ok := s.byID[userID]
	if !ok {
		return Identity{}, ErrInvalidUser
	}
	return identity, nil
}

func (s stubIdentities) IdentityByEmail(_ context.Context, email string) (Identity, error) {
	for _, identity := range s.byID {
		if strings.EqualFold(identity.Email, email) {
			return identity, nil
		}
	}
	return Identity{}, ErrInvalidUser
}

func newTestResolver(t *testing.T) (*Resolver, stubIdentities) {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	store := stubIdentities{byID: map[int64]Identity{
		1: {UserID: 1, Email: "admin@example.com", Role: RoleAdministrator, PasswordHash: hash},
		2: {UserID: 2, Email: "ana@example.com", Role: RoleRegular, PasswordHash: hash},
	}}
	tokens, err := NewTokens("resolver-secret")
	require.NoError(t, err)
	resolver, err := NewResolver(store, tokens)
	require.NoError(t, err)
	return resolver, store
}

func TestResolveRoleReadsCurrentRole(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	login, err := resolver.Login(ctx, " Ana@Example.com ", "s3cret")
	require.NoError(t, err)
	require.Equal(t, Session{UserID: 2, Role: RoleRegular}, login.Session)

	session, err := resolver.ResolveRole(ctx, login.Token)
	require.NoError(t, err)
	require.Equal(t, RoleRegular, session.Role)

	promoted := store.byID[2]
	promoted.Role = RoleAdministrator
	store.byID[2] = promoted

	session, err = resolver.ResolveRole(ctx, login.Token)
	require.NoError(t, err)
	require.Equal(t, RoleAdministrator, session.Role)
}

func TestResolveRoleUnknownSubject(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	login, err := resolver.Login(ctx, "ana@example.com", "s3cret")
	require.NoError(t, err)
	delete(store.byID, 2)

	_, err = resolver.ResolveRole(ctx, login.Token)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = resolver.ResolveRole(ctx, "garbage")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Login(ctx, "ana@example.com", "wrong")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = resolver.Login(ctx, "nobody@example.com", "s3cret")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = resolver.Login(ctx, "", "s3cret")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionRequireAdministrator(t *testing.T) {
	require.NoError(t, Session{UserID: 1, Role: RoleAdministrator}.RequireAdministrator())
	require.ErrorIs(t, Session{UserID: 2, Role: RoleRegular}.RequireAdministrator(), ErrForbidden)
	require.ErrorIs(t, Session{}.RequireAdministrator(), ErrUnauthenticated)

	regular := Session{UserID: 2, Role: RoleRegular}
	require.True(t, regular.CanActFor(2))
	require.False(t, regular.CanActFor(3))
	require.True(t, Session{UserID: 1, Role: RoleAdministrator}.CanActFor(3))
}

func TestRoleJSON(t *testing.T) {
	var body struct {
		Role Role `json:"role"`
	}
	for raw, want := range map[string]Role{
		`{"role":"admin"}`:         RoleAdministrator,
		`{"role":"administrator"}`: RoleAdministrator,
		`{"role":"user"}`:          RoleRegular,
		`{"role":1}`:               RoleRegular,
		`{"role":"2"}`:             RoleAdministrator,
	} {
		require.NoError(t, json.Unmarshal([]byte(raw), &body), raw)
		require.Equal(t, want, body.Role, raw)
	}
	err := json.Unmarshal([]byte(`{"role":"owner"}`), &body)
	require.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)

	out, err := json.Marshal(struct {
		Role Role `json:"role"`
	}{RoleAdministrator})
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"administrator"}`, string(out))
}

func TestCode(t *testing.T) {
	require.Equal(t, "forbidden", Code(ErrForbidden))
	require.Equal(t, "invalid_company", Code(ErrInvalidCompany))
	require.Equal(t, "internal", Code(errors.New("boom")))
}
