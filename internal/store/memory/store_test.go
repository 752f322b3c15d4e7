package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/voucher"
)

func seed(t *testing.T) (*Store, directory.User, []directory.Company) {
	t.Helper()
	ctx := context.Background()
	s := New()
	var companies []directory.Company
	for _, name := range []string{"Acme", "Globex", "Initech"} {
		c, err := s.CreateCompany(ctx, directory.Company{Name: name})
		require.NoError(t, err)
		companies = append(companies, c)
	}
	u, err := s.CreateUser(ctx, directory.User{Name: "Ana", Email: "ana@example.com", Role: auth.RoleRegular})
	require.NoError(t, err)
	return s, u, companies
}

func TestReplaceGrantsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, u, cs := seed(t)

	change, err := s.ReplaceGrants(ctx, u.ID, []int64{cs[0].ID, cs[2].ID}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), change.Version)
	require.Equal(t, []int64{cs[0].ID, cs[2].ID}, change.Added())

	_, err = s.ReplaceGrants(ctx, u.ID, []int64{cs[1].ID, 99, 98}, nil)
	require.ErrorIs(t, err, auth.ErrInvalidCompany)
	require.Contains(t, err.Error(), "98, 99")

	set, err := s.Grants(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{cs[0].ID, cs[2].ID}, set.CompanyIDs)
	require.Equal(t, int64(1), set.Version)
}

func TestReplaceGrantsVersionCheck(t *testing.T) {
	ctx := context.Background()
	s, u, cs := seed(t)

	stale := int64(0)
	_, err := s.ReplaceGrants(ctx, u.ID, []int64{cs[0].ID}, &stale)
	require.NoError(t, err)
	_, err = s.ReplaceGrants(ctx, u.ID, []int64{cs[1].ID}, &stale)
	require.ErrorIs(t, err, auth.ErrConflict)

	noop, err := s.ReplaceGrants(ctx, u.ID, []int64{cs[0].ID}, nil)
	require.NoError(t, err)
	require.True(t, noop.Noop())
	require.Equal(t, int64(1), noop.Version)
}

func TestToggleNoops(t *testing.T) {
	ctx := context.Background()
	s, u, cs := seed(t)

	change, err := s.RemoveGrant(ctx, u.ID, cs[0].ID)
	require.NoError(t, err)
	require.True(t, change.Noop())

	change, err = s.AddGrant(ctx, u.ID, cs[0].ID)
	require.NoError(t, err)
	require.Equal(t, []int64{cs[0].ID}, change.Added())

	change, err = s.AddGrant(ctx, u.ID, cs[0].ID)
	require.NoError(t, err)
	require.True(t, change.Noop())

	_, err = s.AddGrant(ctx, u.ID, 404)
	require.ErrorIs(t, err, auth.ErrInvalidCompany)
	_, err = s.AddGrant(ctx, 404, cs[0].ID)
	require.ErrorIs(t, err, auth.ErrInvalidUser)
}

func TestAdministratorGrantsAreForbidden(t *testing.T) {
	ctx := context.Background()
	s, _, cs := seed(t)
	admin, err := s.CreateUser(ctx, directory.User{Name: "Root", Email: "root@example.com", Role: auth.RoleAdministrator})
	require.NoError(t, err)

	_, err = s.ReplaceGrants(ctx, admin.ID, []int64{cs[0].ID}, nil)
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = s.AddGrant(ctx, admin.ID, cs[0].ID)
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestDeleteCompanyCascades(t *testing.T) {
	ctx := context.Background()
	s, u, cs := seed(t)
	_, err := s.ReplaceGrants(ctx, u.ID, []int64{cs[0].ID, cs[2].ID}, nil)
	require.NoError(t, err)
	v, err := s.CreateVoucher(ctx, voucher.Voucher{CompanyID: cs[2].ID, Supplier: "X", Currency: "USD", Amount: 100, IssuedOn: voucher.NewDate(2024, 1, 1)})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCompany(ctx, cs[2].ID))

	set, err := s.Grants(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{cs[0].ID}, set.CompanyIDs)
	require.Equal(t, int64(2), set.Version)
	_, err = s.GetVoucher(ctx, v.ID)
	require.ErrorIs(t, err, auth.ErrNotFound)
	require.ErrorIs(t, s.DeleteCompany(ctx, cs[2].ID), auth.ErrInvalidCompany)
}

func TestUserEmailUniqueAndIdentity(t *testing.T) {
	ctx := context.Background()
	s, u, cs := seed(t)

	_, err := s.CreateUser(ctx, directory.User{Name: "Dup", Email: "ana@example.com", Role: auth.RoleRegular})
	require.ErrorIs(t, err, auth.ErrConflict)

	home := cs[1].ID
	updated, err := s.UpdateUser(ctx, u.ID, directory.UserUpdate{CompanyID: &home})
	require.NoError(t, err)
	require.Equal(t, home, *updated.CompanyID)

	missing := int64(77)
	_, err = s.UpdateUser(ctx, u.ID, directory.UserUpdate{CompanyID: &missing})
	require.ErrorIs(t, err, auth.ErrInvalidCompany)

	identity, err := s.IdentityByEmail(ctx, " ANA@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, identity.UserID)

	require.NoError(t, s.DeleteCompany(ctx, home))
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, got.CompanyID)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.IdentityByID(ctx, u.ID)
	require.ErrorIs(t, err, auth.ErrInvalidUser)
}

func TestListVouchersScopeAndPaging(t *testing.T) {
	ctx := context.Background()
	s, _, cs := seed(t)
	for day := 1; day <= 12; day++ {
		company := cs[day%2].ID
		_, err := s.CreateVoucher(ctx, voucher.Voucher{
			CompanyID: company, Supplier: "Proveedor", Currency: "MXN",
			Amount: int64(day * 1000), IssuedOn: voucher.NewDate(2024, 5, day),
		})
		require.NoError(t, err)
	}

	scope := permission.Scope{CompanyIDs: []int64{cs[0].ID}}
	items, total, err := s.ListVouchers(ctx, scope, voucher.Filter{Page: 1, PerPage: 4})
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Len(t, items, 4)
	for _, v := range items {
		require.Equal(t, cs[0].ID, v.CompanyID)
	}
	require.Equal(t, 12, items[0].IssuedOn.Day())

	items, total, err = s.ListVouchers(ctx, permission.Scope{All: true}, voucher.Filter{Page: 2, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 12, total)
	require.Len(t, items, 2)

	items, _, err = s.ListVouchers(ctx, permission.Scope{All: true}, voucher.Filter{Page: 5, PerPage: 10})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestAuditNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.Record(ctx, auditEntry(7, i)))
	}
	require.NoError(t, s.Record(ctx, auditEntry(8, 9)))

	entries, err := s.ListAudit(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(3), entries[0].CompanyID)
	require.Equal(t, int64(2), entries[1].CompanyID)
}

func TestCompanyNamesAreUnique(t *testing.T) {
	ctx := context.Background()
	s, _, cs := seed(t)

	_, err := s.CreateCompany(ctx, directory.Company{Name: "Acme"})
	require.ErrorIs(t, err, auth.ErrConflict)

	taken := "Globex"
	_, err = s.UpdateCompany(ctx, cs[0].ID, directory.CompanyUpdate{Name: &taken})
	require.ErrorIs(t, err, auth.ErrConflict)

	same := "Acme"
	c, err := s.UpdateCompany(ctx, cs[0].ID, directory.CompanyUpdate{Name: &same})
	require.NoError(t, err)
	require.Equal(t, "Acme", c.Name)

	companies, err := s.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 3)
}
