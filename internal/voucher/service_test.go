package voucher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/store/memory"
	"comprobantes.org/internal/voucher"
)

type env struct {
	svc       *voucher.Service
	perms     *permission.Service
	admin     auth.Session
	regular   auth.Session
	companies []directory.Company
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	var companies []directory.Company
	for _, name := range []string{"Acme", "Globex"} {
		c, err := store.CreateCompany(ctx, directory.Company{Name: name})
		require.NoError(t, err)
		companies = append(companies, c)
	}
	root, err := store.CreateUser(ctx, directory.User{Name: "Root", Email: "root@example.com", Role: auth.RoleAdministrator})
	require.NoError(t, err)
	ana, err := store.CreateUser(ctx, directory.User{Name: "Ana", Email: "ana@example.com", Role: auth.RoleRegular})
	require.NoError(t, err)

	perms, err := permission.NewService(store)
	require.NoError(t, err)
	svc, err := voucher.NewService(store, perms)
	require.NoError(t, err)
	return env{
		svc:       svc,
		perms:     perms,
		admin:     auth.Session{UserID: root.ID, Role: auth.RoleAdministrator},
		regular:   auth.Session{UserID: ana.ID, Role: auth.RoleRegular},
		companies: companies,
	}
}

func (e env) create(t *testing.T, companyID int64, supplier string, amount int64, day int) voucher.Voucher {
	t.Helper()
	v, err := e.svc.Create(context.Background(), e.admin, voucher.Voucher{
		CompanyID: companyID,
		Supplier:  supplier,
		Currency:  "mxn",
		Amount:    amount,
		IssuedOn:  voucher.NewDate(2024, 6, day),
		Bank:      "BBVA",
	})
	require.NoError(t, err)
	return v
}

func TestListIsScopedToGrants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	acme := e.create(t, e.companies[0].ID, "Papelería Lupita", 12000, 1)
	e.create(t, e.companies[1].ID, "Ferretería", 5000, 2)

	page, err := e.svc.List(ctx, e.regular, voucher.Filter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Equal(t, 10, page.PerPage)

	_, err = e.perms.Assign(ctx, e.admin, e.regular.UserID, e.companies[0].ID)
	require.NoError(t, err)
	page, err = e.svc.List(ctx, e.regular, voucher.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, acme.ID, page.Items[0].ID)
	assert.Equal(t, "MXN", page.Items[0].Currency)

	page, err = e.svc.List(ctx, e.regular, voucher.Filter{CompanyID: e.companies[1].ID})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = e.svc.List(ctx, e.admin, voucher.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestListFilters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, e.companies[0].ID, "Papelería Lupita", 12000, 1)
	e.create(t, e.companies[0].ID, "Ferretería Central", 5000, 10)
	e.create(t, e.companies[1].ID, "papelería del norte", 700, 20)

	page, err := e.svc.List(ctx, e.admin, voucher.Filter{Supplier: "PAPELER"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	minAmount := int64(1000)
	page, err = e.svc.List(ctx, e.admin, voucher.Filter{AmountMin: &minAmount})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = e.svc.List(ctx, e.admin, voucher.Filter{IssuedFrom: voucher.NewDate(2024, 6, 5), IssuedTo: voucher.NewDate(2024, 6, 15)})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Ferretería Central", page.Items[0].Supplier)

	maxAmount := int64(10)
	_, err = e.svc.List(ctx, e.admin, voucher.Filter{AmountMin: &minAmount, AmountMax: &maxAmount})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	page, err = e.svc.List(ctx, e.admin, voucher.Filter{PerPage: 1000})
	require.NoError(t, err)
	assert.Equal(t, voucher.MaxPerPage, page.PerPage)
}

func TestListRejectsHugePage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, e.companies[0].ID, "Ferretería Central", 5000, 10)

	_, err := e.svc.List(ctx, e.admin, voucher.Filter{Page: 1_000_000_000_000_000_000})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	page, err := e.svc.List(ctx, e.admin, voucher.Filter{Page: voucher.MaxPage})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Total)
}

func TestGetHidesOutOfScope(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.create(t, e.companies[1].ID, "Ferretería", 5000, 2)

	_, err := e.svc.Get(ctx, e.regular, v.ID)
	require.ErrorIs(t, err, auth.ErrNotFound)

	got, err := e.svc.Get(ctx, e.admin, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Supplier, got.Supplier)

	_, err = e.svc.Get(ctx, e.admin, 999)
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	base := voucher.Voucher{CompanyID: e.companies[0].ID, Supplier: "X", Currency: "USD", Amount: 1, IssuedOn: voucher.NewDate(2024, 1, 1)}

	_, err := e.svc.Create(ctx, e.regular, base)
	require.ErrorIs(t, err, auth.ErrForbidden)

	bad := base
	bad.Currency = "DOLLARS"
	_, err = e.svc.Create(ctx, e.admin, bad)
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	bad = base
	bad.DocumentURL = "ftp://files/doc.pdf"
	_, err = e.svc.Create(ctx, e.admin, bad)
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	bad = base
	bad.CompanyID = 404
	_, err = e.svc.Create(ctx, e.admin, bad)
	require.ErrorIs(t, err, auth.ErrInvalidCompany)
}

func TestDateJSON(t *testing.T) {
	d, err := voucher.ParseDate("2024-02-29")
	require.NoError(t, err)
	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2024-02-29"`, string(out))

	var back voucher.Date
	require.NoError(t, back.UnmarshalJSON(out))
	assert.True(t, back.Equal(d.Time))
	assert.ErrorIs(t, back.UnmarshalJSON([]byte(`"29/02/2024"`)), auth.ErrInvalidInput)
}
