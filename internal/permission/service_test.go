package permission_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"comprobantes.org/internal/audit"
	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/store/memory"
)

type fixture struct {
	store     *memory.Store
	svc       *permission.Service
	admin     auth.Session
	regular   directory.User
	companies []directory.Company
}

func newFixture(t *testing.T, opts ...permission.Option) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	var companies []directory.Company
	for _, name := range []string{"Acme", "Globex", "Initech", "Umbrella"} {
		c, err := store.CreateCompany(ctx, directory.Company{Name: name})
		require.NoError(t, err)
		companies = append(companies, c)
	}
	admin, err := store.CreateUser(ctx, directory.User{Name: "Root", Email: "root@example.com", Role: auth.RoleAdministrator})
	require.NoError(t, err)
	regular, err := store.CreateUser(ctx, directory.User{Name: "Ana", Email: "ana@example.com", Role: auth.RoleRegular})
	require.NoError(t, err)

	opts = append([]permission.Option{permission.WithRecorder(store), permission.WithAuditReader(store)}, opts...)
	svc, err := permission.NewService(store, opts...)
	require.NoError(t, err)
	return fixture{
		store:     store,
		svc:       svc,
		admin:     auth.Session{UserID: admin.ID, Role: auth.RoleAdministrator},
		regular:   regular,
		companies: companies,
	}
}

func (f fixture) ids(idx ...int) []int64 {
	out := make([]int64, 0, len(idx))
	for _, i := range idx {
		out = append(out, f.companies[i].ID)
	}
	return out
}

func TestAdministratorCanAccessEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range f.companies {
		ok, err := f.svc.CanAccess(ctx, f.admin, f.admin.UserID, c.ID)
		require.NoError(t, err)
		assert.True(t, ok, "company %d", c.ID)
	}
	set, err := f.svc.GetGrants(ctx, f.admin, f.admin.UserID)
	require.NoError(t, err)
	assert.Equal(t, f.ids(0, 1, 2, 3), set.CompanyIDs)

	scope, err := f.svc.VisibleCompanies(ctx, f.admin)
	require.NoError(t, err)
	assert.True(t, scope.All)
}

func TestRegularAccessMatchesGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(0, 2), nil)
	require.NoError(t, err)

	set, err := f.svc.GetGrants(ctx, f.admin, f.regular.ID)
	require.NoError(t, err)
	for _, c := range f.companies {
		ok, err := f.svc.CanAccess(ctx, f.admin, f.regular.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, permission.Scope{CompanyIDs: set.CompanyIDs}.Allows(c.ID), ok)
	}
}

func TestSetGrantsRoundTripAndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	self := auth.Session{UserID: f.regular.ID, Role: auth.RoleRegular}

	_, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(0, 2, 0), nil)
	require.NoError(t, err)
	set, err := f.svc.GetGrants(ctx, self, f.regular.ID)
	require.NoError(t, err)
	require.Equal(t, f.ids(0, 2), set.CompanyIDs)

	updated, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(1), &set.Version)
	require.NoError(t, err)
	require.Equal(t, f.ids(1), updated.CompanyIDs)

	ok, err := f.svc.CanAccess(ctx, self, f.regular.ID, f.companies[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.svc.CanAccess(ctx, self, f.regular.ID, f.companies[1].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	scope, err := f.svc.VisibleCompanies(ctx, self)
	require.NoError(t, err)
	assert.Equal(t, f.ids(1), scope.CompanyIDs)

	entries, err := f.svc.ListAudit(ctx, f.admin, f.regular.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	actions := map[string]int{}
	for _, e := range entries {
		actions[e.Action]++
		assert.Equal(t, f.admin.UserID, e.ActorUserID)
	}
	assert.Equal(t, map[string]int{audit.ActionAssign: 3, audit.ActionRevoke: 2}, actions)
}

func TestSetGrantsOnAdministratorIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetGrants(ctx, f.admin, f.admin.UserID, f.ids(0), nil)
	require.ErrorIs(t, err, auth.ErrForbidden)

	regular := auth.Session{UserID: f.regular.ID, Role: auth.RoleRegular}
	_, err = f.svc.SetGrants(ctx, regular, f.regular.ID, f.ids(0), nil)
	require.ErrorIs(t, err, auth.ErrForbidden)

	set, err := f.svc.GetGrants(ctx, regular, f.regular.ID)
	require.NoError(t, err)
	assert.Empty(t, set.CompanyIDs)
	assert.NotNil(t, set.CompanyIDs)
}

func TestSetGrantsUnknownCompanyLeavesSetUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(3), nil)
	require.NoError(t, err)

	_, err = f.svc.SetGrants(ctx, f.admin, f.regular.ID, []int64{f.companies[0].ID, 999}, nil)
	require.ErrorIs(t, err, auth.ErrInvalidCompany)
	assert.Contains(t, err.Error(), "999")

	set, err := f.svc.GetGrants(ctx, f.admin, f.regular.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ids(3), set.CompanyIDs)

	_, err = f.svc.SetGrants(ctx, f.admin, 4242, f.ids(0), nil)
	require.ErrorIs(t, err, auth.ErrInvalidUser)
}

func TestToggleRestoresSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(0, 1), nil)
	require.NoError(t, err)

	revoked, err := f.svc.Revoke(ctx, f.admin, f.regular.ID, f.companies[1].ID)
	require.NoError(t, err)
	assert.Equal(t, f.ids(0), revoked.CompanyIDs)

	again, err := f.svc.Revoke(ctx, f.admin, f.regular.ID, f.companies[1].ID)
	require.NoError(t, err)
	assert.Equal(t, revoked.Version, again.Version, "no-op revoke must not bump version")

	restored, err := f.svc.Assign(ctx, f.admin, f.regular.ID, f.companies[1].ID)
	require.NoError(t, err)
	assert.Equal(t, f.ids(0, 1), restored.CompanyIDs)

	_, err = f.svc.Revoke(ctx, f.admin, f.regular.ID, f.companies[0].ID)
	require.NoError(t, err)
	last, err := f.svc.Revoke(ctx, f.admin, f.regular.ID, f.companies[1].ID)
	require.NoError(t, err)
	assert.Empty(t, last.CompanyIDs)

	_, err = f.svc.Assign(ctx, f.admin, f.regular.ID, 31337)
	require.ErrorIs(t, err, auth.ErrInvalidCompany)
}

func TestDeletedCompanyNeverReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(0, 2), nil)
	require.NoError(t, err)

	dir, err := directory.NewService(f.store)
	require.NoError(t, err)
	require.NoError(t, dir.DeleteCompany(ctx, f.admin, f.companies[2].ID))

	set, err := f.svc.GetGrants(ctx, f.admin, f.regular.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ids(0), set.CompanyIDs)
	ok, err := f.svc.CanAccess(ctx, f.admin, f.regular.ID, f.companies[2].ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentSetGrantsDoNotInterleave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candidates := [][]int64{f.ids(0), f.ids(1, 2), f.ids(3), f.ids(0, 1, 2, 3)}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(set []int64) {
			defer wg.Done()
			_, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, set, nil)
			assert.NoError(t, err)
		}(candidates[i%len(candidates)])
	}
	wg.Wait()

	final, err := f.svc.GetGrants(ctx, f.admin, f.regular.ID)
	require.NoError(t, err)
	assert.Contains(t, candidates, final.CompanyIDs)
}

func TestStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(0), nil)
	require.NoError(t, err)
	stale := first.Version - 1

	_, err = f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(1), &stale)
	require.ErrorIs(t, err, auth.ErrConflict)

	set, err := f.svc.GetGrants(ctx, f.admin, f.regular.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ids(0), set.CompanyIDs)
}

func TestRegularCannotReadOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	self := auth.Session{UserID: f.regular.ID, Role: auth.RoleRegular}

	_, err := f.svc.GetGrants(ctx, self, f.admin.UserID)
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.CanAccess(ctx, self, f.admin.UserID, f.companies[0].ID)
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.ListAudit(ctx, self, f.regular.ID, 10)
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.Assign(ctx, self, f.regular.ID, f.companies[0].ID)
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestVisibleCompanyListFiltersCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	self := auth.Session{UserID: f.regular.ID, Role: auth.RoleRegular}

	empty, err := f.svc.VisibleCompanyList(ctx, self)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.svc.SetGrants(ctx, f.admin, f.regular.ID, f.ids(1), nil)
	require.NoError(t, err)
	list, err := f.svc.VisibleCompanyList(ctx, self)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Globex", list[0].Name)

	_, err = f.svc.VisibleCompany(ctx, self, f.companies[0].ID)
	require.ErrorIs(t, err, auth.ErrInvalidCompany)
	c, err := f.svc.VisibleCompany(ctx, self, f.companies[1].ID)
	require.NoError(t, err)
	assert.Equal(t, f.companies[1].ID, c.ID)
}

type brokenRecorder struct{}

func (brokenRecorder) Record(context.Context, audit.Entry) error { return assert.AnError }

func TestAuditFailureDoesNotUndoChange(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f := newFixture(t, permission.WithRecorder(brokenRecorder{}), permission.WithLogger(zap.New(core)))
	ctx := audit.WithRequestID(context.Background(), "req-9")

	set, err := f.svc.Assign(ctx, f.admin, f.regular.ID, f.companies[0].ID)
	require.NoError(t, err)
	assert.Equal(t, f.ids(0), set.CompanyIDs)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-9", logs.All()[0].ContextMap()["request_id"])
}
