// Package permission holds the company-visibility model: per-user grant sets,
// the access evaluator every data query goes through and the editor that
// toggles grants on behalf of administrators.
package permission

import (
	"context"
	"slices"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
)

// GrantSet is the set of companies a user may see. For an administrator,
// CompanyIDs is the whole catalog regardless of stored grants.
type GrantSet struct {
	UserID     int64     `json:"userId"`
	Role       auth.Role `json:"roleId"`
	CompanyIDs []int64   `json:"allowedCompanyIds"`
	Version    int64     `json:"version"`
}

// Change is the outcome of a committed grant write.
type Change struct {
	UserID  int64
	Before  []int64
	After   []int64
	Version int64
}

// Added returns companies present after the change but not before.
func (c Change) Added() []int64 { return difference(c.After, c.Before) }

// Removed returns companies present before the change but not after.
func (c Change) Removed() []int64 { return difference(c.Before, c.After) }

// Noop reports whether the write left the set unchanged.
func (c Change) Noop() bool { return slices.Equal(c.Before, c.After) }

// Store persists grants. Implementations must:
//   - return auth.ErrInvalidUser for an unknown user;
//   - return auth.ErrForbidden when the target user is an administrator;
//   - return auth.ErrInvalidCompany naming every unknown company and mutate nothing;
//   - return auth.ErrConflict when expectedVersion is set and stale;
//   - serialize writes for one user and bump its version on every real change.
//
// Grants returns the stored set with sorted ids, ignoring the role.
type Store interface {
	UserRole(ctx context.Context, userID int64) (auth.Role, error)
	ListCompanies(ctx context.Context) ([]directory.Company, error)
	Grants(ctx context.Context, userID int64) (GrantSet, error)
	ReplaceGrants(ctx context.Context, userID int64, companyIDs []int64, expectedVersion *int64) (Change, error)
	AddGrant(ctx context.Context, userID, companyID int64) (Change, error)
	RemoveGrant(ctx context.Context, userID, companyID int64) (Change, error)
}

// Scope is the set of companies a session may see.
type Scope struct {
	All        bool
	CompanyIDs []int64
}

// Allows reports whether companyID is inside the scope.
func (s Scope) Allows(companyID int64) bool {
	if s.All {
		return true
	}
	_, found := slices.BinarySearch(s.CompanyIDs, companyID)
	return found
}

// Empty reports whether the scope admits no company at all.
func (s Scope) Empty() bool { return !s.All && len(s.CompanyIDs) == 0 }

// NormalizeIDs sorts ids and drops duplicates. The input is not modified.
func NormalizeIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func difference(a, b []int64) []int64 {
	var out []int64
	for _, id := range a {
		if _, found := slices.BinarySearch(b, id); !found {
			out = append(out, id)
		}
	}
	return out
}
