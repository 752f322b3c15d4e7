package permission

import (
	"context"
	"fmt"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/obs"
)

// CanAccess reports whether userID may see companyID. Administrators see
// every company; regular users see exactly their grants.
func (s *Service) CanAccess(ctx context.Context, actor auth.Session, userID, companyID int64) (bool, error) {
	if userID <= 0 || companyID <= 0 {
		return false, fmt.Errorf("%w: user id and company id are required", auth.ErrInvalidInput)
	}
	if !actor.CanActFor(userID) {
		return false, fmt.Errorf("%w: cannot evaluate access of other users", auth.ErrForbidden)
	}
	role, err := s.store.UserRole(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := role.IsAdministrator()
	if !allowed {
		set, err := s.store.Grants(ctx, userID)
		if err != nil {
			return false, err
		}
		allowed = Scope{CompanyIDs: set.CompanyIDs}.Allows(companyID)
	}
	countDecision(allowed)
	return allowed, nil
}

// VisibleCompanies is the scope every data-serving query filters by. A
// regular user without grants gets an empty scope, not an error.
func (s *Service) VisibleCompanies(ctx context.Context, session auth.Session) (Scope, error) {
	if session.UserID <= 0 {
		return Scope{}, auth.ErrUnauthenticated
	}
	if session.Role.IsAdministrator() {
		return Scope{All: true}, nil
	}
	set, err := s.store.Grants(ctx, session.UserID)
	if err != nil {
		return Scope{}, err
	}
	return Scope{CompanyIDs: NormalizeIDs(set.CompanyIDs)}, nil
}

// VisibleCompanyList returns the catalog entries inside the session scope.
func (s *Service) VisibleCompanyList(ctx context.Context, session auth.Session) ([]directory.Company, error) {
	scope, err := s.VisibleCompanies(ctx, session)
	if err != nil {
		return nil, err
	}
	companies, err := s.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]directory.Company, 0, len(companies))
	for _, c := range companies {
		if scope.Allows(c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// VisibleCompany returns one catalog entry. Companies outside the scope are
// reported as missing.
func (s *Service) VisibleCompany(ctx context.Context, session auth.Session, companyID int64) (directory.Company, error) {
	if companyID <= 0 {
		return directory.Company{}, fmt.Errorf("%w: company id is required", auth.ErrInvalidInput)
	}
	scope, err := s.VisibleCompanies(ctx, session)
	if err != nil {
		return directory.Company{}, err
	}
	if !scope.Allows(companyID) {
		countDecision(false)
		return directory.Company{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, companyID)
	}
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return directory.Company{}, err
	}
	for _, c := range companies {
		if c.ID == companyID {
			countDecision(true)
			return c, nil
		}
	}
	return directory.Company{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, companyID)
}

func countDecision(allowed bool) {
	if allowed {
		obs.AccessDecisions.WithLabelValues("allow").Inc()
		return
	}
	obs.AccessDecisions.WithLabelValues("deny").Inc()
}
