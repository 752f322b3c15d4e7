package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/permission"
)

func (s *Store) UserRole(_ context.Context, userID int64) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", auth.ErrInvalidUser, userID)
	}
	return u.Role, nil
}

func (s *Store) Grants(_ context.Context, userID int64) (permission.GrantSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return permission.GrantSet{}, fmt.Errorf("%w: %d", auth.ErrInvalidUser, userID)
	}
	return permission.GrantSet{
		UserID:     userID,
		Role:       u.Role,
		CompanyIDs: s.grantIDsLocked(userID),
		Version:    s.versions[userID],
	}, nil
}

func (s *Store) ReplaceGrants(_ context.Context, userID int64, companyIDs []int64, expectedVersion *int64) (permission.Change, error) {
	companyIDs = permission.NormalizeIDs(companyIDs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkGrantTargetLocked(userID); err != nil {
		return permission.Change{}, err
	}
	if expectedVersion != nil && *expectedVersion != s.versions[userID] {
		return permission.Change{}, fmt.Errorf("%w: grants of user %d changed (version %d, expected %d)",
			auth.ErrConflict, userID, s.versions[userID], *expectedVersion)
	}
	var unknown []string
	for _, id := range companyIDs {
		if _, ok := s.companies[id]; !ok {
			unknown = append(unknown, strconv.FormatInt(id, 10))
		}
	}
	if len(unknown) > 0 {
		return permission.Change{}, fmt.Errorf("%w: %s", auth.ErrInvalidCompany, strings.Join(unknown, ", "))
	}

	before := s.grantIDsLocked(userID)
	change := permission.Change{UserID: userID, Before: before, After: companyIDs, Version: s.versions[userID]}
	if change.Noop() {
		return change, nil
	}
	set := make(map[int64]struct{}, len(companyIDs))
	for _, id := range companyIDs {
		set[id] = struct{}{}
	}
	s.grants[userID] = set
	s.versions[userID]++
	change.Version = s.versions[userID]
	return change, nil
}

func (s *Store) AddGrant(_ context.Context, userID, companyID int64) (permission.Change, error) {
	return s.toggle(userID, companyID, true)
}

func (s *Store) RemoveGrant(_ context.Context, userID, companyID int64) (permission.Change, error) {
	return s.toggle(userID, companyID, false)
}

func (s *Store) toggle(userID, companyID int64, on bool) (permission.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkGrantTargetLocked(userID); err != nil {
		return permission.Change{}, err
	}
	if _, ok := s.companies[companyID]; !ok {
		return permission.Change{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, companyID)
	}
	before := s.grantIDsLocked(userID)
	change := permission.Change{UserID: userID, Before: before, After: before, Version: s.versions[userID]}

	set := s.grants[userID]
	_, has := set[companyID]
	if has == on {
		return change, nil
	}
	if set == nil {
		set = make(map[int64]struct{})
		s.grants[userID] = set
	}
	if on {
		set[companyID] = struct{}{}
	} else {
		delete(set, companyID)
	}
	s.versions[userID]++
	change.After = s.grantIDsLocked(userID)
	change.Version = s.versions[userID]
	return change, nil
}

func (s *Store) checkGrantTargetLocked(userID int64) error {
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: %d", auth.ErrInvalidUser, userID)
	}
	if u.Role.IsAdministrator() {
		return fmt.Errorf("%w: user %d is an administrator and sees every company", auth.ErrForbidden, userID)
	}
	return nil
}

func (s *Store) grantIDsLocked(userID int64) []int64 {
	set := s.grants[userID]
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
