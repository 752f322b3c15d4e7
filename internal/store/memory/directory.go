package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
)

func (s *Store) CreateCompany(_ context.Context, c directory.Company) (directory.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.companyNameTakenLocked(c.Name, 0) {
		return directory.Company{}, fmt.Errorf("%w: company %s already exists", auth.ErrConflict, c.Name)
	}
	s.nextCompanyID++
	c.ID = s.nextCompanyID
	c.CreatedAt = s.now().UTC()
	s.companies[c.ID] = &c
	return c, nil
}

func (s *Store) ListCompanies(_ context.Context) ([]directory.Company, error) {
	s.mu.RLock()
	out := make([]directory.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, *c)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b directory.Company) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetCompany(_ context.Context, id int64) (directory.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return directory.Company{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, id)
	}
	return *c, nil
}

func (s *Store) UpdateCompany(_ context.Context, id int64, upd directory.CompanyUpdate) (directory.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return directory.Company{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, id)
	}
	if upd.Name != nil && s.companyNameTakenLocked(*upd.Name, id) {
		return directory.Company{}, fmt.Errorf("%w: company %s already exists", auth.ErrConflict, *upd.Name)
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Industry != nil {
		c.Industry = *upd.Industry
	}
	if upd.TaxID != nil {
		c.TaxID = *upd.TaxID
	}
	return *c, nil
}

// DeleteCompany removes the company, every grant and voucher referencing it,
// and clears it as home company.
func (s *Store) DeleteCompany(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[id]; !ok {
		return fmt.Errorf("%w: %d", auth.ErrInvalidCompany, id)
	}
	delete(s.companies, id)
	for userID, set := range s.grants {
		if _, ok := set[id]; ok {
			delete(set, id)
			s.versions[userID]++
		}
	}
	for vid, v := range s.vouchers {
		if v.CompanyID == id {
			delete(s.vouchers, vid)
		}
	}
	for _, u := range s.users {
		if u.CompanyID != nil && *u.CompanyID == id {
			u.CompanyID = nil
		}
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, u directory.User) (directory.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailTakenLocked(u.Email, 0) {
		return directory.User{}, fmt.Errorf("%w: email %s already registered", auth.ErrConflict, u.Email)
	}
	if err := s.checkHomeCompanyLocked(u.CompanyID); err != nil {
		return directory.User{}, err
	}
	s.nextUserID++
	now := s.now().UTC()
	u.ID = s.nextUserID
	u.CreatedAt = now
	u.UpdatedAt = now
	u.CompanyID = clonePtr(u.CompanyID)
	s.users[u.ID] = &u
	s.versions[u.ID] = 0
	return copyUser(&u), nil
}

func (s *Store) ListUsers(_ context.Context) ([]directory.User, error) {
	s.mu.RLock()
	out := make([]directory.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, copyUser(u))
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b directory.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return directory.User{}, fmt.Errorf("%w: %d", auth.ErrInvalidUser, id)
	}
	return copyUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, id int64, upd directory.UserUpdate) (directory.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return directory.User{}, fmt.Errorf("%w: %d", auth.ErrInvalidUser, id)
	}
	if upd.Email != nil && s.emailTakenLocked(*upd.Email, id) {
		return directory.User{}, fmt.Errorf("%w: email %s already registered", auth.ErrConflict, *upd.Email)
	}
	var home *int64
	if upd.CompanyID != nil && *upd.CompanyID != 0 {
		home = clonePtr(upd.CompanyID)
		if err := s.checkHomeCompanyLocked(home); err != nil {
			return directory.User{}, err
		}
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.CompanyID != nil {
		u.CompanyID = home
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	u.UpdatedAt = s.now().UTC()
	return copyUser(u), nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: %d", auth.ErrInvalidUser, id)
	}
	delete(s.users, id)
	delete(s.grants, id)
	delete(s.versions, id)
	return nil
}

// IdentityByID implements auth.IdentityStore.
func (s *Store) IdentityByID(_ context.Context, userID int64) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.Identity{}, fmt.Errorf("%w: %d", auth.ErrInvalidUser, userID)
	}
	return identityOf(u), nil
}

// IdentityByEmail implements auth.IdentityStore.
func (s *Store) IdentityByEmail(_ context.Context, email string) (auth.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return identityOf(u), nil
		}
	}
	return auth.Identity{}, fmt.Errorf("%w: %s", auth.ErrInvalidUser, email)
}

func identityOf(u *directory.User) auth.Identity {
	return auth.Identity{UserID: u.ID, Email: u.Email, Role: u.Role, PasswordHash: u.PasswordHash}
}

func (s *Store) emailTakenLocked(email string, except int64) bool {
	for _, u := range s.users {
		if u.ID != except && u.Email == email {
			return true
		}
	}
	return false
}

func (s *Store) companyNameTakenLocked(name string, except int64) bool {
	for _, c := range s.companies {
		if c.ID != except && c.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) checkHomeCompanyLocked(id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := s.companies[*id]; !ok {
		return fmt.Errorf("%w: %d", auth.ErrInvalidCompany, *id)
	}
	return nil
}

func copyUser(u *directory.User) directory.User {
	out := *u
	out.CompanyID = clonePtr(u.CompanyID)
	return out
}

func clonePtr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
