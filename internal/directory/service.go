package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"comprobantes.org/internal/auth"
)

// NewUser is the input of CreateUser.
type NewUser struct {
	Name      string
	Email     string
	Password  string
	Role      auth.Role
	CompanyID *int64
}

// UserPatch is the input of UpdateUser. Nil fields are left untouched.
type UserPatch struct {
	Name      *string
	Email     *string
	Role      *auth.Role
	CompanyID *int64
	Password  *string
}

// NewCompany is the input of CreateCompany.
type NewCompany struct {
	Name     string
	Industry string
	TaxID    string
}

// Service owns user and company administration. Every mutating call requires
// an administrator session.
type Service struct {
	store       Store
	invalidator Invalidator
	log         *zap.Logger
}

type Option func(*Service) error

// WithInvalidator registers the permission cache to flush after writes.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) error {
		if inv == nil {
			return errors.New("invalidator must not be nil")
		}
		s.invalidator = inv
		return nil
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return errors.New("logger must not be nil")
		}
		s.log = log
		return nil
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	s := &Service{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) CreateCompany(ctx context.Context, actor auth.Session, in NewCompany) (Company, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return Company{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Company{}, fmt.Errorf("%w: company name is required", auth.ErrInvalidInput)
	}
	return s.store.CreateCompany(ctx, Company{
		Name:     name,
		Industry: strings.TrimSpace(in.Industry),
		TaxID:    strings.TrimSpace(in.TaxID),
	})
}

func (s *Service) GetCompany(ctx context.Context, actor auth.Session, id int64) (Company, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return Company{}, err
	}
	if id <= 0 {
		return Company{}, fmt.Errorf("%w: company id is required", auth.ErrInvalidInput)
	}
	return s.store.GetCompany(ctx, id)
}

func (s *Service) UpdateCompany(ctx context.Context, actor auth.Session, id int64, upd CompanyUpdate) (Company, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return Company{}, err
	}
	if id <= 0 {
		return Company{}, fmt.Errorf("%w: company id is required", auth.ErrInvalidInput)
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Company{}, fmt.Errorf("%w: company name is required", auth.ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	upd.Industry = trimPtr(upd.Industry)
	upd.TaxID = trimPtr(upd.TaxID)
	return s.store.UpdateCompany(ctx, id, upd)
}

// DeleteCompany removes the company together with its grants and vouchers.
func (s *Service) DeleteCompany(ctx context.Context, actor auth.Session, id int64) error {
	if err := actor.RequireAdministrator(); err != nil {
		return err
	}
	if id <= 0 {
		return fmt.Errorf("%w: company id is required", auth.ErrInvalidInput)
	}
	if err := s.store.DeleteCompany(ctx, id); err != nil {
		return err
	}
	s.log.Info("company deleted", zap.Int64("company_id", id), zap.Int64("actor_user_id", actor.UserID))
	if s.invalidator != nil {
		s.invalidator.InvalidateAll(ctx)
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, actor auth.Session) ([]User, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, actor auth.Session, id int64) (User, error) {
	if !actor.CanActFor(id) {
		return User{}, fmt.Errorf("%w: cannot read other users", auth.ErrForbidden)
	}
	if id <= 0 {
		return User{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	return s.store.GetUser(ctx, id)
}

func (s *Service) CreateUser(ctx context.Context, actor auth.Session, in NewUser) (User, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return User{}, err
	}
	return s.createUser(ctx, in)
}

func (s *Service) createUser(ctx context.Context, in NewUser) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	password := strings.TrimSpace(in.Password)
	if password == "" {
		return User{}, fmt.Errorf("%w: password is required", auth.ErrInvalidInput)
	}
	role := in.Role
	if role == 0 {
		role = auth.RoleRegular
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: unsupported role %d", auth.ErrInvalidInput, role)
	}
	companyID, err := normalizeCompanyRef(in.CompanyID)
	if err != nil {
		return User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, User{
		Name:         name,
		Email:        email,
		Role:         role,
		CompanyID:    companyID,
		PasswordHash: hash,
	})
}

// UpdateUser applies patch to the user. Stored grants are never touched by a
// role change; they are ignored while the user is an administrator.
func (s *Service) UpdateUser(ctx context.Context, actor auth.Session, id int64, patch UserPatch) (User, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return User{}, err
	}
	if id <= 0 {
		return User{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	var upd UserUpdate
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
		}
		upd.Name = &name
	}
	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return User{}, err
		}
		upd.Email = &email
	}
	if patch.Role != nil {
		role := *patch.Role
		if !role.Valid() {
			return User{}, fmt.Errorf("%w: unsupported role %d", auth.ErrInvalidInput, role)
		}
		if id == actor.UserID && role != auth.RoleAdministrator {
			return User{}, fmt.Errorf("%w: administrators cannot demote themselves", auth.ErrForbidden)
		}
		upd.Role = &role
	}
	if patch.CompanyID != nil {
		if *patch.CompanyID < 0 {
			return User{}, fmt.Errorf("%w: company id must be positive", auth.ErrInvalidInput)
		}
		upd.CompanyID = patch.CompanyID
	}
	if patch.Password != nil {
		pw := strings.TrimSpace(*patch.Password)
		if pw == "" {
			return User{}, fmt.Errorf("%w: password is required", auth.ErrInvalidInput)
		}
		hash, err := auth.HashPassword(pw)
		if err != nil {
			return User{}, err
		}
		upd.PasswordHash = &hash
	}
	updated, err := s.store.UpdateUser(ctx, id, upd)
	if err != nil {
		return User{}, err
	}
	if upd.Role != nil && s.invalidator != nil {
		s.invalidator.InvalidateUser(ctx, id)
	}
	return updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, actor auth.Session, id int64) error {
	if err := actor.RequireAdministrator(); err != nil {
		return err
	}
	if id <= 0 {
		return fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	if id == actor.UserID {
		return fmt.Errorf("%w: administrators cannot delete themselves", auth.ErrForbidden)
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.Int64("user_id", id), zap.Int64("actor_user_id", actor.UserID))
	if s.invalidator != nil {
		s.invalidator.InvalidateUser(ctx, id)
	}
	return nil
}

// BootstrapAdministrator creates the first administrator unless a user with
// that email already exists. It reports whether a user was created.
func (s *Service) BootstrapAdministrator(ctx context.Context, name, email, password string) (bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.Email == email {
			return false, nil
		}
	}
	u, err := s.createUser(ctx, NewUser{Name: name, Email: email, Password: password, Role: auth.RoleAdministrator})
	if err != nil {
		return false, err
	}
	s.log.Info("administrator bootstrapped", zap.Int64("user_id", u.ID), zap.String("email", u.Email))
	return true, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(strings.ToLower(raw))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", auth.ErrInvalidInput)
	}
	return email, nil
}

func normalizeCompanyRef(id *int64) (*int64, error) {
	if id == nil || *id == 0 {
		return nil, nil
	}
	if *id < 0 {
		return nil, fmt.Errorf("%w: company id must be positive", auth.ErrInvalidInput)
	}
	v := *id
	return &v, nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	return &trimmed
}
