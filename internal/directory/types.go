package directory

import (
	"context"
	"time"

	"comprobantes.org/internal/auth"
)

// Company is an entry of the company catalog.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Industry  string    `json:"industry,omitempty"`
	TaxID     string    `json:"taxId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a directory entry. CompanyID is the informational home company and
// plays no part in access decisions.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         auth.Role `json:"roleId"`
	CompanyID    *int64    `json:"companyId,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type CompanyUpdate struct {
	Name     *string
	Industry *string
	TaxID    *string
}

type UserUpdate struct {
	Name  *string
	Email *string
	Role  *auth.Role
	// CompanyID set to a pointer to 0 clears the home company.
	CompanyID    *int64
	PasswordHash *string
}

// Store persists users and companies. Unknown users yield auth.ErrInvalidUser,
// unknown companies auth.ErrInvalidCompany, a duplicate email auth.ErrConflict.
// DeleteCompany removes the company's grants and vouchers in the same unit of
// work and bumps the grant version of every affected user. DeleteUser removes
// the user's grants.
type Store interface {
	CreateCompany(ctx context.Context, c Company) (Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	GetCompany(ctx context.Context, id int64) (Company, error)
	UpdateCompany(ctx context.Context, id int64, upd CompanyUpdate) (Company, error)
	DeleteCompany(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, u User) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	UpdateUser(ctx context.Context, id int64, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// Invalidator drops cached permission data after directory writes.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64)
	InvalidateAll(ctx context.Context)
}
