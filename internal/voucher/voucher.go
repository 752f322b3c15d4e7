// Package voucher serves payment vouchers (comprobantes), always filtered by
// the company scope of the calling session.
package voucher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/permission"
)

const dateLayout = "2006-01-02"

// Date is a calendar day rendered as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("%w: date must be YYYY-MM-DD", auth.ErrInvalidInput)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: date must be a string", auth.ErrInvalidInput)
	}
	if raw == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Voucher is one payment voucher. Amount is in minor units of Currency.
type Voucher struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"companyId"`
	Supplier    string    `json:"supplier"`
	IssuedOn    Date      `json:"issuedOn"`
	Currency    string    `json:"currency"`
	Amount      int64     `json:"amount"`
	Concept     string    `json:"concept,omitempty"`
	DocumentURL string    `json:"documentUrl,omitempty"`
	Email       string    `json:"email,omitempty"`
	Bank        string    `json:"bank,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Filter narrows a listing. Zero values mean "no constraint".
type Filter struct {
	Supplier   string
	CompanyID  int64
	Bank       string
	Currency   string
	Reference  string
	Concept    string
	IssuedFrom Date
	IssuedTo   Date
	AmountMin  *int64
	AmountMax  *int64
	Page       int
	PerPage    int
}

// Offset is the number of rows to skip for the filter's page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// Matches applies the filter to v, scope aside. Text filters compare
// case-insensitively; supplier and concept match substrings.
func (f Filter) Matches(v Voucher) bool {
	if f.CompanyID != 0 && v.CompanyID != f.CompanyID {
		return false
	}
	if f.Supplier != "" && !containsFold(v.Supplier, f.Supplier) {
		return false
	}
	if f.Concept != "" && !containsFold(v.Concept, f.Concept) {
		return false
	}
	if f.Bank != "" && !strings.EqualFold(v.Bank, f.Bank) {
		return false
	}
	if f.Currency != "" && !strings.EqualFold(v.Currency, f.Currency) {
		return false
	}
	if f.Reference != "" && v.Reference != f.Reference {
		return false
	}
	if !f.IssuedFrom.IsZero() && v.IssuedOn.Before(f.IssuedFrom.Time) {
		return false
	}
	if !f.IssuedTo.IsZero() && v.IssuedOn.After(f.IssuedTo.Time) {
		return false
	}
	if f.AmountMin != nil && v.Amount < *f.AmountMin {
		return false
	}
	if f.AmountMax != nil && v.Amount > *f.AmountMax {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// Page is one page of a listing.
type Page struct {
	Items   []Voucher `json:"items"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"perPage"`
}

// Store persists vouchers. ListVouchers returns the requested page plus the
// total count of matches inside scope, newest issue date first.
// CreateVoucher fails with auth.ErrInvalidCompany when the company is unknown;
// GetVoucher with auth.ErrNotFound when the voucher is unknown.
type Store interface {
	ListVouchers(ctx context.Context, scope permission.Scope, f Filter) ([]Voucher, int, error)
	CreateVoucher(ctx context.Context, v Voucher) (Voucher, error)
	GetVoucher(ctx context.Context, id int64) (Voucher, error)
}

// Scoper resolves the companies a session may see.
type Scoper interface {
	VisibleCompanies(ctx context.Context, session auth.Session) (permission.Scope, error)
}
