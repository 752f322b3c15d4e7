package voucher

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"comprobantes.org/internal/auth"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
	// MaxPage keeps (Page-1)*PerPage far from int overflow.
	MaxPage = 1_000_000
)

type Service struct {
	store  Store
	scoper Scoper
}

func NewService(store Store, scoper Scoper) (*Service, error) {
	if store == nil {
		return nil, errors.New("voucher store is required")
	}
	if scoper == nil {
		return nil, errors.New("scope resolver is required")
	}
	return &Service{store: store, scoper: scoper}, nil
}

// List returns the page of vouchers matching f inside the session scope.
func (s *Service) List(ctx context.Context, session auth.Session, f Filter) (Page, error) {
	f, err := normalizeFilter(f)
	if err != nil {
		return Page{}, err
	}
	scope, err := s.scoper.VisibleCompanies(ctx, session)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: []Voucher{}, Page: f.Page, PerPage: f.PerPage}
	if scope.Empty() {
		return page, nil
	}
	if f.CompanyID != 0 && !scope.Allows(f.CompanyID) {
		return page, nil
	}
	items, total, err := s.store.ListVouchers(ctx, scope, f)
	if err != nil {
		return Page{}, err
	}
	if items != nil {
		page.Items = items
	}
	page.Total = total
	return page, nil
}

// Get returns one voucher. A voucher outside the session scope is reported
// as not found.
func (s *Service) Get(ctx context.Context, session auth.Session, id int64) (Voucher, error) {
	if id <= 0 {
		return Voucher{}, fmt.Errorf("%w: voucher id is required", auth.ErrInvalidInput)
	}
	scope, err := s.scoper.VisibleCompanies(ctx, session)
	if err != nil {
		return Voucher{}, err
	}
	v, err := s.store.GetVoucher(ctx, id)
	if err != nil {
		return Voucher{}, err
	}
	if !scope.Allows(v.CompanyID) {
		return Voucher{}, fmt.Errorf("%w: voucher %d", auth.ErrNotFound, id)
	}
	return v, nil
}

// Create stores a voucher. Administrators only.
func (s *Service) Create(ctx context.Context, session auth.Session, v Voucher) (Voucher, error) {
	if err := session.RequireAdministrator(); err != nil {
		return Voucher{}, err
	}
	v, err := normalizeVoucher(v)
	if err != nil {
		return Voucher{}, err
	}
	return s.store.CreateVoucher(ctx, v)
}

func normalizeFilter(f Filter) (Filter, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	if f.Page > MaxPage {
		return Filter{}, fmt.Errorf("%w: page must not exceed %d", auth.ErrInvalidInput, MaxPage)
	}
	if f.CompanyID < 0 {
		return Filter{}, fmt.Errorf("%w: company id must be positive", auth.ErrInvalidInput)
	}
	if f.AmountMin != nil && f.AmountMax != nil && *f.AmountMin > *f.AmountMax {
		return Filter{}, fmt.Errorf("%w: amount range is inverted", auth.ErrInvalidInput)
	}
	if !f.IssuedFrom.IsZero() && !f.IssuedTo.IsZero() && f.IssuedFrom.After(f.IssuedTo.Time) {
		return Filter{}, fmt.Errorf("%w: date range is inverted", auth.ErrInvalidInput)
	}
	f.Supplier = strings.TrimSpace(f.Supplier)
	f.Concept = strings.TrimSpace(f.Concept)
	f.Bank = strings.TrimSpace(f.Bank)
	f.Currency = strings.ToUpper(strings.TrimSpace(f.Currency))
	f.Reference = strings.TrimSpace(f.Reference)
	return f, nil
}

func normalizeVoucher(v Voucher) (Voucher, error) {
	if v.CompanyID <= 0 {
		return Voucher{}, fmt.Errorf("%w: companyId is required", auth.ErrInvalidInput)
	}
	v.Supplier = strings.TrimSpace(v.Supplier)
	if v.Supplier == "" {
		return Voucher{}, fmt.Errorf("%w: supplier is required", auth.ErrInvalidInput)
	}
	if v.IssuedOn.IsZero() {
		return Voucher{}, fmt.Errorf("%w: issuedOn is required", auth.ErrInvalidInput)
	}
	v.Currency = strings.ToUpper(strings.TrimSpace(v.Currency))
	if len(v.Currency) != 3 {
		return Voucher{}, fmt.Errorf("%w: currency must be a 3-letter code", auth.ErrInvalidInput)
	}
	if v.Amount <= 0 {
		return Voucher{}, fmt.Errorf("%w: amount must be positive", auth.ErrInvalidInput)
	}
	v.Concept = strings.TrimSpace(v.Concept)
	v.Bank = strings.TrimSpace(v.Bank)
	v.Reference = strings.TrimSpace(v.Reference)
	v.Email = strings.TrimSpace(strings.ToLower(v.Email))
	if v.Email != "" {
		if _, err := mail.ParseAddress(v.Email); err != nil {
			return Voucher{}, fmt.Errorf("%w: email is invalid", auth.ErrInvalidInput)
		}
	}
	v.DocumentURL = strings.TrimSpace(v.DocumentURL)
	if v.DocumentURL != "" {
		u, err := url.Parse(v.DocumentURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Voucher{}, fmt.Errorf("%w: documentUrl must be an http(s) URL", auth.ErrInvalidInput)
		}
	}
	v.ID = 0
	return v, nil
}
