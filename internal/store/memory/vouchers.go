package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/voucher"
)

func (s *Store) ListVouchers(_ context.Context, scope permission.Scope, f voucher.Filter) ([]voucher.Voucher, int, error) {
	s.mu.RLock()
	matched := make([]voucher.Voucher, 0)
	for _, v := range s.vouchers {
		if scope.Allows(v.CompanyID) && f.Matches(*v) {
			matched = append(matched, *v)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b voucher.Voucher) int {
		if c := b.IssuedOn.Compare(a.IssuedOn.Time); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	total := len(matched)
	start := max(0, min(f.Offset(), total))
	end := min(start+f.PerPage, total)
	return matched[start:end], total, nil
}

func (s *Store) CreateVoucher(_ context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[v.CompanyID]; !ok {
		return voucher.Voucher{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, v.CompanyID)
	}
	s.nextVoucherID++
	v.ID = s.nextVoucherID
	v.CreatedAt = s.now().UTC()
	s.vouchers[v.ID] = &v
	return v, nil
}

func (s *Store) GetVoucher(_ context.Context, id int64) (voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vouchers[id]
	if !ok {
		return voucher.Voucher{}, fmt.Errorf("%w: voucher %d", auth.ErrNotFound, id)
	}
	return *v, nil
}
