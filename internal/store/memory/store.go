// Package memory is an in-process implementation of every store interface.
// It backs tests and the "memory" storage driver.
package memory

import (
	"context"
	"sync"
	"time"

	"comprobantes.org/internal/audit"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/voucher"
)

// Store keeps all state behind one RWMutex. Each operation validates and
// mutates inside a single critical section and does no I/O while holding it.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	nextUserID    int64
	nextCompanyID int64
	nextVoucherID int64

	users     map[int64]*directory.User
	versions  map[int64]int64
	companies map[int64]*directory.Company
	grants    map[int64]map[int64]struct{}
	vouchers  map[int64]*voucher.Voucher
	audit     []audit.Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:       time.Now,
		users:     make(map[int64]*directory.User),
		versions:  make(map[int64]int64),
		companies: make(map[int64]*directory.Company),
		grants:    make(map[int64]map[int64]struct{}),
		vouchers:  make(map[int64]*voucher.Voucher),
	}
}

// Ping always succeeds; it lets the memory driver satisfy readiness checks.
func (s *Store) Ping(context.Context) error { return nil }
