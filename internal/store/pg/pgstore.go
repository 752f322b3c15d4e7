package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"comprobantes.org/internal/audit"
	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/voucher"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
)

var errNoDB = errors.New("database connection unavailable")

// Store implements every store interface on PostgreSQL through database/sql
// and the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

var (
	_ directory.Store    = (*Store)(nil)
	_ permission.Store   = (*Store)(nil)
	_ voucher.Store      = (*Store)(nil)
	_ auth.IdentityStore = (*Store)(nil)
	_ audit.Recorder     = (*Store)(nil)
	_ audit.Reader       = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle; tests pass a sqlmock connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers; used by /readyz.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// isRetryable reports serialization failures and deadlocks, which callers
// see as conflicts.
func isRetryable(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && (pgErr.Code == pgErrSerialization || pgErr.Code == pgErrDeadlock)
}
