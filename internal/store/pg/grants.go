package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/permission"
)

func (s *Store) UserRole(ctx context.Context, userID int64) (auth.Role, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var role int16
	err := s.db.QueryRowContext(ctx, `select role_id from users where id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", auth.ErrInvalidUser, userID)
	}
	if err != nil {
		return 0, err
	}
	return auth.Role(role), nil
}

// Grants reads the stored grant set of userID in a single statement.
func (s *Store) Grants(ctx context.Context, userID int64) (permission.GrantSet, error) {
	if s.db == nil {
		return permission.GrantSet{}, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select u.role_id, u.grants_version, uc.company_id
		from users u
		left join user_company uc on uc.user_id = u.id
		where u.id = $1
		order by uc.company_id
	`, userID)
	if err != nil {
		return permission.GrantSet{}, err
	}
	defer rows.Close()

	set := permission.GrantSet{UserID: userID, CompanyIDs: []int64{}}
	found := false
	for rows.Next() {
		var (
			role    int16
			company sql.NullInt64
		)
		if err := rows.Scan(&role, &set.Version, &company); err != nil {
			return permission.GrantSet{}, err
		}
		found = true
		set.Role = auth.Role(role)
		if company.Valid {
			set.CompanyIDs = append(set.CompanyIDs, company.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return permission.GrantSet{}, err
	}
	if !found {
		return permission.GrantSet{}, fmt.Errorf("%w: %d", auth.ErrInvalidUser, userID)
	}
	return set, nil
}

// lockGrantTarget locks the user row for the rest of tx. Writes to one user's
// grants serialize here; other users are unaffected.
func lockGrantTarget(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var (
		role    int16
		version int64
	)
	err := tx.QueryRowContext(ctx, `select role_id, grants_version from users where id = $1 for update`, userID).Scan(&role, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", auth.ErrInvalidUser, userID)
	}
	if err != nil {
		return 0, err
	}
	if auth.Role(role).IsAdministrator() {
		return 0, fmt.Errorf("%w: user %d is an administrator and sees every company", auth.ErrForbidden, userID)
	}
	return version, nil
}

func companyExists(ctx context.Context, tx *sql.Tx, companyID int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `select exists(select 1 from companies where id = $1)`, companyID).Scan(&exists)
	return exists, err
}

func storedGrants(ctx context.Context, tx *sql.Tx, userID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `select company_id from user_company where user_id = $1 order by company_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func bumpVersion(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `
		update users set grants_version = grants_version + 1, updated_at = now()
		where id = $1
		returning grants_version
	`, userID).Scan(&version)
	return version, err
}

func insertGrant(ctx context.Context, tx *sql.Tx, userID, companyID int64) error {
	_, err := tx.ExecContext(ctx, `insert into user_company (user_id, company_id) values ($1, $2)`, userID, companyID)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%w: %d", auth.ErrInvalidCompany, companyID)
	}
	return wrapTxError(err)
}

func (s *Store) ReplaceGrants(ctx context.Context, userID int64, companyIDs []int64, expectedVersion *int64) (permission.Change, error) {
	if s.db == nil {
		return permission.Change{}, errNoDB
	}
	companyIDs = permission.NormalizeIDs(companyIDs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return permission.Change{}, err
	}
	defer func() { _ = tx.Rollback() }()

	version, err := lockGrantTarget(ctx, tx, userID)
	if err != nil {
		return permission.Change{}, err
	}
	if expectedVersion != nil && *expectedVersion != version {
		return permission.Change{}, fmt.Errorf("%w: grants of user %d changed (version %d, expected %d)",
			auth.ErrConflict, userID, version, *expectedVersion)
	}

	var unknown []string
	for _, id := range companyIDs {
		ok, err := companyExists(ctx, tx, id)
		if err != nil {
			return permission.Change{}, err
		}
		if !ok {
			unknown = append(unknown, strconv.FormatInt(id, 10))
		}
	}
	if len(unknown) > 0 {
		return permission.Change{}, fmt.Errorf("%w: %s", auth.ErrInvalidCompany, strings.Join(unknown, ", "))
	}

	before, err := storedGrants(ctx, tx, userID)
	if err != nil {
		return permission.Change{}, err
	}
	change := permission.Change{UserID: userID, Before: before, After: companyIDs, Version: version}
	if change.Noop() {
		return change, nil
	}

	if _, err := tx.ExecContext(ctx, `delete from user_company where user_id = $1`, userID); err != nil {
		return permission.Change{}, err
	}
	for _, id := range companyIDs {
		if err := insertGrant(ctx, tx, userID, id); err != nil {
			return permission.Change{}, err
		}
	}
	if change.Version, err = bumpVersion(ctx, tx, userID); err != nil {
		return permission.Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return permission.Change{}, wrapTxError(err)
	}
	return change, nil
}

func (s *Store) AddGrant(ctx context.Context, userID, companyID int64) (permission.Change, error) {
	return s.toggle(ctx, userID, companyID, true)
}

func (s *Store) RemoveGrant(ctx context.Context, userID, companyID int64) (permission.Change, error) {
	return s.toggle(ctx, userID, companyID, false)
}

func (s *Store) toggle(ctx context.Context, userID, companyID int64, on bool) (permission.Change, error) {
	if s.db == nil {
		return permission.Change{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return permission.Change{}, err
	}
	defer func() { _ = tx.Rollback() }()

	version, err := lockGrantTarget(ctx, tx, userID)
	if err != nil {
		return permission.Change{}, err
	}
	ok, err := companyExists(ctx, tx, companyID)
	if err != nil {
		return permission.Change{}, err
	}
	if !ok {
		return permission.Change{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, companyID)
	}
	before, err := storedGrants(ctx, tx, userID)
	if err != nil {
		return permission.Change{}, err
	}
	change := permission.Change{UserID: userID, Before: before, After: before, Version: version}
	if _, has := slices.BinarySearch(before, companyID); has == on {
		return change, nil
	}

	if on {
		if err := insertGrant(ctx, tx, userID, companyID); err != nil {
			return permission.Change{}, err
		}
		change.After = permission.NormalizeIDs(append(slices.Clone(before), companyID))
	} else {
		if _, err := tx.ExecContext(ctx, `delete from user_company where user_id = $1 and company_id = $2`, userID, companyID); err != nil {
			return permission.Change{}, err
		}
		change.After = slices.DeleteFunc(slices.Clone(before), func(id int64) bool { return id == companyID })
	}
	if change.Version, err = bumpVersion(ctx, tx, userID); err != nil {
		return permission.Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return permission.Change{}, wrapTxError(err)
	}
	return change, nil
}
