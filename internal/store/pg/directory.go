package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
)

const companyColumns = `id, name, industry, tax_id, created_at`

const userColumns = `id, name, email, role_id, company_id, password_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner) (directory.Company, error) {
	var c directory.Company
	err := row.Scan(&c.ID, &c.Name, &c.Industry, &c.TaxID, &c.CreatedAt)
	return c, err
}

func scanUser(row rowScanner) (directory.User, error) {
	var (
		u    directory.User
		role int16
		home sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &home, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return directory.User{}, err
	}
	u.Role = auth.Role(role)
	if home.Valid {
		id := home.Int64
		u.CompanyID = &id
	}
	return u, nil
}

func (s *Store) CreateCompany(ctx context.Context, c directory.Company) (directory.Company, error) {
	if s.db == nil {
		return directory.Company{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into companies (name, industry, tax_id)
		values ($1, $2, $3)
		returning `+companyColumns, c.Name, c.Industry, c.TaxID)
	created, err := scanCompany(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.Company{}, fmt.Errorf("%w: company %s already exists", auth.ErrConflict, c.Name)
		}
		return directory.Company{}, err
	}
	return created, nil
}

func (s *Store) ListCompanies(ctx context.Context) ([]directory.Company, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+companyColumns+` from companies order by name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	companies := []directory.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return companies, nil
}

func (s *Store) GetCompany(ctx context.Context, id int64) (directory.Company, error) {
	if s.db == nil {
		return directory.Company{}, errNoDB
	}
	c, err := scanCompany(s.db.QueryRowContext(ctx, `select `+companyColumns+` from companies where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Company{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, id)
	}
	if err != nil {
		return directory.Company{}, err
	}
	return c, nil
}

func (s *Store) UpdateCompany(ctx context.Context, id int64, upd directory.CompanyUpdate) (directory.Company, error) {
	if s.db == nil {
		return directory.Company{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Industry != nil {
		sets = append(sets, fmt.Sprintf("industry = $%d", idx))
		args = append(args, *upd.Industry)
		idx++
	}
	if upd.TaxID != nil {
		sets = append(sets, fmt.Sprintf("tax_id = $%d", idx))
		args = append(args, *upd.TaxID)
		idx++
	}
	if len(sets) == 0 {
		return s.GetCompany(ctx, id)
	}
	query := fmt.Sprintf(`update companies set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, companyColumns)
	args = append(args, id)
	c, err := scanCompany(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Company{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, id)
	}
	if err != nil {
		return directory.Company{}, err
	}
	return c, nil
}

// DeleteCompany removes the company with its grants and vouchers in one
// transaction and bumps the grant version of every user that lost a grant.
func (s *Store) DeleteCompany(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked int64
	if err := tx.QueryRowContext(ctx, `select id from companies where id = $1 for update`, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", auth.ErrInvalidCompany, id)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update users set grants_version = grants_version + 1, updated_at = now()
		where id in (select user_id from user_company where company_id = $1)
	`, id); err != nil {
		return wrapTxError(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from user_company where company_id = $1`, id); err != nil {
		return wrapTxError(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from vouchers where company_id = $1`, id); err != nil {
		return wrapTxError(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from companies where id = $1`, id); err != nil {
		return wrapTxError(err)
	}
	return wrapTxError(tx.Commit())
}

func (s *Store) CreateUser(ctx context.Context, u directory.User) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (name, email, role_id, company_id, password_hash)
		values ($1, $2, $3, $4, $5)
		returning `+userColumns, u.Name, u.Email, int16(u.Role), nullableID(u.CompanyID), u.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		return directory.User{}, userWriteError(err, u.Email, u.CompanyID)
	}
	return created, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]directory.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []directory.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, fmt.Errorf("%w: %d", auth.ErrInvalidUser, id)
	}
	if err != nil {
		return directory.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, upd directory.UserUpdate) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Role != nil {
		add("role_id", int16(*upd.Role))
	}
	if upd.CompanyID != nil {
		add("company_id", nullableID(upd.CompanyID))
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if len(sets) == 0 {
		return s.GetUser(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, userColumns)
	args = append(args, id)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, fmt.Errorf("%w: %d", auth.ErrInvalidUser, id)
	}
	if err != nil {
		email := ""
		if upd.Email != nil {
			email = *upd.Email
		}
		return directory.User{}, userWriteError(err, email, upd.CompanyID)
	}
	return u, nil
}

// DeleteUser removes the user; user_company rows go with it through the
// foreign key cascade.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: %d", auth.ErrInvalidUser, id)
	}
	return nil
}

func (s *Store) IdentityByID(ctx context.Context, userID int64) (auth.Identity, error) {
	return s.identity(ctx, `select id, email, role_id, password_hash from users where id = $1`, userID)
}

func (s *Store) IdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	return s.identity(ctx, `select id, email, role_id, password_hash from users where email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) identity(ctx context.Context, query string, arg any) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	var (
		id   auth.Identity
		role int16
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&id.UserID, &id.Email, &role, &id.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, fmt.Errorf("%w: %v", auth.ErrInvalidUser, arg)
	}
	if err != nil {
		return auth.Identity{}, err
	}
	id.Role = auth.Role(role)
	return id, nil
}

func userWriteError(err error, email string, home *int64) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: email %s already registered", auth.ErrConflict, email)
		case pgErrForeignKeyViolation:
			if home != nil {
				return fmt.Errorf("%w: %d", auth.ErrInvalidCompany, *home)
			}
			return auth.ErrInvalidCompany
		}
	}
	return err
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil || *id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func wrapTxError(err error) error {
	if err != nil && isRetryable(err) {
		return fmt.Errorf("%w: concurrent update, retry", auth.ErrConflict)
	}
	return err
}
