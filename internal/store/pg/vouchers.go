package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/voucher"
)

const voucherColumns = `id, company_id, supplier, issued_on, currency, amount, concept, document_url, email, bank, reference, created_at`

func scanVoucher(row rowScanner) (voucher.Voucher, error) {
	var v voucher.Voucher
	err := row.Scan(&v.ID, &v.CompanyID, &v.Supplier, &v.IssuedOn.Time, &v.Currency, &v.Amount,
		&v.Concept, &v.DocumentURL, &v.Email, &v.Bank, &v.Reference, &v.CreatedAt)
	return v, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// voucherWhere renders the scope and filter as a where clause. Scope ids are
// expanded into positional parameters.
func voucherWhere(scope permission.Scope, f voucher.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !scope.All {
		placeholders := make([]string, 0, len(scope.CompanyIDs))
		for _, id := range scope.CompanyIDs {
			placeholders = append(placeholders, arg(id))
		}
		conds = append(conds, "company_id in ("+strings.Join(placeholders, ", ")+")")
	}
	if f.CompanyID != 0 {
		conds = append(conds, "company_id = "+arg(f.CompanyID))
	}
	if f.Supplier != "" {
		conds = append(conds, "supplier ilike "+arg("%"+likeEscaper.Replace(f.Supplier)+"%"))
	}
	if f.Concept != "" {
		conds = append(conds, "concept ilike "+arg("%"+likeEscaper.Replace(f.Concept)+"%"))
	}
	if f.Bank != "" {
		conds = append(conds, "lower(bank) = lower("+arg(f.Bank)+")")
	}
	if f.Currency != "" {
		conds = append(conds, "currency = "+arg(strings.ToUpper(f.Currency)))
	}
	if f.Reference != "" {
		conds = append(conds, "reference = "+arg(f.Reference))
	}
	if !f.IssuedFrom.IsZero() {
		conds = append(conds, "issued_on >= "+arg(f.IssuedFrom.Time))
	}
	if !f.IssuedTo.IsZero() {
		conds = append(conds, "issued_on <= "+arg(f.IssuedTo.Time))
	}
	if f.AmountMin != nil {
		conds = append(conds, "amount >= "+arg(*f.AmountMin))
	}
	if f.AmountMax != nil {
		conds = append(conds, "amount <= "+arg(*f.AmountMax))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " where " + strings.Join(conds, " and "), args
}

func (s *Store) ListVouchers(ctx context.Context, scope permission.Scope, f voucher.Filter) ([]voucher.Voucher, int, error) {
	if s.db == nil {
		return nil, 0, errNoDB
	}
	if scope.Empty() {
		return []voucher.Voucher{}, 0, nil
	}
	where, args := voucherWhere(scope, f)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from vouchers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`select %s from vouchers%s order by issued_on desc, id desc limit $%d offset $%d`,
		voucherColumns, where, n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, f.PerPage, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []voucher.Voucher{}
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) CreateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	if s.db == nil {
		return voucher.Voucher{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into vouchers (company_id, supplier, issued_on, currency, amount, concept, document_url, email, bank, reference)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+voucherColumns,
		v.CompanyID, v.Supplier, v.IssuedOn.Time, v.Currency, v.Amount, v.Concept, v.DocumentURL, v.Email, v.Bank, v.Reference)
	created, err := scanVoucher(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return voucher.Voucher{}, fmt.Errorf("%w: %d", auth.ErrInvalidCompany, v.CompanyID)
		}
		return voucher.Voucher{}, err
	}
	return created, nil
}

func (s *Store) GetVoucher(ctx context.Context, id int64) (voucher.Voucher, error) {
	if s.db == nil {
		return voucher.Voucher{}, errNoDB
	}
	v, err := scanVoucher(s.db.QueryRowContext(ctx, `select `+voucherColumns+` from vouchers where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return voucher.Voucher{}, fmt.Errorf("%w: voucher %d", auth.ErrNotFound, id)
	}
	if err != nil {
		return voucher.Voucher{}, err
	}
	return v, nil
}
