package pg

import (
	"context"

	"comprobantes.org/internal/audit"
)

func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor_user_id, action, subject_user_id, company_id, request_id)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.OccurredAt, e.ActorUserID, e.Action, e.SubjectUserID, e.CompanyID, e.RequestID)
	return err
}

func (s *Store) ListAudit(ctx context.Context, subjectUserID int64, limit int) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, occurred_at, actor_user_id, action, subject_user_id, company_id, request_id
		from audit_log
		where subject_user_id = $1
		order by occurred_at desc, id desc
		limit $2
	`, subjectUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ActorUserID, &e.Action, &e.SubjectUserID, &e.CompanyID, &e.RequestID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
