package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"comprobantes.org/internal/audit"
)

func TestRecordAndListAudit(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`insert into audit_log`).
		WithArgs("01J0", at, int64(1), audit.ActionAssign, int64(7), int64(3), "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := store.Record(context.Background(), audit.Entry{
		ID: "01J0", OccurredAt: at, ActorUserID: 1, Action: audit.ActionAssign,
		SubjectUserID: 7, CompanyID: 3, RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	mock.ExpectQuery(`from audit_log where subject_user_id = \$1 order by occurred_at desc, id desc limit \$2`).
		WithArgs(int64(7), 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "actor_user_id", "action", "subject_user_id", "company_id", "request_id"}).
			AddRow("01J1", at.Add(time.Minute), int64(1), audit.ActionRevoke, int64(7), int64(3), "").
			AddRow("01J0", at, int64(1), audit.ActionAssign, int64(7), int64(3), "req-1"))
	entries, err := store.ListAudit(context.Background(), 7, 20)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != audit.ActionRevoke || entries[1].RequestID != "req-1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNilDatabase(t *testing.T) {
	store := &Store{}
	if err := store.Ping(context.Background()); err != errNoDB {
		t.Fatalf("Ping with no db: %v", err)
	}
	if _, err := store.Grants(context.Background(), 1); err != errNoDB {
		t.Fatalf("Grants with no db: %v", err)
	}
}
