package memory

import (
	"context"

	"comprobantes.org/internal/audit"
)

// Record implements audit.Recorder.
func (s *Store) Record(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	s.audit = append(s.audit, entry)
	s.mu.Unlock()
	return nil
}

// ListAudit implements audit.Reader; newest entries first.
func (s *Store) ListAudit(_ context.Context, subjectUserID int64, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, 0)
	for i := len(s.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.audit[i].SubjectUserID == subjectUserID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}
