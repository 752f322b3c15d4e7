package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"comprobantes.org/internal/audit"
	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/ids"
	"comprobantes.org/internal/obs"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Service is the assignment store facade, the access evaluator and the
// assignment editor in one place. Every method takes the caller's session
// explicitly.
type Service struct {
	store    Store
	recorder audit.Recorder
	reader   audit.Reader
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service) error

// WithRecorder sets the audit sink for grant transitions.
func WithRecorder(r audit.Recorder) Option {
	return func(s *Service) error {
		if r == nil {
			return errors.New("audit recorder must not be nil")
		}
		s.recorder = r
		return nil
	}
}

// WithAuditReader enables ListAudit.
func WithAuditReader(r audit.Reader) Option {
	return func(s *Service) error {
		if r == nil {
			return errors.New("audit reader must not be nil")
		}
		s.reader = r
		return nil
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return errors.New("logger must not be nil")
		}
		s.log = log
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		s.now = now
		return nil
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("permission store is required")
	}
	s := &Service{
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.recorder == nil {
		s.recorder = audit.LogRecorder{Logger: s.log}
	}
	return s, nil
}

// GetGrants returns the effective grant set of userID. Administrators may read
// anyone, regular users only themselves.
func (s *Service) GetGrants(ctx context.Context, actor auth.Session, userID int64) (GrantSet, error) {
	if userID <= 0 {
		return GrantSet{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	if !actor.CanActFor(userID) {
		return GrantSet{}, fmt.Errorf("%w: cannot read grants of other users", auth.ErrForbidden)
	}
	return s.effectiveGrants(ctx, userID)
}

func (s *Service) effectiveGrants(ctx context.Context, userID int64) (GrantSet, error) {
	set, err := s.store.Grants(ctx, userID)
	if err != nil {
		return GrantSet{}, err
	}
	if set.Role.IsAdministrator() {
		companies, err := s.store.ListCompanies(ctx)
		if err != nil {
			return GrantSet{}, err
		}
		all := make([]int64, 0, len(companies))
		for _, c := range companies {
			all = append(all, c.ID)
		}
		set.CompanyIDs = NormalizeIDs(all)
	}
	if set.CompanyIDs == nil {
		set.CompanyIDs = []int64{}
	}
	return set, nil
}

// SetGrants replaces the grant set of userID. A non-nil expectedVersion must
// match the stored version or the call fails with auth.ErrConflict.
func (s *Service) SetGrants(ctx context.Context, actor auth.Session, userID int64, companyIDs []int64, expectedVersion *int64) (GrantSet, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return GrantSet{}, err
	}
	if userID <= 0 {
		return GrantSet{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	for _, id := range companyIDs {
		if id <= 0 {
			return GrantSet{}, fmt.Errorf("%w: company ids must be positive", auth.ErrInvalidInput)
		}
	}
	change, err := s.store.ReplaceGrants(ctx, userID, NormalizeIDs(companyIDs), expectedVersion)
	if err != nil {
		return GrantSet{}, err
	}
	s.recordChange(ctx, actor, change)
	after := change.After
	if after == nil {
		after = []int64{}
	}
	return GrantSet{UserID: userID, Role: auth.RoleRegular, CompanyIDs: after, Version: change.Version}, nil
}

// Assign grants companyID to userID. Assigning an existing grant is a no-op.
func (s *Service) Assign(ctx context.Context, actor auth.Session, userID, companyID int64) (GrantSet, error) {
	if err := s.checkToggle(actor, userID, companyID); err != nil {
		return GrantSet{}, err
	}
	change, err := s.store.AddGrant(ctx, userID, companyID)
	if err != nil {
		return GrantSet{}, err
	}
	s.recordChange(ctx, actor, change)
	return changeSet(change), nil
}

// Revoke removes companyID from userID. Revoking a missing grant is a no-op,
// and revoking the last grant leaves the user with an empty set.
func (s *Service) Revoke(ctx context.Context, actor auth.Session, userID, companyID int64) (GrantSet, error) {
	if err := s.checkToggle(actor, userID, companyID); err != nil {
		return GrantSet{}, err
	}
	change, err := s.store.RemoveGrant(ctx, userID, companyID)
	if err != nil {
		return GrantSet{}, err
	}
	s.recordChange(ctx, actor, change)
	return changeSet(change), nil
}

func (s *Service) checkToggle(actor auth.Session, userID, companyID int64) error {
	if err := actor.RequireAdministrator(); err != nil {
		return err
	}
	if userID <= 0 || companyID <= 0 {
		return fmt.Errorf("%w: user id and company id are required", auth.ErrInvalidInput)
	}
	return nil
}

func changeSet(c Change) GrantSet {
	after := c.After
	if after == nil {
		after = []int64{}
	}
	return GrantSet{UserID: c.UserID, Role: auth.RoleRegular, CompanyIDs: after, Version: c.Version}
}

// recordChange writes one audit entry per added or removed company. Audit
// failures are logged; the grant change stays committed.
func (s *Service) recordChange(ctx context.Context, actor auth.Session, change Change) {
	if change.Noop() {
		return
	}
	requestID := audit.RequestIDFromContext(ctx)
	now := s.now().UTC()
	emit := func(action string, companyID int64) {
		obs.GrantChanges.WithLabelValues(action).Inc()
		entry := audit.Entry{
			ID:            ids.New(),
			OccurredAt:    now,
			ActorUserID:   actor.UserID,
			Action:        action,
			SubjectUserID: change.UserID,
			CompanyID:     companyID,
			RequestID:     requestID,
		}
		if err := s.recorder.Record(ctx, entry); err != nil {
			s.log.Error("audit record failed",
				zap.Error(err),
				zap.String("action", action),
				zap.Int64("subject_user_id", change.UserID),
				zap.Int64("company_id", companyID),
				zap.String("request_id", requestID),
			)
		}
	}
	for _, id := range change.Added() {
		emit(audit.ActionAssign, id)
	}
	for _, id := range change.Removed() {
		emit(audit.ActionRevoke, id)
	}
}

// ListAudit returns the newest audit entries about userID.
func (s *Service) ListAudit(ctx context.Context, actor auth.Session, userID int64, limit int) ([]audit.Entry, error) {
	if err := actor.RequireAdministrator(); err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	if s.reader == nil {
		return []audit.Entry{}, nil
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	entries, err := s.reader.ListAudit(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return entries, nil
}

// ListCompanies lists the whole catalog ordered by name, then id.
func (s *Service) ListCompanies(ctx context.Context) ([]directory.Company, error) {
	return s.store.ListCompanies(ctx)
}
