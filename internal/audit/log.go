package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"comprobantes.org/internal/obs"
)

// Actions recorded for grant transitions.
const (
	ActionAssign = "grant.assign"
	ActionRevoke = "grant.revoke"
)

// Entry is one committed grant transition.
type Entry struct {
	ID            string    `json:"id"`
	OccurredAt    time.Time `json:"occurredAt"`
	ActorUserID   int64     `json:"actorUserId"`
	Action        string    `json:"action"`
	SubjectUserID int64     `json:"subjectUserId"`
	CompanyID     int64     `json:"companyId"`
	RequestID     string    `json:"requestId,omitempty"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Reader returns the most recent entries about a subject user, newest first.
type Reader interface {
	ListAudit(ctx context.Context, subjectUserID int64, limit int) ([]Entry, error)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogRecorder writes each entry as a structured log line with type=audit.
// A nil logger falls back to obs.Logger().
type LogRecorder struct {
	Logger *zap.Logger
}

func (r LogRecorder) Record(_ context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit action is required")
	}
	log := r.Logger
	if log == nil {
		log = obs.Logger()
	}
	log.Info("audit",
		zap.String("type", "audit"),
		zap.String("event", entry.Action),
		zap.String("audit_id", entry.ID),
		zap.String("request_id", entry.RequestID),
		zap.Int64("user_id", entry.ActorUserID),
		zap.Int64("subject_user_id", entry.SubjectUserID),
		zap.Int64("company_id", entry.CompanyID),
		zap.Time("occurred_at", entry.OccurredAt),
	)
	return nil
}

// Multi fans an entry out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, entry Entry) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
