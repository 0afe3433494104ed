// Package accesslog persists passport access audit entries to Postgres.
package accesslog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmp/passport/internal/platform/middleware"
)

// execer is the subset of *pgxpool.Pool the recorder needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder writes audit entries to the dmp_access_log table. It satisfies
// middleware.AuditRecorder.
type Recorder struct {
	db      execer
	timeout time.Duration
}

var _ middleware.AuditRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder backed by db (normally a *pgxpool.Pool).
func NewRecorder(db execer) *Recorder {
	return &Recorder{db: db, timeout: 5 * time.Second}
}

const insertAccess = `
	INSERT INTO dmp_access_log (
		action, patient_guid, format, persisted,
		route, method, status_code,
		ip_address, user_agent, request_id, accessed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

// RecordAccess inserts one entry. Empty patient, format, ip, user agent
// and request id are stored as NULL.
func (r *Recorder) RecordAccess(entry middleware.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.db.Exec(ctx, insertAccess,
		entry.Action, nullable(entry.PatientGUID), nullable(entry.Format), entry.Persisted,
		entry.Route, entry.Method, entry.StatusCode,
		nullable(entry.IPAddress), nullable(entry.UserAgent), nullable(entry.RequestID), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record passport access: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
