// Package audit appends security-relevant events to the audit_logs table.
// The log is a forensic record only, never an input to authorization
// decisions.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the slice of pgxpool.Pool the recorder needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Entry represents one row in audit_logs. UserID is nil for
// pre-authentication events such as a failed login for an unknown username.
type Entry struct {
	LogID     int64
	UserID    *int64
	Action    string
	IPAddress string
	CreatedAt time.Time
}

// Recorder writes entries into audit_logs.
type Recorder struct {
	db     Execer
	logger *slog.Logger
}

// NewRecorder returns a new Recorder.
func NewRecorder(db Execer, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record appends one entry. Failures are logged and swallowed: audit
// logging must never abort the primary security operation it describes.
func (r *Recorder) Record(ctx context.Context, userID *int64, action, ip string) {
	if r == nil || r.db == nil {
		return
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_logs (user_id, action, ip_address, created_at) VALUES ($1, $2, $3, $4)`,
		userID, action, ip, time.Now().UTC())
	if err != nil && r.logger != nil {
		r.logger.Error("audit write failed",
			slog.String("action", action),
			slog.Any("error", err))
	}
}

// Prune removes entries older than the retention window. Used by the
// background worker, never by request handlers.
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) error {
	if r == nil || r.db == nil {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	return err
}
