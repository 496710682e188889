// Package report provides PostgreSQL-backed storage for abuse reports filed
// against a pairing partner. Handles are ephemeral, so a report captures the
// two connection handles and the pairing ID as they were at report time.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an abuse report. The reason is validated against the
// allowed set before insertion; unknown reasons are stored as "other".
func (s *Store) Create(ctx context.Context, reporter, reported, pairingID, reason string) error {
	if !validReasons[reason] {
		reason = "other"
	}

	const query = `
		INSERT INTO reports (reporter_handle, reported_handle, pairing_id, reason)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query, reporter, reported, pairingID, reason)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a handle within
// the given time window. Handles are per-connection, so this only catches
// repeat offenders within one connection's lifetime; it exists for
// moderator dashboards, not enforcement.
func (s *Store) CountRecent(ctx context.Context, reportedHandle string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reports
		WHERE reported_handle = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedHandle, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
