// Package report persists abuse reports and applies the escalating ban
// ladder. It belongs to the moderation subsystem: the matchmaking engine
// never writes here, it only receives eviction requests once a ban lands.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the abuse_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// Escalating ban ladder by strike count. The fifth strike is permanent.
var banLadder = map[int]time.Duration{
	1: 5 * time.Minute,
	2: 30 * time.Minute,
	3: 2 * time.Hour,
	4: 24 * time.Hour,
}

// PermanentStrikes is the strike count at which a ban becomes permanent.
const PermanentStrikes = 5

// Outcome describes the moderation result of filing one report.
type Outcome struct {
	Strikes   int
	Banned    bool
	Permanent bool
	Duration  time.Duration
}

// Store manages abuse reports and strike state in PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// File records a report against a user, increments their strike counter and
// applies the ban ladder, all in one transaction. Unknown users are created
// on first strike so reports against profile-less users still count.
func (s *Store) File(ctx context.Context, reporterID, reportedID int64, reason string) (*Outcome, error) {
	if !validReasons[reason] {
		return nil, fmt.Errorf("report: invalid reason %q", reason)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("report: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO abuse_reports (reporter_id, reported_id, reason)
		VALUES ($1, $2, $3)`, reporterID, reportedID, reason); err != nil {
		return nil, fmt.Errorf("report: insert: %w", err)
	}

	var strikes int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (user_id, strikes)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET strikes = users.strikes + 1
		RETURNING strikes`, reportedID).Scan(&strikes)
	if err != nil {
		return nil, fmt.Errorf("report: strike %d: %w", reportedID, err)
	}

	outcome := &Outcome{Strikes: strikes}

	if strikes >= PermanentStrikes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET is_banned = TRUE WHERE user_id = $1`, reportedID); err != nil {
			return nil, fmt.Errorf("report: permanent ban %d: %w", reportedID, err)
		}
		outcome.Banned = true
		outcome.Permanent = true
	} else if duration, ok := banLadder[strikes]; ok {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET ban_until = NOW() + $2::interval WHERE user_id = $1`,
			reportedID, duration.String()); err != nil {
			return nil, fmt.Errorf("report: temp ban %d: %w", reportedID, err)
		}
		outcome.Banned = true
		outcome.Duration = duration
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("report: commit: %w", err)
	}
	return outcome, nil
}

// CountRecent returns the number of reports filed against a user within the
// given window, for moderator review tooling.
func (s *Store) CountRecent(ctx context.Context, reportedID int64, window time.Duration) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported_id = $1
		  AND created_at >= NOW() - $2::interval`, reportedID, window.String())
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
