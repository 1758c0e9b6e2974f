// Package profile reads persistent user profiles from PostgreSQL. The
// matchmaking engine consults it before a join to resolve declared gender,
// desired-partner filter and priority tier; it never writes here. Bans, VIP
// grants and ratings are applied by other subsystems.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Profile is the subset of a user's persistent record the engine reads.
type Profile struct {
	UserID       int64          `db:"user_id"`
	Gender       sql.NullString `db:"gender"`
	SearchGender string         `db:"search_gender"`
	VIPUntil     sql.NullTime   `db:"vip_until"`
	Rating       float64        `db:"rating"`
	IsBanned     bool           `db:"is_banned"`
	BanUntil     sql.NullTime   `db:"ban_until"`
	Strikes      int            `db:"strikes"`
}

// Priority reports whether the user's VIP grant is active, which elevates
// them to head-of-queue insertion.
func (p *Profile) Priority(now time.Time) bool {
	return p.VIPUntil.Valid && p.VIPUntil.Time.After(now)
}

// Banned reports whether the user is currently barred from searching.
func (p *Profile) Banned(now time.Time) bool {
	if p.IsBanned {
		return true
	}
	return p.BanUntil.Valid && p.BanUntil.Time.After(now)
}

// Reader provides read-only access to user profiles.
type Reader struct {
	db *sqlx.DB
}

// NewReader creates a profile reader over the given database handle.
func NewReader(db *sqlx.DB) *Reader {
	return &Reader{db: db}
}

// Connect opens a PostgreSQL connection pool for profile access.
func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("profile: connect: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return db, nil
}

// Get returns a user's profile, or nil if no record exists. User ids arrive
// as strings from the message bus and must be numeric.
func (r *Reader) Get(ctx context.Context, userID string) (*Profile, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("profile: invalid user id %q: %w", userID, err)
	}

	var p Profile
	err = r.db.GetContext(ctx, &p, `
		SELECT user_id, gender, search_gender, vip_until, rating, is_banned, ban_until, strikes
		FROM users
		WHERE user_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %d: %w", id, err)
	}
	return &p, nil
}
