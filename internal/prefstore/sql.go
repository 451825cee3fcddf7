package prefstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/prethora/glowly"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_preference (
	user_id     TEXT NOT NULL,
	enhancement TEXT NOT NULL,
	weight      DOUBLE PRECISION NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, enhancement)
);

CREATE TABLE IF NOT EXISTS enhancement_feedback (
	id           BIGSERIAL PRIMARY KEY,
	user_id      TEXT NOT NULL,
	enhancement  TEXT NOT NULL,
	satisfaction DOUBLE PRECISION NOT NULL,
	would_reuse  BOOLEAN NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS enhancement_feedback_user_idx
	ON enhancement_feedback (user_id, recorded_at DESC);`

const (
	selectPreferencesQuery = `SELECT enhancement, weight FROM user_preference WHERE user_id = $1`

	deletePreferencesQuery = `DELETE FROM user_preference WHERE user_id = $1`

	upsertPreferenceQuery = `INSERT INTO user_preference (user_id, enhancement, weight, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, enhancement) DO UPDATE SET weight = EXCLUDED.weight, updated_at = now()`

	insertFeedbackQuery = `INSERT INTO enhancement_feedback (user_id, enhancement, satisfaction, would_reuse, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`

	selectFeedbackQuery = `SELECT enhancement, satisfaction, would_reuse, recorded_at
		FROM enhancement_feedback
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`
)

type preferenceRow struct {
	Enhancement string  `db:"enhancement"`
	Weight      float64 `db:"weight"`
}

type feedbackRow struct {
	Enhancement  string    `db:"enhancement"`
	Satisfaction float64   `db:"satisfaction"`
	WouldReuse   bool      `db:"would_reuse"`
	RecordedAt   time.Time `db:"recorded_at"`
}

// SQLStore keeps preferences in PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects to PostgreSQL at dsn and pings it.
func OpenSQL(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to database: %v", ErrStorage, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewSQLStore(db), nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrating: %v", ErrStorage, err)
	}
	return nil
}

// Preferences returns the user's explicit weights. Rows for enhancement
// types this build does not know are ignored.
func (s *SQLStore) Preferences(ctx context.Context, userID string) (glowly.Preferences, error) {
	var rows []preferenceRow
	if err := s.db.SelectContext(ctx, &rows, selectPreferencesQuery, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	out := glowly.Preferences{}
	for _, r := range rows {
		t, err := glowly.ParseEnhancementType(r.Enhancement)
		if err != nil {
			continue
		}
		out[t] = r.Weight
	}
	return out, nil
}

// SetPreferences replaces the user's weights in one transaction.
func (s *SQLStore) SetPreferences(ctx context.Context, userID string, prefs glowly.Preferences) error {
	prefs = validWeights(prefs)
	types := make([]string, 0, len(prefs))
	for t := range prefs {
		types = append(types, string(t))
	}
	sort.Strings(types)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deletePreferencesQuery, userID); err != nil {
		return fmt.Errorf("%w: clearing preferences: %v", ErrStorage, err)
	}
	for _, t := range types {
		w := prefs[glowly.EnhancementType(t)]
		if _, err := tx.ExecContext(ctx, upsertPreferenceQuery, userID, t, w); err != nil {
			return fmt.Errorf("%w: saving %s: %v", ErrStorage, t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// RecordFeedback inserts one feedback event.
func (s *SQLStore) RecordFeedback(ctx context.Context, userID string, ev glowly.FeedbackEvent) error {
	_, err := s.db.ExecContext(ctx, insertFeedbackQuery,
		userID, string(ev.Enhancement), ev.Satisfaction, ev.WouldReuse, ev.RecordedAt)
	if err != nil {
		return fmt.Errorf("%w: recording feedback: %v", ErrStorage, err)
	}
	return nil
}

// Feedback returns up to limit events, newest first.
func (s *SQLStore) Feedback(ctx context.Context, userID string, limit int) ([]glowly.FeedbackEvent, error) {
	var rows []feedbackRow
	if err := s.db.SelectContext(ctx, &rows, selectFeedbackQuery, userID, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	out := make([]glowly.FeedbackEvent, 0, len(rows))
	for _, r := range rows {
		t, err := glowly.ParseEnhancementType(r.Enhancement)
		if err != nil {
			continue
		}
		out = append(out, glowly.FeedbackEvent{
			Enhancement:  t,
			Satisfaction: r.Satisfaction,
			WouldReuse:   r.WouldReuse,
			RecordedAt:   r.RecordedAt,
		})
	}
	return out, nil
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
