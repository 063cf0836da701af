// Package progress records per-user daily practice statistics in SQLite.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS practice_progress (
	id                           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id                      TEXT NOT NULL,
	date                         TEXT NOT NULL,
	pronunciation_practice_count INTEGER NOT NULL DEFAULT 0,
	pronunciation_avg_score      REAL NOT NULL DEFAULT 0,
	fluency_test_count           INTEGER NOT NULL DEFAULT 0,
	total_points                 INTEGER NOT NULL DEFAULT 0,
	updated_at                   TEXT NOT NULL,
	UNIQUE(user_id, date)
);

CREATE INDEX IF NOT EXISTS idx_practice_progress_user_date
	ON practice_progress(user_id, date);
`

const (
	dateLayout      = "2006-01-02"
	pointsDivisor   = 10
	maxPointsPerTry = 10
)

// ErrUserIDEmpty is returned when a record has no user id.
var ErrUserIDEmpty = errors.New("user id cannot be empty")

// Daily is one user's practice on one day.
type Daily struct {
	UserID                     string  `json:"user_id"`
	Date                       string  `json:"date"`
	PronunciationPracticeCount int     `json:"pronunciation_practice_count"`
	PronunciationAvgScore      float64 `json:"pronunciation_avg_score"`
	FluencyTestCount           int     `json:"fluency_test_count"`
	TotalPoints                int     `json:"total_points"`
}

// Stats aggregates a user's practice over all days.
type Stats struct {
	TotalPractices int     `json:"total_pronunciation_practices"`
	AverageScore   float64 `json:"average_pronunciation_score"`
	LearningDays   int     `json:"total_learning_days"`
}

// Store persists practice progress.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to pick the current day.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore opens the SQLite database at dbPath and creates the schema.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		err := os.MkdirAll(dir, 0o750)
		if err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", schema} {
		_, err = db.Exec(stmt)
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("init db: %w", err)
		}
	}

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPronunciation counts one pronunciation attempt for today and folds
// score into the running mean.
func (s *Store) RecordPronunciation(ctx context.Context, userID string, score float64) (*Daily, error) {
	if userID == "" {
		return nil, ErrUserIDEmpty
	}

	now := s.now()
	points := min(int(score)/pointsDivisor, maxPointsPerTry)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO practice_progress
			(user_id, date, pronunciation_practice_count, pronunciation_avg_score, total_points, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			pronunciation_avg_score = (pronunciation_avg_score * pronunciation_practice_count + excluded.pronunciation_avg_score)
				/ (pronunciation_practice_count + 1),
			pronunciation_practice_count = pronunciation_practice_count + 1,
			total_points = total_points + excluded.total_points,
			updated_at = excluded.updated_at`,
		userID, now.Format(dateLayout), score, max(points, 0), now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("record pronunciation for %s: %w", userID, err)
	}

	return s.day(ctx, userID, now)
}

// RecordFluency counts one fluency test for today.
func (s *Store) RecordFluency(ctx context.Context, userID string) (*Daily, error) {
	if userID == "" {
		return nil, ErrUserIDEmpty
	}

	now := s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO practice_progress (user_id, date, fluency_test_count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			fluency_test_count = fluency_test_count + 1,
			updated_at = excluded.updated_at`,
		userID, now.Format(dateLayout), now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("record fluency for %s: %w", userID, err)
	}

	return s.day(ctx, userID, now)
}

// Today returns the user's progress for the current day. A user with no
// activity today gets a zero record.
func (s *Store) Today(ctx context.Context, userID string) (*Daily, error) {
	if userID == "" {
		return nil, ErrUserIDEmpty
	}

	return s.day(ctx, userID, s.now())
}

// Stats aggregates all recorded days for the user.
func (s *Store) Stats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, ErrUserIDEmpty
	}

	var (
		total sql.NullInt64
		avg   sql.NullFloat64
		days  int
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(pronunciation_practice_count), AVG(pronunciation_avg_score), COUNT(DISTINCT date)
		FROM practice_progress WHERE user_id = ?`, userID,
	).Scan(&total, &avg, &days)
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", userID, err)
	}

	return &Stats{
		TotalPractices: int(total.Int64),
		AverageScore:   math.Round(avg.Float64*10) / 10,
		LearningDays:   days,
	}, nil
}

func (s *Store) day(ctx context.Context, userID string, at time.Time) (*Daily, error) {
	daily := &Daily{UserID: userID, Date: at.Format(dateLayout)}

	err := s.db.QueryRowContext(ctx, `
		SELECT pronunciation_practice_count, pronunciation_avg_score, fluency_test_count, total_points
		FROM practice_progress WHERE user_id = ? AND date = ?`, userID, daily.Date,
	).Scan(&daily.PronunciationPracticeCount, &daily.PronunciationAvgScore, &daily.FluencyTestCount, &daily.TotalPoints)
	if errors.Is(err, sql.ErrNoRows) {
		return daily, nil
	}

	if err != nil {
		return nil, fmt.Errorf("load progress for %s: %w", userID, err)
	}

	return daily, nil
}
