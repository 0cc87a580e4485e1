// Package storage persists accounts and match history in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// AccountRow is a persisted player account.
type AccountRow struct {
	Username     string
	PasswordHash string
	Pronoun      string
	Rating       int
	Wins         int
	Losses       int
	Guest        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MatchRow is one finished match.
type MatchRow struct {
	ID         string
	Difficulty string
	Custom     bool
	PlayerA    string
	PlayerB    string
	Winner     string
	DeltaA     int
	DeltaB     int
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			pronoun       TEXT NOT NULL,
			rating        INTEGER NOT NULL,
			wins          INTEGER NOT NULL DEFAULT 0,
			losses        INTEGER NOT NULL DEFAULT 0,
			guest         INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS matches (
			id          TEXT PRIMARY KEY,
			difficulty  TEXT NOT NULL,
			custom      INTEGER NOT NULL,
			player_a    TEXT NOT NULL,
			player_b    TEXT NOT NULL,
			winner      TEXT NOT NULL,
			delta_a     INTEGER NOT NULL,
			delta_b     INTEGER NOT NULL,
			reason      TEXT NOT NULL,
			started_at  DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS accounts_rating ON accounts(rating DESC);
		CREATE INDEX IF NOT EXISTS matches_finished ON matches(finished_at DESC);
	`)
	return err
}

// CreateAccount inserts a new account. Returns ErrDuplicate if the username
// is taken.
func (s *Store) CreateAccount(ctx context.Context, a AccountRow) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, password_hash, pronoun, rating, guest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING
	`, a.Username, a.PasswordHash, a.Pronoun, a.Rating, a.Guest)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %q: %w", a.Username, ErrDuplicate)
	}
	return nil
}

const accountColumns = "username, password_hash, pronoun, rating, wins, losses, guest, created_at, updated_at"

func scanAccount(row interface{ Scan(...any) error }) (*AccountRow, error) {
	var a AccountRow
	if err := row.Scan(&a.Username, &a.PasswordHash, &a.Pronoun, &a.Rating, &a.Wins, &a.Losses, &a.Guest, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount retrieves an account by username.
func (s *Store) GetAccount(ctx context.Context, username string) (*AccountRow, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE username = ?", username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	return a, err
}

// UpdateRating stores a new rating and counts the result.
func (s *Store) UpdateRating(ctx context.Context, username string, rating int, won bool) error {
	win, loss := 0, 1
	if won {
		win, loss = 1, 0
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET rating = ?, wins = wins + ?, losses = losses + ?, updated_at = CURRENT_TIMESTAMP
		WHERE username = ?
	`, rating, win, loss, username)
	if err != nil {
		return fmt.Errorf("update rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	return nil
}

// TopRatings returns non-guest accounts by descending rating.
func (s *Store) TopRatings(ctx context.Context, limit int) ([]AccountRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE guest = 0 ORDER BY rating DESC, username ASC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []AccountRow
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// RecordMatch inserts a finished match.
func (s *Store) RecordMatch(ctx context.Context, m MatchRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (id, difficulty, custom, player_a, player_b, winner, delta_a, delta_b, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Difficulty, m.Custom, m.PlayerA, m.PlayerB, m.Winner, m.DeltaA, m.DeltaB, m.Reason, m.StartedAt.UTC(), m.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// ListMatches returns the most recent matches involving player (or all
// matches if player is empty).
func (s *Store) ListMatches(ctx context.Context, player string, limit int) ([]MatchRow, error) {
	const cols = "id, difficulty, custom, player_a, player_b, winner, delta_a, delta_b, reason, started_at, finished_at"
	var rows *sql.Rows
	var err error
	if player == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT "+cols+" FROM matches ORDER BY finished_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+cols+" FROM matches WHERE player_a = ? OR player_b = ? ORDER BY finished_at DESC LIMIT ?",
			player, player, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []MatchRow
	for rows.Next() {
		var m MatchRow
		if err := rows.Scan(&m.ID, &m.Difficulty, &m.Custom, &m.PlayerA, &m.PlayerB, &m.Winner,
			&m.DeltaA, &m.DeltaB, &m.Reason, &m.StartedAt, &m.FinishedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
