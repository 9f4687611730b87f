package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store is the minimal storage access the seeder needs from the application's database.
type Store interface {
	// Open opens or creates the database at path.
	Open(ctx context.Context, path string) error
	// EnsureSchema creates the tables the admin record needs, if missing.
	EnsureSchema(ctx context.Context) error
	// InsertAdmin stores one administrator with an already hashed password.
	InsertAdmin(ctx context.Context, username, hash string) error
	// Close releases the database.
	Close() error
}

// SQLiteStore writes the administrator straight into the application's sqlite database.
// The table layout is the subset of the application's user table its login path reads;
// the application's own migrations add whatever else they need on first start.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store is not open")
	}

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user (
			id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
			username VARCHAR(255) NOT NULL UNIQUE,
			password VARCHAR(255),
			active BOOLEAN NOT NULL DEFAULT 1,
			timezone VARCHAR(150),
			twofa_secret VARCHAR(64),
			twofa_status BOOLEAN NOT NULL DEFAULT 0,
			twofa_last_token VARCHAR(6)
		)`,
	)
	if err != nil {
		return fmt.Errorf("failed to create user table: %w", err)
	}

	return nil
}

func (s *SQLiteStore) InsertAdmin(ctx context.Context, username, hash string) error {
	if s.db == nil {
		return errors.New("store is not open")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(
		ctx,
		"INSERT INTO user (username, password, active) VALUES (?, ?, 1)",
		username, hash,
	); err != nil {
		return fmt.Errorf("failed to insert admin: %w", err)
	}

	var users int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM user").Scan(&users); err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if users != 1 {
		return fmt.Errorf("expected exactly one user after seeding, found %d", users)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
