// Package namestore persists display names for admin addresses. It is a
// convenience cache: a missing or lost store degrades to generated fallback
// names, never to an error.
package namestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/verdantgrid/irecdesk/internal/ethaddr"
)

// Store keeps address → display name in SQLite, keyed by the lower-cased
// address.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the database file (and its directory) if needed and runs the
// schema migration.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS admin_names (
		address TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		updated_at TEXT DEFAULT (datetime('now'))
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Set stores or replaces the display name for addr.
func (s *Store) Set(ctx context.Context, addr, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_names (address, display_name) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET display_name=excluded.display_name, updated_at=datetime('now')`,
		ethaddr.Normalize(addr), name)
	return err
}

// Delete removes the stored name; lookups fall back to the generated one.
func (s *Store) Delete(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admin_names WHERE address = ?`, ethaddr.Normalize(addr))
	return err
}

// DisplayName returns the stored name or the generated fallback
// "Admin <shortened-address>". It never fails; store errors are logged and
// degrade to the fallback.
func (s *Store) DisplayName(addr string) string {
	key := ethaddr.Normalize(addr)
	var name string
	err := s.db.QueryRow(`SELECT display_name FROM admin_names WHERE address = ?`, key).Scan(&name)
	switch {
	case err == nil && strings.TrimSpace(name) != "":
		return name
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		if s.logger != nil {
			s.logger.Warn("name lookup failed, using fallback", "address", key, "err", err)
		}
	}
	return FallbackName(addr)
}

// FallbackName generates the display name used when no stored name exists.
func FallbackName(addr string) string {
	return "Admin " + ethaddr.Shorten(addr)
}
