// Package profile owns the collection of sing-box profiles. Records are
// indexed in sqlite and each profile's content is a <name>.json file in
// the profiles directory. All mutations go through one writer lock so the
// at-most-one-selected rule holds under concurrent callers; reads share
// the lock and always see a committed state.
package profile

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ljm625/decky-sbox/internal/sandbox"
)

// Store is the profile index plus the content directory.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	dir string
	now func() time.Time
}

// Open opens (or creates) the sqlite index at dbPath and the content
// directory dir.
func Open(ctx context.Context, dbPath, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile: create content dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("profile: create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("profile: open sqlite index: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db, dir), nil
}

// New wraps an already prepared database handle. The schema must exist.
func New(db *sql.DB, dir string) *Store {
	return &Store{db: db, dir: dir, now: time.Now}
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dir returns the profile content directory.
func (s *Store) Dir() string { return s.dir }

// NameForPath maps a file in the content directory back to its profile
// name. It reports false for anything that is not a profile file.
func (s *Store) NameForPath(path string) (string, bool) {
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(s.dir) {
		return "", false
	}
	base := filepath.Base(path)
	if sandbox.IsTemp(base) || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	name := strings.TrimSuffix(base, ".json")
	if ValidateName(name) != nil {
		return "", false
	}
	return name, true
}

const profileColumns = `name, url, valid, selected, sha256, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var created, updated string
	if err := row.Scan(&p.Name, &p.URL, &p.Valid, &p.Selected, &p.SHA256, &p.LastError, &created, &updated); err != nil {
		return Profile{}, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return p, nil
}

func get(ctx context.Context, q querier, name string) (Profile, error) {
	p, err := scanProfile(q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, NotFoundError{Entity: "profile", Key: name}
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile: load %q: %w", name, err)
	}
	return p, nil
}

// List returns every profile in creation order.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(ctx)
}

func (s *Store) list(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	profiles := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: scan: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: iterate: %w", err)
	}
	return profiles, nil
}

// Get returns the named profile or a NotFoundError.
func (s *Store) Get(ctx context.Context, name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(ctx, s.db, name)
}

// Selected returns the selected profile, if any.
func (s *Store) Selected(ctx context.Context) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE selected = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("profile: load selected: %w", err)
	}
	return p, true, nil
}

// Content reads the stored document of the named profile.
func (s *Store) Content(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := get(ctx, s.db, name); err != nil {
		return nil, err
	}
	return s.readContent(name)
}

func (s *Store) readContent(name string) ([]byte, error) {
	path, err := sandbox.ValidatePath(s.dir, fileName(name))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile %s: reading content: %w", name, err)
	}
	return data, nil
}

// Upsert inserts p or replaces the record with the same name along with
// its content. It never changes which profile is selected. The content is
// staged before the transaction and only replaces the file once the
// record is committed, so a failure leaves both as they were.
func (s *Store) Upsert(ctx context.Context, p Profile, content []byte) (Profile, error) {
	if err := ValidateName(p.Name); err != nil {
		return Profile{}, err
	}
	p.SHA256 = Checksum(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := sandbox.StageWrite(s.dir, fileName(p.Name), content, 0o600)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: write content %q: %w", p.Name, err)
	}
	defer pending.Discard()

	now := s.timestamp()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (name, url, valid, sha256, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				url = excluded.url,
				valid = excluded.valid,
				sha256 = excluded.sha256,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at
		`, p.Name, p.URL, p.Valid, p.SHA256, p.LastError, now, now); err != nil {
			return fmt.Errorf("profile: upsert %q: %w", p.Name, err)
		}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	if err := pending.Commit(); err != nil {
		// The record now describes content that never landed.
		reason := fmt.Sprintf("content not written: %v", err)
		if _, uerr := s.db.ExecContext(ctx, `
			UPDATE profiles SET valid = 0, last_error = ? WHERE name = ?
		`, reason, p.Name); uerr != nil {
			return Profile{}, errors.Join(fmt.Errorf("profile: write content %q: %w", p.Name, err), uerr)
		}
		return Profile{}, fmt.Errorf("profile: write content %q: %w", p.Name, err)
	}
	return get(ctx, s.db, p.Name)
}

// Select makes name the only selected profile. Unknown names return a
// NotFoundError and invalid profiles ErrInvalid; in both cases nothing
// changes.
func (s *Store) Select(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var valid bool
		err := tx.QueryRowContext(ctx, `SELECT valid FROM profiles WHERE name = ?`, name).Scan(&valid)
		if errors.Is(err, sql.ErrNoRows) {
			return NotFoundError{Entity: "profile", Key: name}
		}
		if err != nil {
			return fmt.Errorf("profile: check %q: %w", name, err)
		}
		if !valid {
			return fmt.Errorf("%w: %s", ErrInvalid, name)
		}

		now := s.timestamp()
		if _, err := tx.ExecContext(ctx, `
			UPDATE profiles SET selected = 0, updated_at = ? WHERE selected = 1 AND name <> ?
		`, now, name); err != nil {
			return fmt.Errorf("profile: clear selection: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE profiles SET selected = 1, updated_at = ? WHERE name = ?
		`, now, name); err != nil {
			return fmt.Errorf("profile: select %q: %w", name, err)
		}
		return nil
	})
}

// Deselect clears the selection if name holds it.
func (s *Store) Deselect(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET selected = 0, updated_at = CASE WHEN selected = 1 THEN ? ELSE updated_at END
		WHERE name = ?
	`, s.timestamp(), name)
	if err != nil {
		return fmt.Errorf("profile: deselect %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFoundError{Entity: "profile", Key: name}
	}
	return nil
}

// Delete removes the named profile and its content file, returning the
// record as it was. Deleting the selected profile leaves nothing selected.
func (s *Store) Delete(ctx context.Context, name string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		removed Profile
		pending *sandbox.Pending
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := get(ctx, tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name); err != nil {
			return fmt.Errorf("profile: delete %q: %w", name, err)
		}
		if pending, err = sandbox.StageRemove(s.dir, fileName(name)); err != nil {
			return fmt.Errorf("profile: remove content %q: %w", name, err)
		}
		removed = p
		return nil
	})
	if err != nil {
		if pending != nil {
			if rerr := pending.Discard(); rerr != nil {
				return Profile{}, errors.Join(err, fmt.Errorf("profile: restore content %q: %w", name, rerr))
			}
		}
		return Profile{}, err
	}
	// A leftover temp file is skipped by Reconcile and the watcher.
	_ = pending.Commit()
	return removed, nil
}

// SetValidity records a fresh validation outcome for name.
func (s *Store) SetValidity(ctx context.Context, name string, valid bool, reason, sum string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET valid = ?, last_error = ?, sha256 = ?, updated_at = ? WHERE name = ?
	`, valid, reason, sum, s.timestamp(), name)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: set validity %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Profile{}, NotFoundError{Entity: "profile", Key: name}
	}
	return get(ctx, s.db, name)
}

// Setting returns a persisted daemon setting.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("profile: load setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting persists a daemon setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.timestamp()); err != nil {
		return fmt.Errorf("profile: save setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("profile: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// Checksum returns the hex sha256 of content.
func Checksum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
