package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CheckFunc judges a profile document, returning validity and a reason
// when invalid.
type CheckFunc func(content []byte) (valid bool, reason string)

// ReconcileReport lists what Reconcile changed.
type ReconcileReport struct {
	Adopted    []string // content files with no index record
	Updated    []string // records whose validity or checksum changed
	Unreadable []string // records whose content could not be read
}

// Reconcile brings the index in line with the content directory. Every
// record's content is re-checked; records whose file is missing or
// unreadable stay listed with valid=false. Profile files dropped into the
// directory by hand are adopted with an empty url.
func (s *Store) Reconcile(ctx context.Context, check CheckFunc) (ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ReconcileReport

	profiles, err := s.list(ctx)
	if err != nil {
		return report, err
	}

	known := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		known[p.Name] = true

		valid, reason, sum := false, "", ""
		data, err := s.readContent(p.Name)
		if err != nil {
			reason = fmt.Sprintf("content unreadable: %v", err)
			report.Unreadable = append(report.Unreadable, p.Name)
		} else {
			sum = Checksum(data)
			valid, reason = check(data)
		}

		if valid == p.Valid && reason == p.LastError && sum == p.SHA256 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE profiles SET valid = ?, last_error = ?, sha256 = ?, updated_at = ? WHERE name = ?
		`, valid, reason, sum, s.timestamp(), p.Name); err != nil {
			return report, fmt.Errorf("profile: reconcile %q: %w", p.Name, err)
		}
		report.Updated = append(report.Updated, p.Name)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return report, fmt.Errorf("profile: scan content dir: %w", err)
	}
	var orphans []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := s.NameForPath(filepath.Join(s.dir, e.Name()))
		if !ok || known[name] {
			continue
		}
		orphans = append(orphans, name)
	}
	sort.Strings(orphans)

	for _, name := range orphans {
		data, err := s.readContent(name)
		if err != nil {
			continue
		}
		valid, reason := check(data)
		now := s.timestamp()
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (name, url, valid, sha256, last_error, created_at, updated_at)
			VALUES (?, '', ?, ?, ?, ?, ?)
		`, name, valid, Checksum(data), reason, now, now); err != nil {
			return report, fmt.Errorf("profile: adopt %q: %w", name, err)
		}
		report.Adopted = append(report.Adopted, name)
	}

	return report, nil
}
