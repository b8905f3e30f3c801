package database

import (
	"database/sql"
	"fmt"
	"log"
)

// SeedGMData flags the configured privileged authors in the member table
// and installs their display-name overrides.
func (d *DB) SeedGMData(gmIDs []string, nameOverrides map[string]string) error {
	for _, id := range gmIDs {
		if err := d.execRetry(`
			INSERT INTO members (member_id, is_gm) VALUES (?, ?)
			ON CONFLICT (member_id) DO UPDATE SET is_gm = ?`,
			id, true, true); err != nil {
			return fmt.Errorf("failed to seed GM %s: %w", id, err)
		}
	}
	for id, name := range nameOverrides {
		if err := d.execRetry(`
			INSERT INTO gm_names (author_id, gm_name, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (author_id) DO UPDATE SET
				gm_name = EXCLUDED.gm_name,
				updated_at = EXCLUDED.updated_at`,
			id, name, nowMillis()); err != nil {
			return fmt.Errorf("failed to seed GM name for %s: %w", id, err)
		}
	}
	return nil
}

// ReseedGMDataIfNeeded reseeds when the flagged count dropped below the
// configured set, e.g. after a restore from an older backup.
func (d *DB) ReseedGMDataIfNeeded(gmIDs []string, nameOverrides map[string]string) error {
	var count int
	err := d.queryRow(`SELECT COUNT(*) FROM members WHERE is_gm = ?`, true).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count GMs: %w", err)
	}
	if count < len(gmIDs) {
		log.Printf("[DB] GM count mismatch (%d < %d); reseeding", count, len(gmIDs))
		return d.SeedGMData(gmIDs, nameOverrides)
	}
	return nil
}

// VerifyGMSeeding reports whether every configured GM carries the flag.
func (d *DB) VerifyGMSeeding(gmIDs []string) (bool, error) {
	missing := 0
	for _, id := range gmIDs {
		var flagged bool
		err := d.queryRow(`SELECT is_gm FROM members WHERE member_id = ?`, id).Scan(&flagged)
		if err == sql.ErrNoRows || (err == nil && !flagged) {
			missing++
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to verify GM %s: %w", id, err)
		}
	}
	if missing > 0 {
		log.Printf("[DB] Warning: missing GM flags for %d IDs", missing)
		return false, nil
	}
	return true, nil
}

// IsGM reports whether the member is flagged as a privileged author.
func (d *DB) IsGM(memberID string) (bool, error) {
	var flagged bool
	err := d.queryRow(`SELECT is_gm FROM members WHERE member_id = ?`, memberID).Scan(&flagged)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check GM flag for %s: %w", memberID, err)
	}
	return flagged, nil
}

// GMDisplayName resolves a GM's display name through the override table,
// falling back to the provided platform name.
func (d *DB) GMDisplayName(authorID, fallback string) string {
	var name string
	err := d.queryRow(`SELECT gm_name FROM gm_names WHERE author_id = ?`, authorID).Scan(&name)
	if err != nil || name == "" {
		return fallback
	}
	return name
}
