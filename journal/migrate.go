package journal

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/preempt/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migration is one embedded schema step, ordered by its numeric prefix
type migration struct {
	version string
	file    string
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Newf("migration %s has no version prefix", name)
		}
		out = append(out, migration{version: version, file: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// LatestSchemaVersion is the version of the newest embedded migration
func LatestSchemaVersion() string {
	ms, err := loadMigrations()
	if err != nil || len(ms) == 0 {
		return ""
	}
	return ms[len(ms)-1].version
}

// SchemaVersion returns the newest migration applied to db, or "" for an
// empty database
func SchemaVersion(db *sql.DB) (string, error) {
	applied, err := appliedVersions(db)
	if err != nil {
		return "", err
	}
	var newest string
	for v := range applied {
		if v > newest {
			newest = v
		}
	}
	return newest, nil
}

// appliedVersions reads schema_migrations; a database without the table has
// nothing applied
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)
	var exists int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, "look up schema_migrations")
	}
	if exists == 0 {
		return applied, nil
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema version")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "iterate schema_migrations")
}

// Migrate brings the journal schema up to LatestSchemaVersion. Each step runs
// in its own transaction together with its schema_migrations row. A journal
// written by a newer preempt is refused rather than partially understood.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	ms, err := loadMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	latest := ms[len(ms)-1].version
	for v := range applied {
		if v > latest {
			return errors.WithHint(
				errors.Newf("journal schema %s is newer than this binary supports (%s)", v, latest),
				"use the preempt release that wrote the journal, or point journal.path elsewhere")
		}
	}

	from := ""
	for v := range applied {
		if v > from {
			from = v
		}
	}

	var ran []string
	for _, m := range ms {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
		ran = append(ran, m.version)
	}

	if logger != nil {
		if len(ran) > 0 {
			logger.Infow("Journal schema migrated", "from", from, "to", latest, "applied", ran)
		} else {
			logger.Debugw("Journal schema up to date", "version", latest)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	stmt, err := migrations.ReadFile(path.Join("migrations", m.file))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", m.file)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(string(stmt)); err != nil {
		return errors.Wrapf(err, "apply journal schema %s", m.file)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return errors.Wrapf(err, "record journal schema %s", m.version)
	}
	return errors.Wrapf(tx.Commit(), "commit journal schema %s", m.version)
}
