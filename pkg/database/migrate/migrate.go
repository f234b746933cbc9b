// Package migrate applies the embedded Postgres schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

const bootstrapVersion = "000"

// Open connects through database/sql for schema work
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return db, nil
}

// Files returns the embedded migration file names in apply order
func Files() ([]string, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Up applies every migration not yet recorded in schema_migrations.
// It returns the number of migrations applied.
func Up(ctx context.Context, db *sql.DB, log zerolog.Logger) (int, error) {
	files, err := Files()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, filename := range files {
		version := strings.Split(filename, "_")[0]

		if version != bootstrapVersion {
			var exists bool
			err := db.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
			).Scan(&exists)
			if err != nil {
				return applied, errors.Wrapf(err, "check %s", filename)
			}
			if exists {
				log.Debug().Str("migration", filename).Msg("Skipping migration (already applied)")
				continue
			}
		}

		body, err := migrations.ReadFile(path.Join("migrations", filename))
		if err != nil {
			return applied, errors.Wrapf(err, "read %s", filename)
		}

		log.Info().Str("migration", filename).Str("version", version).Msg("Applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, errors.Wrapf(err, "begin tx for %s", filename)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return applied, errors.Wrapf(err, "execute %s", filename)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING", version,
		); err != nil {
			_ = tx.Rollback()
			return applied, errors.Wrapf(err, "record %s", filename)
		}
		if err := tx.Commit(); err != nil {
			return applied, errors.Wrapf(err, "commit %s", filename)
		}
		applied++
	}

	log.Info().Int("applied", applied).Int("total_migrations", len(files)).Msg("Migrations complete")
	return applied, nil
}
