// Package sqlschema embeds the swap store's schema migrations. The schema is
// authored once in SQLite dialect and rewritten for Postgres at apply time,
// the same trick the teacher's loopdb package uses to keep a single set of
// migration files for both backends instead of maintaining two.
package sqlschema

import (
	"bytes"
	"embed"
	"io"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var sqliteFS embed.FS

var postgresReplacements = map[string]string{
	"INTEGER PRIMARY KEY": "SERIAL PRIMARY KEY",
	"BLOB":                "BYTEA",
	"TIMESTAMP":           "TIMESTAMPTZ",
}

// Apply runs every pending migration against the database behind driver.
// dialect selects which set of textual substitutions, if any, is applied to
// the embedded SQLite-flavoured schema before it's executed.
func Apply(driver database.Driver, dbName, dialect string) error {
	sourceFS, err := dialectFS(dialect)
	if err != nil {
		return err
	}

	source, err := iofs.New(sourceFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance(
		"iofs", source, dbName, driver,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

func dialectFS(dialect string) (fs.FS, error) {
	switch dialect {
	case "sqlite":
		return sqliteFS, nil
	case "postgres":
		return &replacerFS{fs: sqliteFS, replacements: postgresReplacements}, nil
	default:
		return sqliteFS, nil
	}
}

// replacerFS wraps an embed.FS and rewrites file contents through a fixed
// set of string replacements on Open, so the same .sql source can serve more
// than one SQL dialect.
type replacerFS struct {
	fs           fs.FS
	replacements map[string]string
}

func (r *replacerFS) Open(name string) (fs.File, error) {
	f, err := r.fs.Open(name)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(name, ".sql") {
		return f, nil
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	text := string(raw)
	for from, to := range r.replacements {
		text = strings.ReplaceAll(text, from, to)
	}

	info, err := fs.Stat(r.fs, name)
	if err != nil {
		return nil, err
	}

	return &rewrittenFile{
		Reader: bytes.NewReader([]byte(text)),
		info:   info,
	}, nil
}

// rewrittenFile adapts an in-memory rewritten migration file to fs.File.
type rewrittenFile struct {
	*bytes.Reader
	info fs.FileInfo
}

func (r *rewrittenFile) Stat() (fs.FileInfo, error) { return r.info, nil }
func (r *rewrittenFile) Close() error                { return nil }
