package swapdb

import (
	"database/sql"
	"fmt"
	"net/url"

	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	"github.com/boltz-exchange/swapd/swapdb/sqlschema"
)

const sqliteOptionPrefix = "_pragma"

// SqliteConfig holds the connection parameters for the embedded SQLite swap
// store, used for single-node or test deployments.
type SqliteConfig struct {
	SkipMigrations   bool   `long:"skipmigrations" description:"Skip applying migrations on startup."`
	DatabaseFileName string `long:"dbfile" description:"The full path to the database file."`
}

// NewSqliteStore opens a SQLite-backed Store, applying pending migrations
// unless SkipMigrations is set.
func NewSqliteStore(cfg *SqliteConfig) (*BaseDB, error) {
	pragmas := url.Values{}
	for _, p := range []string{
		"foreign_keys=on", "journal_mode=WAL", "busy_timeout=5000",
	} {
		pragmas.Add(sqliteOptionPrefix, p)
	}

	dsn := fmt.Sprintf("%v?%v", cfg.DatabaseFileName, pragmas.Encode())

	rawDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// modernc.org/sqlite doesn't support concurrent writers well, so we
	// serialize all connections through one to avoid "database is
	// locked" errors under load.
	rawDB.SetMaxOpenConns(1)

	if !cfg.SkipMigrations {
		driver, err := sqlitemigrate.WithInstance(
			rawDB, &sqlitemigrate.Config{},
		)
		if err != nil {
			return nil, err
		}

		if err := sqlschema.Apply(driver, "swapd", "sqlite"); err != nil {
			return nil, fmt.Errorf("applying migrations: %w", err)
		}
	}

	return &BaseDB{DB: rawDB, dialect: "sqlite"}, nil
}
