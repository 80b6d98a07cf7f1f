package swapdb

import (
	"database/sql"
	"fmt"

	postgresmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"

	"github.com/boltz-exchange/swapd/swapdb/sqlschema"
)

const dsnTemplate = "postgres://%v:%v@%v:%d/%v?sslmode=%v"

// PostgresConfig holds the connection parameters for the Postgres-backed
// swap store.
type PostgresConfig struct {
	SkipMigrations     bool   `long:"skipmigrations" description:"Skip applying migrations on startup."`
	Host               string `long:"host" description:"Database server hostname."`
	Port               int    `long:"port" description:"Database server port."`
	User               string `long:"user" description:"Database user."`
	Password           string `long:"password" description:"Database user's password."`
	DBName             string `long:"dbname" description:"Database name to use."`
	MaxOpenConnections int    `long:"maxconnections" description:"Max open connections to keep alive to the database server."`
	RequireSSL         bool   `long:"requiressl" description:"Whether to require SSL when connecting to the server."`
}

func (c *PostgresConfig) dsn(hidePassword bool) string {
	sslMode := "disable"
	if c.RequireSSL {
		sslMode = "require"
	}

	password := c.Password
	if hidePassword {
		password = "****"
	}

	return fmt.Sprintf(
		dsnTemplate, c.User, password, c.Host, c.Port, c.DBName, sslMode,
	)
}

// NewPostgresStore opens a Postgres-backed Store, applying pending
// migrations unless SkipMigrations is set.
func NewPostgresStore(cfg *PostgresConfig) (*BaseDB, error) {
	log.Infof("Using Postgres database '%s'", cfg.dsn(true))

	rawDB, err := sql.Open("postgres", cfg.dsn(false))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConnections > 0 {
		rawDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	}

	if !cfg.SkipMigrations {
		driver, err := postgresmigrate.WithInstance(
			rawDB, &postgresmigrate.Config{},
		)
		if err != nil {
			return nil, err
		}

		if err := sqlschema.Apply(driver, cfg.DBName, "postgres"); err != nil {
			return nil, fmt.Errorf("applying migrations: %w", err)
		}
	}

	return &BaseDB{DB: rawDB, dialect: "postgres"}, nil
}
