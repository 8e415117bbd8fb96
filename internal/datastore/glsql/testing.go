package glsql

import (
	"database/sql"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/rename-project/internal/config"
)

const (
	advisoryLockIDDatabaseTemplate = 1931025871
	templateDatabase               = "rename_project_template"
)

// DB is a helper struct that should be used only for testing purposes.
type DB struct {
	*sql.DB
	// Name is a name of the database.
	Name string
}

// Truncate removes all data from the list of tables.
func (db DB) Truncate(t testing.TB, tables ...string) {
	t.Helper()

	for _, table := range tables {
		_, err := db.DB.Exec("DELETE FROM " + table)
		require.NoError(t, err, "database cleanup failed: %s", tables)
	}
}

// RequireRowsInTable verifies that `tname` table has `n` amount of rows in it.
func (db DB) RequireRowsInTable(t *testing.T, tname string, n int) {
	t.Helper()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+tname).Scan(&count))
	require.Equal(t, n, count, "unexpected amount of rows in table: %d instead of %d", count, n)
}

// TruncateAll removes all data from known set of tables.
func (db DB) TruncateAll(t testing.TB) {
	db.Truncate(t,
		"account_project_watches",
		"changes",
	)
}

// MustExec executes `q` with `args` and verifies there are no errors.
func (db DB) MustExec(t testing.TB, q string, args ...interface{}) {
	_, err := db.DB.Exec(q, args...)
	require.NoError(t, err)
}

// NewDB returns a wrapper around the database connection pool.
// Must be used only for testing.
// The new database with empty relations will be created for each call of this function.
// It uses env vars:
//
//	PGHOST - required, URL/socket/dir
//	PGPORT - required, binding port
//	PGUSER - optional, user - `$ whoami` would be used if not provided
//
// Once the test is completed the database will be dropped on test cleanup execution.
func NewDB(t testing.TB) DB {
	t.Helper()
	database := "rename_project_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	return DB{DB: initTestDB(t, database), Name: database}
}

// GetDBConfig returns the database configuration determined by
// environment variables.  See NewDB() for the list of variables.
func GetDBConfig(t testing.TB, database string) config.DB {
	host, hostFound := os.LookupEnv("PGHOST")
	require.True(t, hostFound, "PGHOST env var expected to be provided to connect to Postgres database")

	port, portFound := os.LookupEnv("PGPORT")
	require.True(t, portFound, "PGPORT env var expected to be provided to connect to Postgres database")
	portNumber, pErr := strconv.Atoi(port)
	require.NoError(t, pErr, "PGPORT must be a port number of the Postgres database listens for incoming connections")

	return config.DB{
		Host:    host,
		Port:    portNumber,
		DBName:  database,
		SSLMode: "disable",
		User:    os.Getenv("PGUSER"),
	}
}

func requireSQLOpen(t testing.TB, dbCfg config.DB) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", DSN(dbCfg))
	require.NoErrorf(t, err, "failed to connect to %q database", dbCfg.DBName)
	if !assert.NoErrorf(t, db.Ping(), "failed to communicate with %q database", dbCfg.DBName) {
		require.NoErrorf(t, db.Close(), "release connection to the %q database", dbCfg.DBName)
	}
	return db
}

func initTestDB(t testing.TB, database string) *sql.DB {
	t.Helper()

	dbCfg := GetDBConfig(t, "postgres")
	postgresDB := requireSQLOpen(t, dbCfg)
	defer func() { require.NoErrorf(t, postgresDB.Close(), "release connection to the %q database", dbCfg.DBName) }()

	// Acquire exclusive advisory lock to prevent other concurrent test from doing the same.
	_, err := postgresDB.Exec(`SELECT pg_advisory_lock($1)`, advisoryLockIDDatabaseTemplate)
	require.NoError(t, err, "not able to acquire lock for synchronisation")
	var advisoryUnlock func()
	advisoryUnlock = func() {
		require.True(t, scanSingleBool(t, postgresDB, `SELECT pg_advisory_unlock($1)`, advisoryLockIDDatabaseTemplate), "release advisory lock")
		advisoryUnlock = func() {}
	}
	defer func() { advisoryUnlock() }()

	if !databaseExist(t, postgresDB, templateDatabase) {
		_, err := postgresDB.Exec("CREATE DATABASE " + templateDatabase + " WITH ENCODING 'UTF8'")
		require.NoErrorf(t, err, "failed to create %q database", templateDatabase)
	}

	templateDBConf := GetDBConfig(t, templateDatabase)
	templateDB := requireSQLOpen(t, templateDBConf)

	if _, err := Migrate(templateDB, false); err != nil {
		// If database has unknown migration we try to re-create template database with
		// current migration. It may be caused by other code changes done in another branch.
		pErr := (*migrate.PlanError)(nil)
		require.Truef(t, errors.As(err, &pErr) && strings.EqualFold(pErr.ErrorMessage, "unknown migration in database"),
			"failed to run database migration on %q: %v", templateDatabase, err)

		require.NoErrorf(t, templateDB.Close(), "release connection to the %q database", templateDBConf.DBName)

		_, err = postgresDB.Exec("DROP DATABASE " + templateDatabase)
		require.NoErrorf(t, err, "failed to drop %q database", templateDatabase)
		_, err = postgresDB.Exec("CREATE DATABASE " + templateDatabase + " WITH ENCODING 'UTF8'")
		require.NoErrorf(t, err, "failed to create %q database", templateDatabase)

		templateDB = requireSQLOpen(t, templateDBConf)
		_, err = Migrate(templateDB, false)
		require.NoErrorf(t, err, "failed to run database migration on %q", templateDatabase)
	}

	require.NoErrorf(t, templateDB.Close(), "release connection to the %q database", templateDBConf.DBName)

	_, err = postgresDB.Exec(`CREATE DATABASE ` + database + ` TEMPLATE ` + templateDatabase)
	require.NoErrorf(t, err, "failed to create %q database", database)

	// Release advisory lock as soon as possible to unblock other tests from execution.
	advisoryUnlock()

	t.Cleanup(func() {
		postgresDB := requireSQLOpen(t, dbCfg)
		defer func() { require.NoErrorf(t, postgresDB.Close(), "release connection to the %q database", dbCfg.DBName) }()

		_, err := postgresDB.Exec("SELECT PG_TERMINATE_BACKEND(pid) FROM PG_STAT_ACTIVITY WHERE datname = '" + database + "'")
		require.NoError(t, err)

		_, err = postgresDB.Exec("DROP DATABASE " + database)
		require.NoErrorf(t, err, "failed to drop %q database", database)
	})

	dbCfg.DBName = database
	testDB := requireSQLOpen(t, dbCfg)
	t.Cleanup(func() {
		if err := testDB.Close(); !errors.Is(err, net.ErrClosed) {
			require.NoErrorf(t, err, "release connection to the %q database", dbCfg.DBName)
		}
	})
	return testDB
}

func databaseExist(t testing.TB, db *sql.DB, database string) bool {
	return scanSingleBool(t, db, `SELECT EXISTS(SELECT * FROM pg_database WHERE datname = $1)`, database)
}

func scanSingleBool(t testing.TB, db *sql.DB, query string, args ...interface{}) bool {
	var flag bool
	row := db.QueryRow(query, args...)
	require.NoError(t, row.Scan(&flag))
	return flag
}
