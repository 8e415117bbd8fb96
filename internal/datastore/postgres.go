package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"gitlab.com/gitlab-org/rename-project/internal/datastore/glsql"
	"gitlab.com/gitlab-org/rename-project/internal/datastore/migrations"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// PostgresStore is a MetadataStore backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a PostgresStore using the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AddChange records the change as owned by the project.
func (s *PostgresStore) AddChange(ctx context.Context, id models.ChangeID, project models.ProjectName) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO changes (change_id, project) VALUES ($1, $2)
ON CONFLICT (change_id) DO UPDATE SET project = EXCLUDED.project, updated_at = NOW()
`, id, project)
	return err
}

// AddWatch records the watch entry, replacing any entry with the same account, project and filter.
func (s *PostgresStore) AddWatch(ctx context.Context, entry models.WatchEntry) error {
	notifyTypes := entry.NotifyTypes
	if notifyTypes == nil {
		notifyTypes = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO account_project_watches (account_id, project, filter, notify_types) VALUES ($1, $2, $3, $4)
ON CONFLICT (account_id, project, filter) DO UPDATE SET notify_types = EXCLUDED.notify_types
`, entry.Account, entry.Project, entry.Filter, pq.StringArray(notifyTypes))
	return err
}

// ChangeIDs returns the ids of the changes owned by the project in ascending order.
func (s *PostgresStore) ChangeIDs(ctx context.Context, project models.ProjectName) ([]models.ChangeID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT change_id FROM changes WHERE project = $1 ORDER BY change_id`, project)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var ids glsql.Int64Provider
	if err := glsql.ScanAll(rows, &ids); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var changeIDs []models.ChangeID
	for _, id := range ids.Values() {
		changeIDs = append(changeIDs, models.ChangeID(id))
	}
	return changeIDs, nil
}

// Retarget points the changes to the project. Nothing is modified if any change is unknown.
func (s *PostgresStore) Retarget(ctx context.Context, ids []models.ChangeID, project models.ProjectName) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	return s.tx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
UPDATE changes SET project = $2, updated_at = NOW()
WHERE change_id = ANY($1)
RETURNING change_id
`, pq.Int64Array(raw), project)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}

		var updated glsql.Int64Provider
		if err := glsql.ScanAll(rows, &updated); err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		if len(updated.Values()) == len(raw) {
			return nil
		}

		found := make(map[int64]struct{}, len(raw))
		for _, id := range updated.Values() {
			found[id] = struct{}{}
		}
		for _, id := range raw {
			if _, ok := found[id]; !ok {
				return ChangeNotFoundError{ID: models.ChangeID(id)}
			}
		}
		return nil
	})
}

// OwningProject returns the project owning the change.
func (s *PostgresStore) OwningProject(ctx context.Context, id models.ChangeID) (models.ProjectName, error) {
	var project string
	if err := s.db.QueryRowContext(ctx, `SELECT project FROM changes WHERE change_id = $1`, id).Scan(&project); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ChangeNotFoundError{ID: id}
		}
		return "", fmt.Errorf("scan: %w", err)
	}
	return models.ProjectName(project), nil
}

// WatchingAccounts returns the accounts watching the project in ascending order.
func (s *PostgresStore) WatchingAccounts(ctx context.Context, project models.ProjectName) ([]models.AccountID, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT account_id FROM account_project_watches WHERE project = $1 ORDER BY account_id
`, project)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var ids glsql.Int64Provider
	if err := glsql.ScanAll(rows, &ids); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var accounts []models.AccountID
	for _, id := range ids.Values() {
		accounts = append(accounts, models.AccountID(id))
	}
	return accounts, nil
}

// RewriteWatch moves the account's watch entries from one project to the other. The rewrite of a
// single account is transactional.
func (s *PostgresStore) RewriteWatch(ctx context.Context, account models.AccountID, from, to models.ProjectName) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO account_project_watches (account_id, project, filter, notify_types)
SELECT account_id, $3, filter, notify_types
FROM account_project_watches
WHERE account_id = $1 AND project = $2
ON CONFLICT (account_id, project, filter) DO UPDATE SET notify_types = EXCLUDED.notify_types
`, account, from, to); err != nil {
			return fmt.Errorf("add watch entries: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
DELETE FROM account_project_watches WHERE account_id = $1 AND project = $2
`, account, from); err != nil {
			return fmt.Errorf("remove watch entries: %w", err)
		}

		return nil
	})
}

// Watches returns the watch entries of the account ordered by project and filter.
func (s *PostgresStore) Watches(ctx context.Context, account models.AccountID) (_ []models.WatchEntry, err error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT project, filter, notify_types FROM account_project_watches
WHERE account_id = $1
ORDER BY project, filter
`, account)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	var entries []models.WatchEntry
	for rows.Next() {
		entry := models.WatchEntry{Account: account}
		var notifyTypes pq.StringArray
		if err := rows.Scan(&entry.Project, &entry.Filter, &notifyTypes); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entry.NotifyTypes = []string(notifyTypes)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *PostgresStore) tx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// MigrationStatusRow represents an entry in the schema migrations table.
// If the migration is in the database but is not listed, Unknown will be true.
type MigrationStatusRow struct {
	Migrated  bool
	Unknown   bool
	AppliedAt time.Time
}

// CheckPostgresVersion checks the server version of the Postgres DB.
func CheckPostgresVersion(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	var serverVersion int
	if err := db.QueryRowContext(ctx, "SHOW server_version_num").Scan(&serverVersion); err != nil {
		return fmt.Errorf("get postgres server version: %v", err)
	}

	// The minimum required Postgres server version is v11.0.
	if serverVersion < 11_00_00 {
		return fmt.Errorf("postgres server version too old: %d", serverVersion)
	}

	return nil
}

const sqlMigrateDialect = "postgres"

// MigrateStatus returns the status of database migrations. The key of the map
// indexes the migration ID.
func MigrateStatus(db *sql.DB) (map[string]*MigrationStatusRow, error) {
	migrationSet := migrate.MigrationSet{
		TableName: migrations.MigrationTableName,
	}

	records, err := migrationSet.GetMigrationRecords(db, sqlMigrateDialect)
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*MigrationStatusRow)

	for _, m := range migrations.All() {
		rows[m.Id] = &MigrationStatusRow{
			Migrated: false,
		}
	}

	for _, r := range records {
		if rows[r.Id] == nil {
			rows[r.Id] = &MigrationStatusRow{
				Unknown: true,
			}
		}

		rows[r.Id].Migrated = true
		rows[r.Id].AppliedAt = r.AppliedAt
	}

	return rows, nil
}
