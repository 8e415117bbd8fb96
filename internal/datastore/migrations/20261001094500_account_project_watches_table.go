package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20261001094500_account_project_watches_table",
		Up: []string{`
CREATE TABLE account_project_watches (
	account_id BIGINT NOT NULL,
	project TEXT NOT NULL,
	filter TEXT NOT NULL DEFAULT '',
	notify_types TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (account_id, project, filter)
)`,
			`CREATE INDEX account_project_watches_project_idx ON account_project_watches (project)`,
		},
		Down: []string{"DROP TABLE account_project_watches"},
	}

	allMigrations = append(allMigrations, m)
}
