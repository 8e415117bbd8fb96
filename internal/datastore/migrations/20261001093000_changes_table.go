package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20261001093000_changes_table",
		Up: []string{`
CREATE TABLE changes (
	change_id BIGINT PRIMARY KEY,
	project TEXT NOT NULL,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`,
			`CREATE INDEX changes_project_idx ON changes (project)`,
		},
		Down: []string{"DROP TABLE changes"},
	}

	allMigrations = append(allMigrations, m)
}
