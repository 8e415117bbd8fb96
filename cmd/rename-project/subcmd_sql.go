package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/datastore"
	"gitlab.com/gitlab-org/rename-project/internal/datastore/glsql"
)

const (
	sqlPingCmdName          = "sql-ping"
	sqlMigrateCmdName       = "sql-migrate"
	sqlMigrateStatusCmdName = "sql-migrate-status"
	timeFmt                 = "2006-01-02T15:04:05"
)

type sqlPingSubcommand struct {
	w io.Writer
}

func (s *sqlPingSubcommand) FlagSet() *flag.FlagSet {
	return flag.NewFlagSet(sqlPingCmdName, flag.ContinueOnError)
}

func (s *sqlPingSubcommand) Exec(ctx context.Context, flags *flag.FlagSet, conf config.Config) error {
	const subCmd = progname + " " + sqlPingCmdName

	db, clean, err := openDB(ctx, conf.DB)
	if err != nil {
		return err
	}
	defer clean()

	if err := datastore.CheckPostgresVersion(ctx, db); err != nil {
		return fmt.Errorf("%s: fail: %v", subCmd, err)
	}

	fmt.Fprintf(s.w, "%s: OK\n", subCmd)
	return nil
}

type sqlMigrateSubcommand struct {
	w             io.Writer
	ignoreUnknown bool
}

func (cmd *sqlMigrateSubcommand) FlagSet() *flag.FlagSet {
	flags := flag.NewFlagSet(sqlMigrateCmdName, flag.ContinueOnError)
	flags.BoolVar(&cmd.ignoreUnknown, "ignore-unknown", true, "ignore unknown migrations (default is true)")
	return flags
}

func (cmd *sqlMigrateSubcommand) Exec(ctx context.Context, flags *flag.FlagSet, conf config.Config) error {
	const subCmd = progname + " " + sqlMigrateCmdName

	db, clean, err := openDB(ctx, conf.DB)
	if err != nil {
		return err
	}
	defer clean()

	n, err := glsql.Migrate(db, cmd.ignoreUnknown)
	if err != nil {
		return fmt.Errorf("%s: fail: %v", subCmd, err)
	}

	fmt.Fprintf(cmd.w, "%s: OK (applied %d migrations)\n", subCmd, n)
	return nil
}

type sqlMigrateStatusSubcommand struct {
	w io.Writer
}

func (s *sqlMigrateStatusSubcommand) FlagSet() *flag.FlagSet {
	return flag.NewFlagSet(sqlMigrateStatusCmdName, flag.ContinueOnError)
}

func (s *sqlMigrateStatusSubcommand) Exec(ctx context.Context, flags *flag.FlagSet, conf config.Config) error {
	db, clean, err := openDB(ctx, conf.DB)
	if err != nil {
		return err
	}
	defer clean()

	migrations, err := datastore.MigrateStatus(db)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(s.w)
	table.SetHeader([]string{"Migration", "Applied"})
	table.SetColWidth(60)

	// Display the rows in order of name
	var keys []string
	for k := range migrations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		m := migrations[k]
		applied := "no"

		if m.Unknown {
			applied = "unknown migration"
		} else if m.Migrated {
			applied = m.AppliedAt.Format(timeFmt)
		}

		table.Append([]string{k, applied})
	}

	table.Render()

	return nil
}
