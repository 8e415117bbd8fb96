package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/datastore/glsql"
)

type subcmd interface {
	FlagSet() *flag.FlagSet
	Exec(ctx context.Context, flags *flag.FlagSet, config config.Config) error
}

const sentryFlushTimeout = 2 * time.Second

var subcommands = map[string]subcmd{
	renameCmdName:           newRenameSubcommand(os.Stdin, os.Stdout),
	serveCmdName:            &serveSubcommand{},
	sqlPingCmdName:          &sqlPingSubcommand{w: os.Stdout},
	sqlMigrateCmdName:       &sqlMigrateSubcommand{w: os.Stdout},
	sqlMigrateStatusCmdName: &sqlMigrateStatusSubcommand{w: os.Stdout},
}

// subCommand returns an exit code, to be fed into os.Exit. Arguments not naming a subcommand are
// passed to the rename subcommand.
func subCommand(conf config.Config, arg0 string, argRest []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	subcmd, ok := subcommands[arg0]
	if !ok {
		subcmd, argRest = subcommands[renameCmdName], append([]string{arg0}, argRest...)
	}

	flags := subcmd.FlagSet()

	if err := flags.Parse(argRest); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	if err := subcmd.Exec(ctx, flags, conf); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	return 0
}

func openDB(ctx context.Context, conf config.DB) (*sql.DB, func(), error) {
	db, err := glsql.OpenDB(ctx, conf)
	if err != nil {
		return nil, nil, fmt.Errorf("sql open: %v", err)
	}

	clean := func() {
		if err := db.Close(); err != nil {
			printfErr("sql close: %v\n", err)
		}
	}

	return db, clean, nil
}

func printfErr(format string, a ...interface{}) (int, error) {
	return fmt.Fprintf(os.Stderr, format, a...)
}
