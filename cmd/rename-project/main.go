// Command rename-project renames projects consistently across the repository store, the project
// cache, the metadata database and the change index, and propagates the renames to the replicas
// of the node.
//
// # Rename
//
// The subcommand "rename" (the default when no subcommand is given) renames a project:
//
//	rename-project -config PATH_TO_CONFIG [rename] [-continue] [-replication] OLD NEW
//
// "-continue" skips the confirmation asked for projects owning more changes than the warning
// limit. "-replication" marks a rename received from another node: only the repository is moved.
// Flags may also follow the project names, as in the command replicas are sent over SSH:
//
//	rename-project OLD NEW --replication
//
// # Serve
//
// The subcommand "serve" exposes the REST endpoint receiving renames from other nodes and the
// Prometheus metrics:
//
//	rename-project -config PATH_TO_CONFIG serve
//
// # SQL Ping
//
// The subcommand "sql-ping" checks if the database configured in the config file is reachable:
//
//	rename-project -config PATH_TO_CONFIG sql-ping
//
// # SQL Migrate
//
// The subcommand "sql-migrate" applies any outstanding SQL migrations, "sql-migrate-status" shows
// which ones have been applied:
//
//	rename-project -config PATH_TO_CONFIG sql-migrate [-ignore-unknown=true|false]
//	rename-project -config PATH_TO_CONFIG sql-migrate-status
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	sentry "github.com/getsentry/sentry-go"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/log"
	"gitlab.com/gitlab-org/rename-project/internal/version"
)

// envConfig names the config file when -config is not passed.
const envConfig = "RENAME_PROJECT_CONFIG"

var (
	flagConfig  = flag.String("config", os.Getenv(envConfig), "Location for the config.toml")
	flagVersion = flag.Bool("version", false, "Print version and exit")
	logger      = log.Default()

	errNoConfigFile = errors.New("the config flag must be passed")
)

const progname = "rename-project"

func main() {
	flag.Usage = func() {
		cmds := []string{}
		for k := range subcommands {
			cmds = append(cmds, k)
		}
		sort.Strings(cmds)

		printfErr("Usage of %s:\n", progname)
		flag.PrintDefaults()
		printfErr("  subcommand\n")
		printfErr("\tOne of %s\n", strings.Join(cmds, ", "))
	}
	flag.Parse()

	// If invoked with -version
	if *flagVersion {
		fmt.Println(version.GetVersionString())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := initConfig()
	if err != nil {
		printfErr("%s: configuration error: %v\n", progname, err)
		os.Exit(1)
	}

	configure(conf)

	code := subCommand(conf, args[0], args[1:])
	sentry.Flush(sentryFlushTimeout)
	os.Exit(code)
}

func initConfig() (config.Config, error) {
	if *flagConfig == "" {
		return config.Config{}, errNoConfigFile
	}

	conf, err := config.FromFile(*flagConfig)
	if err != nil {
		return config.Config{}, fmt.Errorf("error reading config file: %v", err)
	}

	if err := conf.Validate(); err != nil {
		return config.Config{}, err
	}

	return conf, nil
}

func configure(conf config.Config) {
	log.Configure(log.Loggers, conf.Logging.Format, conf.Logging.Level)

	if err := configureSentry(version.GetVersion(), conf.Sentry); err != nil {
		logger.WithError(err).Warn("unable to initialize sentry client")
	}
}

func configureSentry(ver string, conf config.Sentry) error {
	if conf.DSN == "" {
		return nil
	}

	logger.Debug("using sentry logging")

	return sentry.Init(sentry.ClientOptions{
		Dsn:         conf.DSN,
		Release:     "v" + ver,
		Environment: conf.Environment,
	})
}
