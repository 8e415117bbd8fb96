// Package config loads the TOML configuration of the rename-project service. Values from the file
// may be overridden through RENAME_PROJECT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
)

const (
	// DefaultPluginName is used as remote command name and as REST endpoint suffix.
	DefaultPluginName = "rename-project"
	// DefaultIndexThreads is the size of the reindexing worker pool.
	DefaultIndexThreads = 4
	// DefaultReplicationRetries is the number of propagation rounds.
	DefaultReplicationRetries = 3
	// DefaultTimeout is used for the connection and socket timeouts of both transports.
	DefaultTimeout = Duration(5 * time.Second)
	// DefaultChangeLimit is the largest change count a project may have to be renamed.
	DefaultChangeLimit = 5000
	// DefaultWarningLimit is the change count above which the user has to confirm the rename.
	DefaultWarningLimit = 5000
	// DefaultCacheSize is the default number of entries kept by each cache.
	DefaultCacheSize = 1024
	// DefaultEventSubject is the NATS subject rename-completed events are published on.
	DefaultEventSubject = "rename-project.renamed"
)

// DefaultProjects lists the projects which can never be renamed.
var DefaultProjects = []string{"All-Projects", "All-Users"}

var (
	errNoStoragePath     = errors.New("storage path must be set")
	errInvalidIndexPool  = errors.New("index threads must be >= 1")
	errInvalidRetries    = errors.New("replication retries must be >= 1")
	errInvalidChangeLim  = errors.New("change limit must be >= 1")
	errUnsupportedScheme = errors.New("unsupported replica url scheme")
)

// Duration is a time.Duration that is (un)marshalled from and to its string representation.
type Duration time.Duration

// Duration converts the type to time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText parses strings like "5s" or "1m30s".
func (d *Duration) UnmarshalText(text []byte) error {
	td, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// MarshalText returns the string representation of the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Logging contains logging configuration values
type Logging struct {
	Format string `toml:"format,omitempty" split_words:"true"`
	Level  string `toml:"level,omitempty" split_words:"true"`
	// AuditFile receives the rename_log audit lines. Stdout is used when empty.
	AuditFile string `toml:"audit_file,omitempty" split_words:"true"`
}

// Sentry contains the error reporting configuration.
type Sentry struct {
	DSN         string `toml:"dsn,omitempty"`
	Environment string `toml:"environment,omitempty"`
}

// Storage configures the on-disk repository store.
type Storage struct {
	Path string `toml:"path,omitempty"`
}

// Index configures the change search index.
type Index struct {
	// Threads is the number of workers reindexing changes concurrently.
	Threads int `toml:"threads,omitempty"`
	// Path is the directory of the index database. The index is kept in memory when empty.
	Path string `toml:"path,omitempty"`
}

// Cache configures the in-memory caches.
type Cache struct {
	Size              int `toml:"size,omitempty"`
	ChangeProjectSize int `toml:"change_project_size,omitempty" split_words:"true"`
}

// HTTP holds the credentials and timeouts used for HTTP replication. The same credentials
// protect the replica-side REST endpoint.
type HTTP struct {
	User              string   `toml:"user,omitempty"`
	Password          string   `toml:"password,omitempty"`
	ConnectionTimeout Duration `toml:"connection_timeout,omitempty" split_words:"true"`
	SocketTimeout     Duration `toml:"socket_timeout,omitempty" split_words:"true"`
}

// SSH holds the client settings used for SSH replication.
type SSH struct {
	User                  string   `toml:"user,omitempty"`
	Password              string   `toml:"password,omitempty"`
	IdentityFile          string   `toml:"identity_file,omitempty" split_words:"true"`
	KnownHostsFile        string   `toml:"known_hosts_file,omitempty" split_words:"true"`
	InsecureIgnoreHostKey bool     `toml:"insecure_ignore_host_key,omitempty" split_words:"true"`
	ConnectionTimeout     Duration `toml:"connection_timeout,omitempty" split_words:"true"`
	// SocketTimeout bounds the remote command once the session is established.
	SocketTimeout Duration `toml:"socket_timeout,omitempty" split_words:"true"`
}

// Replication configures propagation of renames to replica nodes.
type Replication struct {
	// Retries is the number of rounds failing replicas are attempted.
	Retries int `toml:"retries,omitempty"`
	// URLs are the base URLs of the replicas. Supported schemes are ssh, http and https.
	URLs []string `toml:"urls,omitempty"`
	// SSHReplicationFlag appends "--replication" to the remote command.
	SSHReplicationFlag *bool `toml:"ssh_replication_flag,omitempty" ignored:"true"`
	HTTP               HTTP  `toml:"http,omitempty"`
	SSH                SSH   `toml:"ssh,omitempty"`
}

// AppendReplicationFlag reports whether remote SSH commands carry the "--replication" suffix.
func (r Replication) AppendReplicationFlag() bool {
	return r.SSHReplicationFlag == nil || *r.SSHReplicationFlag
}

// DB holds Postgres client configuration data.
type DB struct {
	Host        string `toml:"host,omitempty"`
	Port        int    `toml:"port,omitempty"`
	User        string `toml:"user,omitempty"`
	Password    string `toml:"password,omitempty"`
	DBName      string `toml:"dbname,omitempty"`
	SSLMode     string `toml:"sslmode,omitempty"`
	SSLCert     string `toml:"sslcert,omitempty"`
	SSLKey      string `toml:"sslkey,omitempty"`
	SSLRootCert string `toml:"sslrootcert,omitempty"`
}

// Events configures publication of rename-completed events.
type Events struct {
	// NATSURL is the server events are published to. Events are only logged when empty.
	NATSURL string `toml:"nats_url,omitempty" envconfig:"nats_url"`
	Subject string `toml:"subject,omitempty"`
}

// Config is a container for everything found in the TOML config file
type Config struct {
	PluginName string `toml:"plugin_name,omitempty" split_words:"true"`
	// Replica marks this node as a replica: renames only move the repository on disk and are
	// never propagated further.
	Replica              bool     `toml:"replica,omitempty"`
	RenameRegex          string   `toml:"rename_regex,omitempty" split_words:"true"`
	ChangeLimit          int      `toml:"change_limit,omitempty" split_words:"true"`
	WarningLimit         int      `toml:"warning_limit,omitempty" split_words:"true"`
	DefaultProjects      []string `toml:"default_projects,omitempty" split_words:"true"`
	ListenAddr           string   `toml:"listen_addr,omitempty" split_words:"true"`
	PrometheusListenAddr string   `toml:"prometheus_listen_addr,omitempty" split_words:"true"`

	Storage     Storage     `toml:"storage,omitempty"`
	Index       Index       `toml:"index,omitempty"`
	Cache       Cache       `toml:"cache,omitempty"`
	Replication Replication `toml:"replication,omitempty"`
	DB          DB          `toml:"database,omitempty" envconfig:"database"`
	Events      Events      `toml:"events,omitempty"`
	Logging     Logging     `toml:"logging,omitempty"`
	Sentry      Sentry      `toml:"sentry,omitempty"`
}

// FromFile loads the config for the passed file path
func FromFile(filePath string) (Config, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return Load(f)
}

// Load initializes the Config from the reader and the environment.
// Environment variables take precedence over the file.
func Load(file io.Reader) (Config, error) {
	var cfg Config

	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("load toml: %v", err)
	}

	if err := envconfig.Process("rename_project", &cfg); err != nil {
		return Config{}, fmt.Errorf("envconfig: %v", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.PluginName == "" {
		c.PluginName = DefaultPluginName
	}

	if c.RenameRegex == "" {
		c.RenameRegex = ".+"
	}

	if c.ChangeLimit == 0 {
		c.ChangeLimit = DefaultChangeLimit
	}

	if c.WarningLimit == 0 {
		c.WarningLimit = DefaultWarningLimit
	}

	if c.DefaultProjects == nil {
		c.DefaultProjects = append([]string(nil), DefaultProjects...)
	}

	if c.Storage.Path != "" {
		c.Storage.Path = filepath.Clean(c.Storage.Path)
	}

	if c.Index.Threads == 0 {
		c.Index.Threads = DefaultIndexThreads
	}

	if c.Cache.Size == 0 {
		c.Cache.Size = DefaultCacheSize
	}

	if c.Cache.ChangeProjectSize == 0 {
		c.Cache.ChangeProjectSize = DefaultCacheSize
	}

	if c.Replication.Retries == 0 {
		c.Replication.Retries = DefaultReplicationRetries
	}

	c.Replication.URLs = NormalizeURLs(c.Replication.URLs)

	if c.Replication.HTTP.ConnectionTimeout == 0 {
		c.Replication.HTTP.ConnectionTimeout = DefaultTimeout
	}

	if c.Replication.HTTP.SocketTimeout == 0 {
		c.Replication.HTTP.SocketTimeout = DefaultTimeout
	}

	if c.Replication.SSH.ConnectionTimeout == 0 {
		c.Replication.SSH.ConnectionTimeout = DefaultTimeout
	}

	if c.Replication.SSH.SocketTimeout == 0 {
		c.Replication.SSH.SocketTimeout = DefaultTimeout
	}

	if c.Events.Subject == "" {
		c.Events.Subject = DefaultEventSubject
	}
}

// NormalizeURLs trims trailing slashes, drops empty entries and removes duplicates while keeping
// the configured order.
func NormalizeURLs(urls []string) []string {
	var normalized []string
	seen := make(map[string]struct{}, len(urls))

	for _, url := range urls {
		url = strings.TrimRight(strings.TrimSpace(url), "/")
		if url == "" {
			continue
		}

		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}

		normalized = append(normalized, url)
	}

	return normalized
}

// Validate establishes if the config is valid
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errNoStoragePath
	}

	if _, err := regexp.Compile(c.RenameRegex); err != nil {
		return fmt.Errorf("rename regex: %w", err)
	}

	if c.Index.Threads < 1 {
		return errInvalidIndexPool
	}

	if c.Replication.Retries < 1 {
		return errInvalidRetries
	}

	if c.ChangeLimit < 1 {
		return errInvalidChangeLim
	}

	for _, url := range c.Replication.URLs {
		switch {
		case strings.HasPrefix(url, "ssh://"), strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		default:
			return fmt.Errorf("%w: %q", errUnsupportedScheme, url)
		}
	}

	return nil
}

// NeedsSQL returns true if the metadata store is backed by Postgres.
func (c *Config) NeedsSQL() bool {
	return c.DB.Host != ""
}
