package testhelper

import (
	"fmt"
	"os"
	"testing"

	"gitlab.com/gitlab-org/rename-project/internal/log"
	"go.uber.org/goleak"
)

// RunOption is an option that can be passed to Run.
type RunOption func(*runConfig)

type runConfig struct {
	setup                  func() error
	disableGoroutineChecks bool
	ignoredGoroutines      []goleak.Option
}

// WithSetup allows the caller of Run to pass a setup function that will be called after global
// test state has been configured.
func WithSetup(setup func() error) RunOption {
	return func(cfg *runConfig) {
		cfg.setup = setup
	}
}

// WithIgnoredGoroutine tells the leak checker to ignore goroutines whose topmost function is
// fn. Libraries owning background workers that outlive a test (Badger, the embedded NATS server)
// need this.
func WithIgnoredGoroutine(fn string) RunOption {
	return func(cfg *runConfig) {
		cfg.ignoredGoroutines = append(cfg.ignoredGoroutines, goleak.IgnoreTopFunction(fn))
	}
}

// WithDisabledGoroutineChecker disables checking for leaked Goroutines after tests have run.
//
// Deprecated: This should not be used, but instead you should try to fix all Goroutine leakages.
func WithDisabledGoroutineChecker() RunOption {
	return func(cfg *runConfig) {
		cfg.disableGoroutineChecks = true
	}
}

// Run sets up required testing state and executes the given test suite. It can optionally receive a
// variable number of RunOptions.
func Run(m *testing.M, opts ...RunOption) {
	// Run tests in a separate function such that we can use deferred statements and still
	// (indirectly) call `os.Exit()` in case the test setup failed.
	if err := func() error {
		var cfg runConfig
		for _, opt := range opts {
			opt(&cfg)
		}

		configure()

		if cfg.setup != nil {
			if err := cfg.setup(); err != nil {
				return fmt.Errorf("error calling setup function: %w", err)
			}
		}

		if code := m.Run(); code != 0 {
			return fmt.Errorf("tests failed with exit code %d\n", code)
		}

		if !cfg.disableGoroutineChecks {
			if err := mustHaveNoGoroutines(cfg.ignoredGoroutines...); err != nil {
				return err
			}
		}

		return nil
	}(); err != nil {
		fmt.Printf("%s", err)
		os.Exit(1)
	}
}

// configure sets up the global test configuration.
func configure() {
	log.Configure(log.Loggers, "json", "panic")
}

func mustHaveNoGoroutines(opts ...goleak.Option) error {
	if err := goleak.Find(opts...); err != nil {
		return fmt.Errorf("goroutines running: %w\n", err)
	}
	return nil
}
