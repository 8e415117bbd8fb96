// Package dontpanic provides function wrappers to ensure that wrapped code does not panic and
// cause program crashes.
//
// When should you use this package? Anytime you are running a function or
// goroutine where it isn't obvious whether it can or can't panic. This may
// be a higher risk in fire-and-forget goroutines whose failures nobody waits for.
package dontpanic

import (
	sentry "github.com/getsentry/sentry-go"
	"gitlab.com/gitlab-org/rename-project/internal/log"
)

// Try will wrap the provided function with a panic recovery. If a panic occurs,
// the recovered panic will be sent to Sentry and logged as an error.
// Returns `true` if no panic and `false` otherwise.
func Try(fn func()) bool { return catchAndLog(fn) }

// Go will run the provided function in a goroutine and recover from any
// panics.  If a panic occurs, the recovered panic will be sent to Sentry
// and logged as an error. Go is best used in fire-and-forget goroutines where
// observability is lost.
func Go(fn func()) { go Try(fn) }

var logger = log.Default()

func catchAndLog(fn func()) (normal bool) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		normal = false

		entry := logger
		// Recover is a no-op returning nil unless Sentry has been initialized.
		if id := sentry.CurrentHub().Recover(recovered); id != nil {
			entry = entry.WithField("sentry_id", *id)
		}
		entry.Errorf("dontpanic: recovered value: %+v", recovered)
	}()

	fn()
	return true
}
