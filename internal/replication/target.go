// Package replication propagates completed renames to the replicas of a node. Each replica is
// reached through the transport registered for the scheme of its URL.
package replication

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme identifies the transport used to reach a replica.
type Scheme string

const (
	// SchemeSSH runs the rename command on the replica over SSH.
	SchemeSSH Scheme = "ssh"
	// SchemeHTTP posts the rename to the REST endpoint of the replica.
	SchemeHTTP Scheme = "http"
	// SchemeHTTPS is SchemeHTTP over TLS.
	SchemeHTTPS Scheme = "https"
)

var errUnsupportedScheme = errors.New("unsupported replica scheme")

// Target is a replica a rename is propagated to.
type Target struct {
	URL    string
	Scheme Scheme
}

func (t Target) String() string {
	return t.URL
}

// ParseTargets converts configured replica URLs into targets.
func ParseTargets(urls []string) ([]Target, error) {
	targets := make([]Target, 0, len(urls))

	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse replica url %q: %w", raw, err)
		}

		scheme := Scheme(strings.ToLower(u.Scheme))
		switch scheme {
		case SchemeSSH, SchemeHTTP, SchemeHTTPS:
		default:
			return nil, fmt.Errorf("%w: %q", errUnsupportedScheme, raw)
		}

		if u.Host == "" {
			return nil, fmt.Errorf("replica url %q has no host", raw)
		}

		targets = append(targets, Target{URL: strings.TrimRight(raw, "/"), Scheme: scheme})
	}

	return targets, nil
}
