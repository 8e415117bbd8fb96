package replication

import (
	"context"
	"fmt"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/rename"
)

// Result summarizes a propagation.
type Result struct {
	// Rounds is the number of rounds executed.
	Rounds int
	// Attempts counts the attempts made per target URL.
	Attempts map[string]int
	// Failed lists the targets which still failed after the last round, in target order.
	Failed []*Failure
}

// Coordinator propagates renames to a fixed set of replicas, retrying the failing ones for a
// bounded number of rounds.
type Coordinator struct {
	retries    int
	targets    []Target
	transports map[Scheme]Transport
	attempts   *prometheus.CounterVec
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTransport registers the transport used for targets of scheme.
func WithTransport(scheme Scheme, transport Transport) CoordinatorOption {
	return func(c *Coordinator) { c.transports[scheme] = transport }
}

// WithTargets sets the replicas Replicate propagates to.
func WithTargets(targets []Target) CoordinatorOption {
	return func(c *Coordinator) { c.targets = targets }
}

// NewCoordinator returns a coordinator executing at most retries rounds.
func NewCoordinator(retries int, opts ...CoordinatorOption) *Coordinator {
	if retries < 1 {
		retries = 1
	}

	c := &Coordinator{
		retries:    retries,
		transports: map[Scheme]Transport{},
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rename_project_replication_attempts_total",
				Help: "Total number of attempts to replicate a rename by scheme and result",
			},
			[]string{"scheme", "result"},
		),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewCoordinatorFromConfig returns a coordinator propagating to the replicas of cfg over SSH and
// HTTP(S).
func NewCoordinatorFromConfig(cfg config.Config) (*Coordinator, error) {
	targets, err := ParseTargets(cfg.Replication.URLs)
	if err != nil {
		return nil, err
	}

	httpTransport := NewHTTPTransport(cfg.Replication.HTTP, cfg.PluginName)
	opts := []CoordinatorOption{
		WithTargets(targets),
		WithTransport(SchemeHTTP, httpTransport),
		WithTransport(SchemeHTTPS, httpTransport),
	}

	for _, target := range targets {
		if target.Scheme != SchemeSSH {
			continue
		}

		sshTransport, err := NewSSHTransport(cfg.Replication, cfg.PluginName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTransport(SchemeSSH, sshTransport))
		break
	}

	return NewCoordinator(cfg.Replication.Retries, opts...), nil
}

// Replicate propagates the rename to the configured replicas.
func (c *Coordinator) Replicate(ctx context.Context, req rename.Request, pm rename.ProgressMonitor) {
	c.Propagate(ctx, req, c.targets, pm)
}

// Propagate renames the project on every target. Each round attempts all targets still failing
// concurrently; targets succeeding are never attempted again. Targets failing after the last
// round are logged as permanent failures. Failures never affect the caller: they are only
// logged and reported in the returned Result.
func (c *Coordinator) Propagate(ctx context.Context, req rename.Request, targets []Target, pm rename.ProgressMonitor) Result {
	if pm == nil {
		pm = rename.NoopMonitor{}
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "replication.Propagate")
	defer span.Finish()

	logger := ctxlogrus.Extract(ctx).WithFields(map[string]interface{}{
		"old_project": req.Old,
		"new_project": req.New,
	})
	ctx = ctxlogrus.ToContext(ctx, logger)

	pm.BeginTask(fmt.Sprintf("Replicating the rename of %s to %s", req.Old, req.New), len(targets))
	defer pm.Close()

	result := Result{Attempts: make(map[string]int, len(targets))}

	pending := targets
	failures := map[string]error{}
	for ; result.Rounds < c.retries && len(pending) > 0; result.Rounds++ {
		pending = c.tryRound(ctx, req, pending, result.Attempts, failures, pm)
	}

	for _, target := range pending {
		failure := &Failure{URL: target.URL, Cause: failures[target.URL]}
		result.Failed = append(result.Failed, failure)

		logger.WithError(failure.Cause).WithFields(map[string]interface{}{
			"replica":  target.URL,
			"attempts": result.Attempts[target.URL],
		}).Errorf("Failed to replicate the renaming of %s to %s on %s during %d attempts",
			req.Old, req.New, target.URL, result.Attempts[target.URL])
	}

	if len(result.Failed) > 0 {
		ext.Error.Set(span, true)
	}

	return result
}

// tryRound attempts the rename on every target and returns those which failed.
func (c *Coordinator) tryRound(ctx context.Context, req rename.Request, targets []Target, attempts map[string]int, failures map[string]error, pm rename.ProgressMonitor) []Target {
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		attempts[target.URL]++

		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			errs[i] = c.attempt(ctx, req, target)
		}(i, target)
	}
	wg.Wait()

	var failed []Target
	for i, target := range targets {
		if errs[i] != nil {
			ctxlogrus.Extract(ctx).WithError(errs[i]).WithField("replica", target.URL).
				Info("rescheduling a rename replication for retry")
			failures[target.URL] = errs[i]
			failed = append(failed, target)
			continue
		}

		pm.Update(1)
	}

	return failed
}

func (c *Coordinator) attempt(ctx context.Context, req rename.Request, target Target) (err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "replication.attempt")
	defer span.Finish()
	span.SetTag("replica", target.URL)

	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
			ext.Error.Set(span, true)
		}
		c.attempts.WithLabelValues(string(target.Scheme), result).Inc()
	}()

	transport, ok := c.transports[target.Scheme]
	if !ok {
		return fmt.Errorf("%w: no transport for %q", errUnsupportedScheme, target.Scheme)
	}

	return transport.Rename(ctx, target, req.Old, req.New)
}

// Describe returns all metric descriptors.
func (c *Coordinator) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, descs)
}

// Collect collects all metrics.
func (c *Coordinator) Collect(collector chan<- prometheus.Metric) {
	c.attempts.Collect(collector)
}
