package rename

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sentry "github.com/getsentry/sentry-go"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/dontpanic"
	"gitlab.com/gitlab-org/rename-project/internal/events"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// Renamer executes project renames.
type Renamer struct {
	fs       FilesystemStore
	projects ProjectCache
	metadata MetadataStore
	index    SearchIndex

	changes       ChangeProjectCache
	publisher     events.Publisher
	replicator    Replicator
	auditor       Auditor
	preconditions *Preconditions

	pluginName   string
	replica      bool
	changeLimit  int
	warningLimit int
	indexThreads int

	steps    [stepCount]step
	reverter *Reverter
	pool     *indexPool
	metrics  *metrics
	inflight sync.WaitGroup
}

// Option configures a Renamer.
type Option func(*Renamer)

// WithChangeProjectCache sets the cache invalidated for the renamed changes.
func WithChangeProjectCache(cache ChangeProjectCache) Option {
	return func(r *Renamer) { r.changes = cache }
}

// WithPublisher sets the publisher of rename-completed events.
func WithPublisher(publisher events.Publisher) Option {
	return func(r *Renamer) { r.publisher = publisher }
}

// WithReplicator sets the replicator a successful rename is handed off to.
func WithReplicator(replicator Replicator) Option {
	return func(r *Renamer) { r.replicator = replicator }
}

// WithAuditor sets the audit log of rename attempts.
func WithAuditor(auditor Auditor) Option {
	return func(r *Renamer) { r.auditor = auditor }
}

// WithPreconditions sets the checks run by Start.
func WithPreconditions(p *Preconditions) Option {
	return func(r *Renamer) { r.preconditions = p }
}

// WithConfig applies the rename settings of cfg.
func WithConfig(cfg config.Config) Option {
	return func(r *Renamer) {
		r.pluginName = cfg.PluginName
		r.replica = cfg.Replica
		r.changeLimit = cfg.ChangeLimit
		r.warningLimit = cfg.WarningLimit
		r.indexThreads = cfg.Index.Threads
	}
}

// NewRenamer returns a Renamer operating on the given stores.
func NewRenamer(fs FilesystemStore, projects ProjectCache, metadata MetadataStore, index SearchIndex, opts ...Option) *Renamer {
	r := &Renamer{
		fs:           fs,
		projects:     projects,
		metadata:     metadata,
		index:        index,
		changes:      noopChangeProjectCache{},
		publisher:    events.LogPublisher{},
		auditor:      noopAuditor{},
		pluginName:   config.DefaultPluginName,
		changeLimit:  config.DefaultChangeLimit,
		warningLimit: config.DefaultWarningLimit,
		indexThreads: config.DefaultIndexThreads,
		metrics:      newMetrics(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.preconditions == nil {
		// the default pattern always compiles
		r.preconditions, _ = NewPreconditions(fs, ".+", config.DefaultProjects)
	}

	r.pool = newIndexPool(r.indexThreads)
	r.steps = r.newSteps()
	r.reverter = &Reverter{steps: r.steps, metrics: r.metrics}

	return r
}

// Reverter returns the reverter compensating failed renames.
func (r *Renamer) Reverter() *Reverter {
	return r.reverter
}

// Wait blocks until all replications handed off by DoRename have finished.
func (r *Renamer) Wait() {
	r.inflight.Wait()
}

type auditOptions struct {
	NewName                     models.ProjectName `json:"name"`
	ContinueDespiteChangeVolume bool               `json:"continue_with_rename"`
	ReplicateOnly               bool               `json:"replication"`
}

// Start checks the preconditions of the request, snapshots the changes owned by the project and
// executes the rename. When the project owns more changes than the warning limit and the request
// doesn't ask to continue regardless, confirm decides whether to go on. Every attempt is
// recorded in the audit log.
func (r *Renamer) Start(ctx context.Context, req Request, pm ProgressMonitor, confirm Confirmer) error {
	err := r.start(ctx, req, orNoop(pm), confirm)

	r.auditor.OnRename(req.User, req.Old.String(), auditOptions{
		NewName:                     req.New,
		ContinueDespiteChangeVolume: req.ContinueDespiteChangeVolume,
		ReplicateOnly:               req.ReplicateOnly,
	}, err)

	return err
}

func (r *Renamer) start(ctx context.Context, req Request, pm ProgressMonitor, confirm Confirmer) error {
	replicaMode := r.replicaMode(req)

	pm.BeginTask("Checking preconditions", 0)
	err := r.preconditions.Check(ctx, req, replicaMode)
	pm.Close()
	if err != nil {
		return err
	}

	if replicaMode {
		return r.DoRename(ctx, req, nil, pm)
	}

	pm.BeginTask("Retrieving the list of changes from DB", 0)
	changeIDs, err := r.metadata.ChangeIDs(ctx, req.Old)
	pm.Close()
	if err != nil {
		return fmt.Errorf("list changes of %q: %w", req.Old, err)
	}

	ctxlogrus.Extract(ctx).WithFields(map[string]interface{}{
		"old_project":  req.Old,
		"change_count": len(changeIDs),
	}).Debug("retrieved changes of project")

	if len(changeIDs) > r.changeLimit {
		return fmt.Errorf("%w: project %s has %d changes, the limit is %d",
			ErrTooManyChanges, req.Old, len(changeIDs), r.changeLimit)
	}

	if len(changeIDs) > r.warningLimit && !req.ContinueDespiteChangeVolume {
		ok, err := r.confirm(ctx, confirm, req, len(changeIDs))
		if err != nil {
			return fmt.Errorf("confirm rename: %w", err)
		}
		if !ok {
			ctxlogrus.Extract(ctx).Debug(ErrCancelled.Error())
			return ErrCancelled
		}
	}

	return r.DoRename(ctx, req, changeIDs, pm)
}

func (r *Renamer) confirm(ctx context.Context, confirm Confirmer, req Request, changes int) (bool, error) {
	if confirm == nil {
		return false, nil
	}

	return confirm.Confirm(ctx, fmt.Sprintf(
		"%s has %d changes, renaming may take a while. Do you want to continue? [y/N]",
		req.Old, changes,
	))
}

func (r *Renamer) replicaMode(req Request) bool {
	return r.replica || req.ReplicateOnly
}

// plan returns the steps executed for the request.
func (r *Renamer) plan(req Request) []step {
	if r.replicaMode(req) {
		return r.steps[:Filesystem+1]
	}
	return r.steps[:]
}

// DoRename executes the steps of the rename in order. If a step fails, the completed steps are
// reverted and the step failure is returned, or a *RevertFailure if reverting failed as well.
// Once started the rename is not cancellable: the cancellation of ctx is ignored.
//
// After a successful rename the cached owners of changeIDs are invalidated, a rename-completed
// event is published and the rename is handed off to the replicator in the background. None of
// these affect the returned result.
func (r *Renamer) DoRename(ctx context.Context, req Request, changeIDs []models.ChangeID, pm ProgressMonitor) error {
	ctx = context.WithoutCancel(ctx)
	pm = orNoop(pm)

	span, ctx := opentracing.StartSpanFromContext(ctx, "rename.DoRename")
	defer span.Finish()
	span.SetTag("old_project", req.Old.String())
	span.SetTag("new_project", req.New.String())

	logger := ctxlogrus.Extract(ctx).WithFields(map[string]interface{}{
		"old_project": req.Old,
		"new_project": req.New,
	})
	ctx = ctxlogrus.ToContext(ctx, logger)

	var state SagaState
	for _, s := range r.plan(req) {
		if err := r.apply(ctx, s, changeIDs, req.Old, req.New, pm); err != nil {
			ext.Error.Set(span, true)
			return r.fail(ctx, state, &StepFailure{Step: s.kind, Cause: err}, changeIDs, req, pm)
		}
		state = state.With(s.kind)
	}

	r.metrics.sagaTotal.WithLabelValues("success").Inc()

	if r.replicaMode(req) {
		logger.Info("renamed replicated project")
		return nil
	}

	r.changes.InvalidateAll(changeIDs)

	if err := r.publisher.Publish(ctx, events.NewEvent(r.pluginName, req.Old, req.New)); err != nil {
		logger.WithError(err).Error("publishing rename event failed")
	}

	r.handOff(ctx, req, pm)

	logger.Info("renamed project")
	return nil
}

func (r *Renamer) apply(ctx context.Context, s step, changeIDs []models.ChangeID, old, new models.ProjectName, pm ProgressMonitor) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "rename.step."+s.kind.String())
	defer span.Finish()

	timer := r.metrics.stepTimer(s.kind, "forward")
	defer timer()

	if err := s.forward(ctx, changeIDs, old, new, pm); err != nil {
		ext.Error.Set(span, true)
		return err
	}
	return nil
}

func (r *Renamer) fail(ctx context.Context, state SagaState, failure *StepFailure, changeIDs []models.ChangeID, req Request, pm ProgressMonitor) error {
	logger := ctxlogrus.Extract(ctx).WithError(failure.Cause).WithField("step", failure.Step)
	if last, ok := state.Last(); ok {
		logger.WithField("last_successful_step", last).Error("renaming procedure failed")
	} else {
		logger.Error("renaming procedure failed")
	}

	if err := r.reverter.PerformRevert(ctx, state, changeIDs, req.Old, req.New, pm); err != nil {
		ctxlogrus.Extract(ctx).WithError(err).Error("failed to revert renaming procedure")
		revertFailure := &RevertFailure{OriginalCause: failure, RevertCause: err}
		sentry.CaptureException(revertFailure)
		r.metrics.sagaTotal.WithLabelValues("revert_failed").Inc()
		return revertFailure
	}

	r.metrics.sagaTotal.WithLabelValues("reverted").Inc()
	return failure
}

func (r *Renamer) handOff(ctx context.Context, req Request, pm ProgressMonitor) {
	if r.replicator == nil {
		return
	}

	r.inflight.Add(1)
	dontpanic.Go(func() {
		defer r.inflight.Done()
		r.replicator.Replicate(ctx, req, pm)
	})
}

// IsRevertFailure reports whether err signals a rename needing manual recovery.
func IsRevertFailure(err error) bool {
	var revertFailure *RevertFailure
	return errors.As(err, &revertFailure)
}
