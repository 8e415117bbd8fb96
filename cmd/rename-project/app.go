package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/gitlab-org/rename-project/internal/cache"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/datastore"
	"gitlab.com/gitlab-org/rename-project/internal/events"
	"gitlab.com/gitlab-org/rename-project/internal/index"
	"gitlab.com/gitlab-org/rename-project/internal/log"
	"gitlab.com/gitlab-org/rename-project/internal/rename"
	"gitlab.com/gitlab-org/rename-project/internal/replication"
	"gitlab.com/gitlab-org/rename-project/internal/storage"
)

// app holds the stores of the node and the renamer operating on them.
type app struct {
	renamer    *rename.Renamer
	collectors []prometheus.Collector
	closers    []func() error
}

// newApp wires the stores configured in conf. The returned app must be closed.
func newApp(ctx context.Context, conf config.Config) (_ *app, returnedErr error) {
	a := &app{}
	defer func() {
		if returnedErr != nil {
			a.Close()
		}
	}()

	store := storage.NewStore(conf.Storage.Path)

	projects, err := cache.NewProjectCache(conf.Cache.Size, store)
	if err != nil {
		return nil, err
	}

	changes, err := cache.NewChangeProjectCache(conf.Cache.ChangeProjectSize)
	if err != nil {
		return nil, err
	}

	var metadata datastore.MetadataStore = datastore.NewMemoryStore()
	if conf.NeedsSQL() {
		db, clean, err := openDB(ctx, conf.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { clean(); return nil })

		metadata = datastore.NewPostgresStore(db)
	} else {
		logger.Warn("no database configured, change metadata is kept in memory")
	}

	idx, err := index.Open(conf.Index, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, idx.Close)

	var publisher events.Publisher = events.LogPublisher{}
	if conf.Events.NATSURL != "" {
		natsPublisher, err := events.Connect(conf.Events.NATSURL, conf.Events.Subject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, natsPublisher.Close)

		publisher = natsPublisher
	}

	auditor, err := log.NewAuditor(conf.Logging.AuditFile)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	preconditions, err := rename.NewPreconditions(store, conf.RenameRegex, conf.DefaultProjects)
	if err != nil {
		return nil, err
	}

	opts := []rename.Option{
		rename.WithConfig(conf),
		rename.WithChangeProjectCache(changes),
		rename.WithPublisher(publisher),
		rename.WithAuditor(auditor),
		rename.WithPreconditions(preconditions),
	}

	a.collectors = append(a.collectors, projects, changes)

	if !conf.Replica && len(conf.Replication.URLs) > 0 {
		coordinator, err := replication.NewCoordinatorFromConfig(conf)
		if err != nil {
			return nil, err
		}

		opts = append(opts, rename.WithReplicator(coordinator))
		a.collectors = append(a.collectors, coordinator)
	}

	a.renamer = rename.NewRenamer(store, projects, metadata, idx, opts...)
	a.collectors = append(a.collectors, a.renamer)

	return a, nil
}

// Register registers the metrics of the app.
func (a *app) Register(registerer prometheus.Registerer) error {
	for _, c := range a.collectors {
		if err := registerer.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Close waits for pending replications and releases the stores.
func (a *app) Close() {
	if a.renamer != nil {
		a.renamer.Wait()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.WithError(err).Error("closing store")
		}
	}
}
