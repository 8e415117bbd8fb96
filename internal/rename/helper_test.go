package rename

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/rename-project/internal/cache"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/datastore"
	"gitlab.com/gitlab-org/rename-project/internal/events"
	"gitlab.com/gitlab-org/rename-project/internal/index"
	"gitlab.com/gitlab-org/rename-project/internal/log"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"gitlab.com/gitlab-org/rename-project/internal/storage"
	"gitlab.com/gitlab-org/rename-project/internal/testhelper"
)

func TestMain(m *testing.M) {
	testhelper.Run(m,
		// started by the metrics package Badger depends on
		testhelper.WithIgnoredGoroutine("go.opencensus.io/stats/view.(*worker).start"),
	)
}

var errInjected = errors.New("injected failure")

// faults records the calls made to the stores and fails those registered with failOn.
type faults struct {
	mu     sync.Mutex
	calls  []string
	failAt map[string]error
}

func (f *faults) hook(format string, args ...interface{}) error {
	call := fmt.Sprintf(format, args...)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
	return f.failAt[call]
}

func (f *faults) failOn(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAt == nil {
		f.failAt = map[string]error{}
	}
	f.failAt[call] = fmt.Errorf("%s: %w", call, errInjected)
}

func (f *faults) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.failAt = nil
}

func (f *faults) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *faults) called(call string) bool {
	for _, c := range f.recorded() {
		if c == call {
			return true
		}
	}
	return false
}

type faultyFS struct {
	*storage.Store
	faults *faults
}

func (fs faultyFS) Rename(ctx context.Context, from, to models.ProjectName) error {
	if err := fs.faults.hook("fs.rename %s %s", from, to); err != nil {
		return err
	}
	return fs.Store.Rename(ctx, from, to)
}

type faultyProjectCache struct {
	*cache.ProjectCache
	faults *faults
}

func (c faultyProjectCache) Evict(name models.ProjectName) {
	_ = c.faults.hook("cache.evict %s", name)
	c.ProjectCache.Evict(name)
}

func (c faultyProjectCache) Seed(ctx context.Context, name models.ProjectName) error {
	if err := c.faults.hook("cache.seed %s", name); err != nil {
		return err
	}
	return c.ProjectCache.Seed(ctx, name)
}

type faultyMetadata struct {
	*datastore.MemoryStore
	faults *faults
}

func (m faultyMetadata) Retarget(ctx context.Context, ids []models.ChangeID, project models.ProjectName) error {
	if err := m.faults.hook("metadata.retarget %s", project); err != nil {
		return err
	}
	return m.MemoryStore.Retarget(ctx, ids, project)
}

func (m faultyMetadata) RewriteWatch(ctx context.Context, account models.AccountID, from, to models.ProjectName) error {
	if err := m.faults.hook("metadata.rewrite %d %s %s", account, from, to); err != nil {
		return err
	}
	return m.MemoryStore.RewriteWatch(ctx, account, from, to)
}

type faultyIndex struct {
	*index.BadgerIndex
	faults *faults
}

func (i faultyIndex) Index(ctx context.Context, id models.ChangeID, project models.ProjectName) error {
	if err := i.faults.hook("index %d %s", id, project); err != nil {
		return err
	}
	return i.BadgerIndex.Index(ctx, id, project)
}

type recordingReplicator struct {
	mu       sync.Mutex
	requests []Request
}

func (r *recordingReplicator) Replicate(_ context.Context, req Request, _ ProgressMonitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recordingReplicator) replicated() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type auditRecord struct {
	project string
	options interface{}
	err     error
}

type recordingAuditor struct {
	records []auditRecord
}

func (a *recordingAuditor) OnRename(_ log.AuditUser, project string, options interface{}, err error) {
	a.records = append(a.records, auditRecord{project: project, options: options, err: err})
}

type testEnv struct {
	faults       *faults
	store        *storage.Store
	projectCache *cache.ProjectCache
	metadata     *datastore.MemoryStore
	index        *index.BadgerIndex
	changeCache  *cache.ChangeProjectCache
	replicator   *recordingReplicator
	publisher    *recordingPublisher
	auditor      *recordingAuditor
	renamer      *Renamer
}

var (
	testChangeIDs = []models.ChangeID{101, 102, 103}
	testAccounts  = []models.AccountID{1, 2, 3}
)

// setupEnv creates project proj-a owning changes 101-103, watched by accounts 1-3 and present in
// every store.
func setupEnv(t *testing.T, cfg config.Config, opts ...Option) *testEnv {
	t.Helper()

	ctx, cancel := testhelper.Context()
	defer cancel()

	env := &testEnv{
		faults:     &faults{},
		store:      storage.NewStore(t.TempDir()),
		metadata:   datastore.NewMemoryStore(),
		replicator: &recordingReplicator{},
		publisher:  &recordingPublisher{},
		auditor:    &recordingAuditor{},
	}

	var err error
	env.projectCache, err = cache.NewProjectCache(16, env.store)
	require.NoError(t, err)

	env.changeCache, err = cache.NewChangeProjectCache(16)
	require.NoError(t, err)

	env.index, err = index.Open(config.Index{}, testhelper.NewDiscardingLogEntry(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, env.index.Close()) })

	require.NoError(t, env.store.Create(ctx, "proj-a"))
	require.NoError(t, env.projectCache.Seed(ctx, "proj-a"))
	for _, id := range testChangeIDs {
		require.NoError(t, env.metadata.AddChange(ctx, id, "proj-a"))
		require.NoError(t, env.index.Index(ctx, id, "proj-a"))
		env.changeCache.Add(id, "proj-a")
	}
	for _, account := range testAccounts {
		require.NoError(t, env.metadata.AddWatch(ctx, models.WatchEntry{
			Account:     account,
			Project:     "proj-a",
			NotifyTypes: []string{"new_changes"},
		}))
	}

	env.renamer = NewRenamer(
		faultyFS{Store: env.store, faults: env.faults},
		faultyProjectCache{ProjectCache: env.projectCache, faults: env.faults},
		faultyMetadata{MemoryStore: env.metadata, faults: env.faults},
		faultyIndex{BadgerIndex: env.index, faults: env.faults},
		append([]Option{
			WithConfig(cfg),
			WithChangeProjectCache(env.changeCache),
			WithReplicator(env.replicator),
			WithPublisher(env.publisher),
			WithAuditor(env.auditor),
		}, opts...)...,
	)

	return env
}

func testConfig() config.Config {
	return config.Config{
		PluginName:   config.DefaultPluginName,
		ChangeLimit:  config.DefaultChangeLimit,
		WarningLimit: config.DefaultWarningLimit,
		Index:        config.Index{Threads: 2},
	}
}

// requireResolvesTo verifies that the project is known under name in every store and unknown
// under gone.
func (env *testEnv) requireResolvesTo(t *testing.T, name, gone models.ProjectName) {
	t.Helper()

	ctx, cancel := testhelper.Context()
	defer cancel()

	exists, err := env.store.Exists(ctx, name)
	require.NoError(t, err)
	require.True(t, exists, "repository of %s", name)
	exists, err = env.store.Exists(ctx, gone)
	require.NoError(t, err)
	require.False(t, exists, "repository of %s", gone)

	require.False(t, env.projectCache.Contains(gone), "cache entry of %s", gone)
	project, err := env.projectCache.Get(ctx, name)
	require.NoError(t, err)
	require.Equal(t, name, project.Name)

	ids, err := env.metadata.ChangeIDs(ctx, name)
	require.NoError(t, err)
	require.Equal(t, testChangeIDs, ids)
	ids, err = env.metadata.ChangeIDs(ctx, gone)
	require.NoError(t, err)
	require.Empty(t, ids)

	accounts, err := env.metadata.WatchingAccounts(ctx, name)
	require.NoError(t, err)
	require.Equal(t, testAccounts, accounts)

	ids, err = env.index.Query(ctx, name)
	require.NoError(t, err)
	require.Equal(t, testChangeIDs, ids)
	ids, err = env.index.Query(ctx, gone)
	require.NoError(t, err)
	require.Empty(t, ids)
}
