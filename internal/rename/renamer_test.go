package rename

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"gitlab.com/gitlab-org/rename-project/internal/testhelper"
)

func TestDoRename_success(t *testing.T) {
	ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(testhelper.NewDiscardingLogEntry(t)))
	defer cancel()

	env := setupEnv(t, testConfig())

	req := Request{Old: "proj-a", New: "proj-b"}
	require.NoError(t, env.renamer.DoRename(ctx, req, testChangeIDs, nil))
	env.renamer.Wait()

	require.True(t, env.projectCache.Contains("proj-b"), "new project must be seeded")
	env.requireResolvesTo(t, "proj-b", "proj-a")

	for _, id := range testChangeIDs {
		owner, err := env.metadata.OwningProject(ctx, id)
		require.NoError(t, err)
		require.Equal(t, models.ProjectName("proj-b"), owner)

		_, cached := env.changeCache.Get(id)
		require.False(t, cached, "change %d must be invalidated", id)
	}

	require.Equal(t, []Request{req}, env.replicator.replicated())

	require.Len(t, env.publisher.events, 1)
	require.Equal(t, "proj-a:proj-b", env.publisher.events[0].Data)
	require.Equal(t, "rename-project", env.publisher.events[0].Plugin)
}

func TestDoRename_ignoresCancellation(t *testing.T) {
	ctx, cancel := testhelper.Context()
	cancel()

	env := setupEnv(t, testConfig())

	require.NoError(t, env.renamer.DoRename(ctx, Request{Old: "proj-a", New: "proj-b"}, testChangeIDs, nil))
	env.renamer.Wait()

	env.requireResolvesTo(t, "proj-b", "proj-a")
}

func TestDoRename_stepFailure(t *testing.T) {
	for _, tc := range []struct {
		desc string
		// failOn is the forward call failing
		failOn string
		step   StepKind
		// notAttempted lists forward calls of the failing step's successors
		notAttempted []string
	}{
		{
			desc:         "filesystem",
			failOn:       "fs.rename proj-a proj-b",
			step:         Filesystem,
			notAttempted: []string{"cache.seed proj-b", "metadata.retarget proj-b", "index 101 proj-b"},
		},
		{
			desc:         "cache",
			failOn:       "cache.seed proj-b",
			step:         Cache,
			notAttempted: []string{"metadata.retarget proj-b", "index 101 proj-b"},
		},
		{
			desc:         "metadata",
			failOn:       "metadata.retarget proj-b",
			step:         Metadata,
			notAttempted: []string{"index 101 proj-b", "index 102 proj-b", "index 103 proj-b"},
		},
		{
			desc:   "index",
			failOn: "index 102 proj-b",
			step:   Index,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(testhelper.NewDiscardingLogEntry(t)))
			defer cancel()

			env := setupEnv(t, testConfig())
			env.faults.failOn(tc.failOn)

			err := env.renamer.DoRename(ctx, Request{Old: "proj-a", New: "proj-b"}, testChangeIDs, nil)
			env.renamer.Wait()

			var failure *StepFailure
			require.True(t, errors.As(err, &failure), "expected a step failure, got %v", err)
			require.Equal(t, tc.step, failure.Step)
			require.True(t, errors.Is(err, errInjected))
			require.False(t, IsRevertFailure(err))

			for _, call := range tc.notAttempted {
				require.False(t, env.faults.called(call), "%q must not be attempted", call)
			}

			if tc.step == Index {
				// reindexing is not reverted as the step never completed: changes reindexed
				// before the failure stay under the new name
				require.NoError(t, env.index.Index(ctx, 101, "proj-a"))
				require.NoError(t, env.index.Index(ctx, 103, "proj-a"))
			}

			env.requireResolvesTo(t, "proj-a", "proj-b")
			require.Empty(t, env.replicator.replicated())
			require.Empty(t, env.publisher.events)

			for _, id := range testChangeIDs {
				_, cached := env.changeCache.Get(id)
				require.True(t, cached, "change %d must stay cached", id)
			}
		})
	}
}

func TestDoRename_metadataFailureRevertsFilesystemAndCache(t *testing.T) {
	ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(testhelper.NewDiscardingLogEntry(t)))
	defer cancel()

	env := setupEnv(t, testConfig())
	env.faults.failOn("metadata.retarget proj-b")

	err := env.renamer.DoRename(ctx, Request{Old: "proj-a", New: "proj-b"}, testChangeIDs, nil)

	var failure *StepFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, Metadata, failure.Step)
	require.EqualError(t, failure.Cause, "retarget changes: metadata.retarget proj-b: injected failure")

	require.Equal(t, []string{
		"fs.rename proj-a proj-b",
		"cache.evict proj-a",
		"cache.seed proj-b",
		"metadata.retarget proj-b",
		// compensation in forward order
		"fs.rename proj-b proj-a",
		"cache.evict proj-b",
		"cache.seed proj-a",
	}, env.faults.recorded())

	env.requireResolvesTo(t, "proj-a", "proj-b")
}

func TestDoRename_compensatesInForwardOrder(t *testing.T) {
	ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(testhelper.NewDiscardingLogEntry(t)))
	defer cancel()

	cfg := testConfig()
	cfg.Index.Threads = 1
	env := setupEnv(t, cfg)
	env.faults.failOn("index 101 proj-b")

	err := env.renamer.DoRename(ctx, Request{Old: "proj-a", New: "proj-b"}, testChangeIDs, nil)
	require.Error(t, err)

	calls := env.faults.recorded()
	var revert []string
	for i, call := range calls {
		if call == "fs.rename proj-b proj-a" {
			revert = calls[i:]
			break
		}
	}

	require.Equal(t, []string{
		"fs.rename proj-b proj-a",
		"cache.evict proj-b",
		"cache.seed proj-a",
		"metadata.retarget proj-a",
		"metadata.rewrite 1 proj-b proj-a",
		"metadata.rewrite 2 proj-b proj-a",
		"metadata.rewrite 3 proj-b proj-a",
	}, revert)
}

func TestDoRename_watchRewriteStopsAtFirstFailingAccount(t *testing.T) {
	ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(testhelper.NewDiscardingLogEntry(t)))
	defer cancel()

	env := setupEnv(t, testConfig())
	env.faults.failOn("metadata.rewrite 2 proj-a proj-b")

	err := env.renamer.DoRename(ctx, Request{Old: "proj-a", New: "proj-b"}, testChangeIDs, nil)

	var failure *StepFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, Metadata, failure.Step)

	require.False(t, env.faults.called("metadata.rewrite 3 proj-a proj-b"), "accounts after the failing one are not attempted")

	// The metadata step did not complete and is therefore not compensated: the account
	// migrated before the failure keeps watching the new name.
	watches, err := env.metadata.Watches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, watches, 1)
	require.Equal(t, models.ProjectName("proj-b"), watches[0].Project)

	for _, account := range []models.AccountID{2, 3} {
		watches, err := env.metadata.Watches(ctx, account)
		require.NoError(t, err)
		require.Len(t, watches, 1)
		require.Equal(t, models.ProjectName("proj-a"), watches[0].Project)
	}

	exists, err := env.store.Exists(ctx, "proj-a")
	require.NoError(t, err)
	require.True(t, exists, "filesystem step must be reverted")
}

func TestDoRename_revertFailure(t *testing.T) {
	ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(testhelper.NewDiscardingLogEntry(t)))
	defer cancel()

	env := setupEnv(t, testConfig())
	env.faults.failOn("metadata.retarget proj-b")
	env.faults.failOn("fs.rename proj-b proj-a")

	err := env.renamer.DoRename(ctx, Request{Old: "proj-a", New: "proj-b"}, testChangeIDs, nil)

	var revertFailure *RevertFailure
	require.True(t, errors.As(err, &revertFailure))
	require.True(t, IsRevertFailure(err))

	var failure *StepFailure
	require.True(t, errors.As(revertFailure.OriginalCause, &failure))
	require.Equal(t, Metadata, failure.Step)
	require.Contains(t, revertFailure.RevertCause.Error(), "revert filesystem step")

	require.False(t, env.faults.called("cache.evict proj-b"), "no compensation after a failing filesystem revert")
	require.False(t, env.faults.called("cache.seed proj-a"), "no compensation after a failing filesystem revert")

	exists, err := env.store.Exists(ctx, "proj-b")
	require.NoError(t, err)
	require.True(t, exists, "repository is left at the new location")
}

func TestDoRename_replicaMode(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		replica bool
		req     Request
	}{
		{desc: "replicate only request", req: Request{Old: "proj-a", New: "proj-b", ReplicateOnly: true}},
		{desc: "replica node", replica: true, req: Request{Old: "proj-a", New: "proj-b"}},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(testhelper.NewDiscardingLogEntry(t)))
			defer cancel()

			cfg := testConfig()
			cfg.Replica = tc.replica
			env := setupEnv(t, cfg)

			require.NoError(t, env.renamer.DoRename(ctx, tc.req, nil, nil))
			env.renamer.Wait()

			require.Equal(t, []string{"fs.rename proj-a proj-b"}, env.faults.recorded())

			exists, err := env.store.Exists(ctx, "proj-b")
			require.NoError(t, err)
			require.True(t, exists)

			ids, err := env.metadata.ChangeIDs(ctx, "proj-a")
			require.NoError(t, err)
			require.Equal(t, testChangeIDs, ids)

			require.Empty(t, env.replicator.replicated())
			require.Empty(t, env.publisher.events)
		})
	}
}
