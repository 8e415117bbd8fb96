package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"gitlab.com/gitlab-org/rename-project/internal/testhelper"
)

var errNotFound = errors.New("not found")

type loaderFunc func(ctx context.Context, name models.ProjectName) (models.Project, error)

func (fn loaderFunc) Load(ctx context.Context, name models.ProjectName) (models.Project, error) {
	return fn(ctx, name)
}

func staticLoader(names ...models.ProjectName) loaderFunc {
	return func(_ context.Context, name models.ProjectName) (models.Project, error) {
		for _, n := range names {
			if n == name {
				return models.Project{Name: name, Path: "/repos/" + name.String() + ".git"}, nil
			}
		}
		return models.Project{}, errNotFound
	}
}

func TestProjectCache(t *testing.T) {
	t.Run("miss -> populate -> hit", func(t *testing.T) {
		ctx, cancel := testhelper.Context()
		defer cancel()

		cache, err := NewProjectCache(10, staticLoader("proj-a"))
		require.NoError(t, err)

		project, err := cache.Get(ctx, "proj-a")
		require.NoError(t, err)
		require.Equal(t, models.Project{Name: "proj-a", Path: "/repos/proj-a.git"}, project)

		project, err = cache.Get(ctx, "proj-a")
		require.NoError(t, err)
		require.Equal(t, models.ProjectName("proj-a"), project.Name)

		require.NoError(t, testutil.CollectAndCompare(cache, strings.NewReader(`
			# HELP rename_project_cache_access_total Total number of cache access operations by cache and access type
			# TYPE rename_project_cache_access_total counter
			rename_project_cache_access_total{cache="project",type="hit"} 1
			rename_project_cache_access_total{cache="project",type="miss"} 1
			rename_project_cache_access_total{cache="project",type="populate"} 1
		`)))
	})

	t.Run("loader error is not cached", func(t *testing.T) {
		ctx, cancel := testhelper.Context()
		defer cancel()

		cache, err := NewProjectCache(10, staticLoader())
		require.NoError(t, err)

		_, err = cache.Get(ctx, "missing")
		require.Equal(t, errNotFound, err)
		require.False(t, cache.Contains("missing"))
	})

	t.Run("evict and seed", func(t *testing.T) {
		ctx, cancel := testhelper.Context()
		defer cancel()

		cache, err := NewProjectCache(10, staticLoader("proj-a", "proj-b"))
		require.NoError(t, err)

		require.NoError(t, cache.Seed(ctx, "proj-a"))
		require.True(t, cache.Contains("proj-a"))

		cache.Evict("proj-a")
		require.False(t, cache.Contains("proj-a"))

		require.NoError(t, cache.Seed(ctx, "proj-b"))
		require.True(t, cache.Contains("proj-b"))

		err = cache.Seed(ctx, "unknown")
		require.True(t, errors.Is(err, errNotFound))
		require.False(t, cache.Contains("unknown"))
	})

	t.Run("capacity eviction", func(t *testing.T) {
		ctx, cancel := testhelper.Context()
		defer cancel()

		cache, err := NewProjectCache(1, staticLoader("proj-a", "proj-b"))
		require.NoError(t, err)

		require.NoError(t, cache.Seed(ctx, "proj-a"))
		require.NoError(t, cache.Seed(ctx, "proj-b"))
		require.False(t, cache.Contains("proj-a"))

		require.NoError(t, testutil.CollectAndCompare(cache, strings.NewReader(`
			# HELP rename_project_cache_access_total Total number of cache access operations by cache and access type
			# TYPE rename_project_cache_access_total counter
			rename_project_cache_access_total{cache="project",type="evict"} 1
			rename_project_cache_access_total{cache="project",type="populate"} 2
		`)))
	})

	t.Run("invalid size", func(t *testing.T) {
		_, err := NewProjectCache(0, staticLoader())
		require.Error(t, err)
	})
}

func TestChangeProjectCache(t *testing.T) {
	cache, err := NewChangeProjectCache(10)
	require.NoError(t, err)

	cache.Add(101, "proj-a")
	cache.Add(102, "proj-a")
	cache.Add(200, "other")

	project, ok := cache.Get(101)
	require.True(t, ok)
	require.Equal(t, models.ProjectName("proj-a"), project)

	cache.InvalidateAll([]models.ChangeID{101, 102, 103})

	_, ok = cache.Get(101)
	require.False(t, ok)
	_, ok = cache.Get(102)
	require.False(t, ok)

	project, ok = cache.Get(200)
	require.True(t, ok)
	require.Equal(t, models.ProjectName("other"), project)

	require.NoError(t, testutil.CollectAndCompare(cache, strings.NewReader(`
		# HELP rename_project_cache_access_total Total number of cache access operations by cache and access type
		# TYPE rename_project_cache_access_total counter
		rename_project_cache_access_total{cache="change_project",type="evict"} 2
		rename_project_cache_access_total{cache="change_project",type="hit"} 2
		rename_project_cache_access_total{cache="change_project",type="miss"} 2
		rename_project_cache_access_total{cache="change_project",type="populate"} 3
	`)))
}
