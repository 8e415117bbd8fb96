// Package cache holds the in-memory caches touched by a rename: the project cache keyed by
// project name and the short-lived cache resolving change ids to their owning project.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// ProjectLoader resolves a project from its backing store.
type ProjectLoader interface {
	Load(ctx context.Context, name models.ProjectName) (models.Project, error)
}

func newAccessCounter(cache string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "rename_project_cache_access_total",
			Help:        "Total number of cache access operations by cache and access type",
			ConstLabels: prometheus.Labels{"cache": cache},
		},
		[]string{"type"},
	)
}

// ProjectCache is an LRU cache of projects keyed by name.
type ProjectCache struct {
	loader           ProjectLoader
	cache            *lru.Cache
	cacheAccessTotal *prometheus.CounterVec
}

// NewProjectCache returns a ProjectCache holding at most size projects. Misses are resolved
// through loader.
func NewProjectCache(size int, loader ProjectLoader) (*ProjectCache, error) {
	c := &ProjectCache{
		loader:           loader,
		cacheAccessTotal: newAccessCounter("project"),
	}

	cache, err := lru.NewWithEvict(size, func(key interface{}, value interface{}) {
		c.cacheAccessTotal.WithLabelValues("evict").Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("project cache: %w", err)
	}
	c.cache = cache

	return c, nil
}

// Evict drops the cached entry of the project.
func (c *ProjectCache) Evict(name models.ProjectName) {
	c.cache.Remove(name)
}

// Seed loads the project from the backing store and caches it.
func (c *ProjectCache) Seed(ctx context.Context, name models.ProjectName) error {
	project, err := c.loader.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("seed project cache with %q: %w", name, err)
	}

	c.cache.Add(name, project)
	c.cacheAccessTotal.WithLabelValues("populate").Inc()
	return nil
}

// Get returns the project, loading and caching it on a miss.
func (c *ProjectCache) Get(ctx context.Context, name models.ProjectName) (models.Project, error) {
	if val, found := c.cache.Get(name); found {
		c.cacheAccessTotal.WithLabelValues("hit").Inc()
		return val.(models.Project), nil
	}

	c.cacheAccessTotal.WithLabelValues("miss").Inc()
	project, err := c.loader.Load(ctx, name)
	if err != nil {
		return models.Project{}, err
	}

	c.cache.Add(name, project)
	c.cacheAccessTotal.WithLabelValues("populate").Inc()
	return project, nil
}

// Contains reports whether the project is cached without touching the backing store.
func (c *ProjectCache) Contains(name models.ProjectName) bool {
	return c.cache.Contains(name)
}

// Describe returns all metric descriptors.
func (c *ProjectCache) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, descs)
}

// Collect collects all metrics.
func (c *ProjectCache) Collect(collector chan<- prometheus.Metric) {
	c.cacheAccessTotal.Collect(collector)
}

// ChangeProjectCache caches the owning project of recently resolved changes.
type ChangeProjectCache struct {
	cache            *lru.Cache
	cacheAccessTotal *prometheus.CounterVec
}

// NewChangeProjectCache returns a ChangeProjectCache holding at most size entries.
func NewChangeProjectCache(size int) (*ChangeProjectCache, error) {
	c := &ChangeProjectCache{cacheAccessTotal: newAccessCounter("change_project")}

	cache, err := lru.NewWithEvict(size, func(key interface{}, value interface{}) {
		c.cacheAccessTotal.WithLabelValues("evict").Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("change project cache: %w", err)
	}
	c.cache = cache

	return c, nil
}

// Add records the owning project of the change.
func (c *ChangeProjectCache) Add(id models.ChangeID, project models.ProjectName) {
	c.cache.Add(id, project)
	c.cacheAccessTotal.WithLabelValues("populate").Inc()
}

// Get returns the cached owning project of the change.
func (c *ChangeProjectCache) Get(id models.ChangeID) (models.ProjectName, bool) {
	val, found := c.cache.Get(id)
	if !found {
		c.cacheAccessTotal.WithLabelValues("miss").Inc()
		return "", false
	}

	c.cacheAccessTotal.WithLabelValues("hit").Inc()
	return val.(models.ProjectName), true
}

// InvalidateAll drops the entries of all given changes.
func (c *ChangeProjectCache) InvalidateAll(ids []models.ChangeID) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

// Describe returns all metric descriptors.
func (c *ChangeProjectCache) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, descs)
}

// Collect collects all metrics.
func (c *ChangeProjectCache) Collect(collector chan<- prometheus.Metric) {
	c.cacheAccessTotal.Collect(collector)
}
