package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/connector"
	"github.com/gyaneshwarpardhi/compliance/internal/metrics"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// group is every rule that names the same data_source, in rule order.
type group struct {
	dataSource string
	location   string
	indices    []int // positions in the caller's rule slice
}

// plan groups rules by data_source, keeping the order in which each
// data_source first appears.
func plan(rules []rule.Rule, resolve func(string) string) []*group {
	byName := make(map[string]*group)
	var groups []*group
	for i, r := range rules {
		g, ok := byName[r.DataSource]
		if !ok {
			g = &group{dataSource: r.DataSource, location: resolve(r.DataSource)}
			byName[r.DataSource] = g
			groups = append(groups, g)
		}
		g.indices = append(g.indices, i)
	}
	return groups
}

// dataset is one location's load, performed at most once per run.
type dataset struct {
	once  sync.Once
	table connector.Table
	err   error
}

// datasetCache shares loads between groups whose data_source spellings
// resolve to the same location.
type datasetCache struct {
	loader  Loader
	metrics *metrics.Metrics

	mu    sync.Mutex
	items map[string]*dataset

	loaded   int
	failures int
}

func newDatasetCache(loader Loader, m *metrics.Metrics) *datasetCache {
	return &datasetCache{loader: loader, metrics: m, items: make(map[string]*dataset)}
}

func (c *datasetCache) get(ctx context.Context, location string) (connector.Table, error) {
	c.mu.Lock()
	d, ok := c.items[location]
	if !ok {
		d = &dataset{}
		c.items[location] = d
	}
	c.mu.Unlock()

	d.once.Do(func() {
		if err := ctx.Err(); err != nil {
			d.err = err
			return
		}
		start := time.Now()
		d.table, d.err = c.loader.Load(ctx, location)
		c.metrics.ObserveLoad(time.Since(start), d.err)

		c.mu.Lock()
		if d.err != nil {
			c.failures++
		} else {
			c.loaded++
		}
		c.mu.Unlock()
	})
	return d.table, d.err
}

func (c *datasetCache) counts() (loaded, failures int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded, c.failures
}
