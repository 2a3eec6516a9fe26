// Package searchtest provides an in-memory search.Client.
package searchtest

import (
	"context"
	"sort"
	"sync"

	"github.com/hopsworks/expat/internal/paths"
	"github.com/hopsworks/expat/internal/search"
)

// Mem keeps indices and canned search results in memory.
type Mem struct {
	mu      sync.Mutex
	indices map[string][]search.Hit
	totals  map[string]int64
	// Queries records every Search call as "index query".
	Queries []Query
	Calls   []string
}

// Query is one recorded search.
type Query struct {
	Index string
	Body  string
}

var _ search.Client = (*Mem)(nil)

// New returns a Mem holding the given indices.
func New(indices ...string) *Mem {
	m := &Mem{indices: map[string][]search.Hit{}, totals: map[string]int64{}}
	for _, i := range indices {
		m.indices[i] = nil
	}
	return m
}

// SetHits makes every search against index return hits.
func (m *Mem) SetHits(index string, hits ...search.Hit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range hits {
		hits[i].Index = index
	}
	m.indices[index] = hits
}

// SetTotal reports total matching documents for index, as if the search
// size had cut the hits short.
func (m *Mem) SetTotal(index string, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[index] = total
}

// Indices returns the existing index names, sorted.
func (m *Mem) Indices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.indices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CreateIndex implements search.Client.
func (m *Mem) CreateIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "create "+name)
	m.indices[name] = nil
	return nil
}

// DeleteIndex implements search.Client.
func (m *Mem) DeleteIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "delete "+name)
	if _, ok := m.indices[name]; !ok {
		return search.ErrIndexNotFound
	}
	delete(m.indices, name)
	return nil
}

// IndexExists implements search.Client.
func (m *Mem) IndexExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indices[name]
	return ok, nil
}

// ListIndices implements search.Client.
func (m *Mem) ListIndices(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.indices {
		if paths.MatchGlob(pattern, name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Search implements search.Client.
func (m *Mem) Search(_ context.Context, index, query string) (*search.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, Query{Index: index, Body: query})
	hits, ok := m.indices[index]
	if !ok {
		return nil, search.ErrIndexNotFound
	}
	total, ok := m.totals[index]
	if !ok {
		total = int64(len(hits))
	}
	return &search.Results{Total: total, Hits: append([]search.Hit(nil), hits...)}, nil
}
