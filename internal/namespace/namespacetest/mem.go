// Package namespacetest provides an in-memory inode table for tests.
package namespacetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hopsworks/expat/internal/namespace"
	"github.com/hopsworks/expat/internal/paths"
)

type pk struct {
	parent    int64
	name      string
	partition int64
}

// Mem is an inode table keyed the same way as the real one. Rows added with
// Add or MkdirAll get their partition from the HopsFS function, so lookups
// only succeed when the resolver computes the same key.
type Mem struct {
	mu     sync.Mutex
	part   namespace.Partitioner
	nextID int64
	byPK   map[pk]*namespace.Entry
	byID   map[int64]*namespace.Entry
	depth  map[int64]int
	// Lookups counts calls to Lookup, RootChild and ByID.
	Lookups int
}

// NewMem returns a table holding only the root.
func NewMem() *Mem {
	m := &Mem{
		part:   namespace.HopsPartitioner{RandomLevel: namespace.DefaultRandomLevel},
		nextID: namespace.RootID + 1,
		byPK:   map[pk]*namespace.Entry{},
		byID:   map[int64]*namespace.Entry{},
		depth:  map[int64]int{},
	}
	root := &namespace.Entry{ID: namespace.RootID, Name: "", IsDir: true}
	m.byID[root.ID] = root
	m.depth[root.ID] = 0
	return m
}

// Add inserts a child of parentID and returns it.
func (m *Mem) Add(parentID int64, name string, isDir bool) *namespace.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(parentID, name, isDir)
}

func (m *Mem) add(parentID int64, name string, isDir bool) *namespace.Entry {
	d, ok := m.depth[parentID]
	if !ok {
		panic(fmt.Sprintf("namespacetest: unknown parent %d", parentID))
	}
	part := m.part.Partition(parentID, name, d+1)
	if e, ok := m.byPK[pk{parentID, name, part}]; ok {
		return e
	}
	e := &namespace.Entry{ID: m.nextID, ParentID: parentID, Name: name, PartitionID: part, IsDir: isDir}
	m.nextID++
	m.byPK[pk{parentID, name, part}] = e
	m.byID[e.ID] = e
	m.depth[e.ID] = d + 1
	return e
}

// AddRaw inserts e as is, bypassing partition computation. Used to build
// corrupt fixtures.
func (m *Mem) AddRaw(e namespace.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := e
	m.byID[e.ID] = &cp
	m.byPK[pk{e.ParentID, e.Name, e.PartitionID}] = &cp
}

// MkdirAll creates every missing directory of p and returns the last one.
func (m *Mem) MkdirAll(p string) *namespace.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.byID[namespace.RootID]
	for _, name := range paths.Segments(p) {
		cur = m.add(cur.ID, name, true)
	}
	return cur
}

// Touch creates p as a file, creating parents as needed.
func (m *Mem) Touch(p string) *namespace.Entry {
	parent := m.MkdirAll(paths.Parent(p))
	return m.Add(parent.ID, paths.Base(p), false)
}

// Remove deletes the entry with id and everything below it.
func (m *Mem) Remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(id)
}

func (m *Mem) remove(id int64) {
	e, ok := m.byID[id]
	if !ok {
		return
	}
	for _, c := range m.byID {
		if c.ParentID == id && c.ID != id {
			m.remove(c.ID)
		}
	}
	delete(m.byPK, pk{e.ParentID, e.Name, e.PartitionID})
	delete(m.byID, id)
	delete(m.depth, id)
}

// Lookup implements namespace.Rows.
func (m *Mem) Lookup(_ context.Context, parentID int64, name string, partitionID int64) (*namespace.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups++
	if e, ok := m.byPK[pk{parentID, name, partitionID}]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, namespace.ErrNotFound
}

// RootChild implements namespace.Rows.
func (m *Mem) RootChild(ctx context.Context, name string) (*namespace.Entry, error) {
	return m.Lookup(ctx, namespace.RootID, name, m.part.Partition(namespace.RootID, name, 1))
}

// ByID implements namespace.Rows.
func (m *Mem) ByID(_ context.Context, id int64) (*namespace.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups++
	if e, ok := m.byID[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, namespace.ErrNotFound
}
