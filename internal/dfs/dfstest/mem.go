// Package dfstest provides an in-memory namespace service for tests. Its
// directory tree is a namespacetest.Mem, so a resolver over Tree sees every
// directory the fake creates.
package dfstest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/namespace"
	"github.com/hopsworks/expat/internal/namespace/namespacetest"
	"github.com/hopsworks/expat/internal/paths"
)

// Node holds the metadata of one entry.
type Node struct {
	Owner  string
	Group  string
	Perm   os.FileMode
	ACL    []dfs.ACLEntry
	XAttrs map[string][]byte
	Data   []byte
}

// Mem is an in-memory dfs.Client.
type Mem struct {
	Tree *namespacetest.Mem

	mu      sync.Mutex
	nodes   map[int64]*Node
	groups  map[string]map[string]bool
	Calls   []string
	Failing map[string]error
}

var _ dfs.Client = (*Mem)(nil)

// New returns an empty namespace.
func New() *Mem {
	return &Mem{
		Tree:    namespacetest.NewMem(),
		nodes:   map[int64]*Node{},
		groups:  map[string]map[string]bool{},
		Failing: map[string]error{},
	}
}

func (m *Mem) record(op, target string) error {
	m.Calls = append(m.Calls, op+" "+target)
	if err, ok := m.Failing[op+" "+target]; ok {
		return err
	}
	return m.Failing[op]
}

func (m *Mem) lookup(path string) (*namespace.Entry, error) {
	e, err := namespace.NewResolver(m.Tree, nil).Resolve(context.Background(), path)
	if errors.Is(err, namespace.ErrNotFound) {
		return nil, &dfs.RemoteError{Exception: "FileNotFoundException", Message: "File does not exist: " + path}
	}
	return e, err
}

func (m *Mem) node(id int64) *Node {
	n, ok := m.nodes[id]
	if !ok {
		n = &Node{Perm: 0o755, XAttrs: map[string][]byte{}}
		m.nodes[id] = n
	}
	return n
}

// Node returns the metadata of path, or nil when path does not exist.
func (m *Mem) Node(path string) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(path)
	if err != nil {
		return nil
	}
	return m.node(e.ID)
}

// MkdirAll creates path with owner, group and permission, like a setup
// script would.
func (m *Mem) MkdirAll(path, owner, group string, perm os.FileMode) *namespace.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.Tree.MkdirAll(path)
	n := m.node(e.ID)
	n.Owner, n.Group, n.Perm = owner, group, perm
	return e
}

// WriteFile creates or replaces a file.
func (m *Mem) WriteFile(path string, data []byte) *namespace.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.Tree.Touch(path)
	n := m.node(e.ID)
	n.Data = append([]byte(nil), data...)
	n.Perm = 0o644
	return e
}

// Exists reports whether path exists.
func (m *Mem) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.lookup(path)
	return err == nil
}

// Members returns the sorted members of group and whether it exists.
func (m *Mem) Members(group string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.groups[group]
	var out []string
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, ok
}

// Stat implements dfs.FileSystem.
func (m *Mem) Stat(_ context.Context, path string) (*dfs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(path)
	if err != nil {
		return nil, err
	}
	n := m.node(e.ID)
	return &dfs.FileInfo{Path: path, Owner: n.Owner, Group: n.Group, Permission: n.Perm, IsDir: e.IsDir, Length: int64(len(n.Data))}, nil
}

// Mkdirs implements dfs.FileSystem.
func (m *Mem) Mkdirs(_ context.Context, path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("mkdirs", path); err != nil {
		return err
	}
	existed := true
	if _, err := m.lookup(path); err != nil {
		existed = false
	}
	e := m.Tree.MkdirAll(path)
	if !existed {
		m.node(e.ID).Perm = perm
	}
	return nil
}

func (m *Mem) mutate(op, path string, fn func(*Node)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(op, path); err != nil {
		return err
	}
	e, err := m.lookup(path)
	if err != nil {
		return err
	}
	fn(m.node(e.ID))
	return nil
}

// SetOwner implements dfs.FileSystem.
func (m *Mem) SetOwner(_ context.Context, path, owner, group string) error {
	return m.mutate("set-owner", path, func(n *Node) {
		if owner != "" {
			n.Owner = owner
		}
		if group != "" {
			n.Group = group
		}
	})
}

// SetPermission implements dfs.FileSystem.
func (m *Mem) SetPermission(_ context.Context, path string, perm os.FileMode) error {
	return m.mutate("set-permission", path, func(n *Node) { n.Perm = perm })
}

// ModifyACL implements dfs.FileSystem. Entries replace existing entries with
// the same scope, type and name.
func (m *Mem) ModifyACL(_ context.Context, path string, entries []dfs.ACLEntry) error {
	return m.mutate("modify-acl", path, func(n *Node) {
		for _, e := range entries {
			replaced := false
			for i, old := range n.ACL {
				if old.Scope == e.Scope && old.Type == e.Type && old.Name == e.Name {
					n.ACL[i] = e
					replaced = true
				}
			}
			if !replaced {
				n.ACL = append(n.ACL, e)
			}
		}
	})
}

// GetXAttr implements dfs.FileSystem.
func (m *Mem) GetXAttr(_ context.Context, path, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(path)
	if err != nil {
		return nil, err
	}
	v, ok := m.node(e.ID).XAttrs[name]
	if !ok {
		return nil, dfs.ErrNoXAttr
	}
	return append([]byte(nil), v...), nil
}

// SetXAttr implements dfs.FileSystem.
func (m *Mem) SetXAttr(_ context.Context, path, name string, value []byte) error {
	return m.mutate("set-xattr", path, func(n *Node) {
		n.XAttrs[name] = append([]byte(nil), value...)
	})
}

// RemoveXAttr implements dfs.FileSystem.
func (m *Mem) RemoveXAttr(_ context.Context, path, name string) error {
	var missing bool
	err := m.mutate("remove-xattr", path, func(n *Node) {
		if _, ok := n.XAttrs[name]; !ok {
			missing = true
			return
		}
		delete(n.XAttrs, name)
	})
	if err != nil {
		return err
	}
	if missing {
		return &dfs.RemoteError{Exception: "IOException", Message: "No matching attributes found for remove operation"}
	}
	return nil
}

// ReadFile implements dfs.FileSystem.
func (m *Mem) ReadFile(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(path)
	if err != nil {
		return nil, err
	}
	if e.IsDir {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return append([]byte(nil), m.node(e.ID).Data...), nil
}

// Create implements dfs.FileSystem.
func (m *Mem) Create(_ context.Context, path string, data []byte, perm os.FileMode, overwrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create", path); err != nil {
		return err
	}
	if _, err := m.lookup(path); err == nil && !overwrite {
		return &dfs.RemoteError{Exception: "FileAlreadyExistsException", Message: path + " for client already exists"}
	}
	if _, err := m.lookup(paths.Parent(path)); err != nil {
		return err
	}
	e := m.Tree.Touch(path)
	n := m.node(e.ID)
	n.Data = append([]byte(nil), data...)
	n.Perm = perm
	return nil
}

// Delete implements dfs.FileSystem.
func (m *Mem) Delete(_ context.Context, path string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete", path); err != nil {
		return err
	}
	e, err := m.lookup(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if e.IsDir && !recursive {
		return fmt.Errorf("%s is a directory", path)
	}
	m.Tree.Remove(e.ID)
	delete(m.nodes, e.ID)
	return nil
}

// AddGroup implements dfs.Groups.
func (m *Mem) AddGroup(_ context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("add-group", group); err != nil {
		return err
	}
	if _, ok := m.groups[group]; ok {
		return dfs.GroupExistsError(group)
	}
	m.groups[group] = map[string]bool{}
	return nil
}

// AddUserToGroup implements dfs.Groups.
func (m *Mem) AddUserToGroup(_ context.Context, user, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("add-user-to-group", group); err != nil {
		return err
	}
	users, ok := m.groups[group]
	if !ok {
		return &dfs.RemoteError{Exception: "GroupNotFoundException", Message: "group " + group + " does not exist"}
	}
	if users[user] {
		return dfs.MemberExistsError(user, group)
	}
	users[user] = true
	return nil
}
