package migration

import (
	"fmt"
	"slices"
	"strings"
)

// Entry registers one step.
type Entry struct {
	Name        string
	Description string
	Rollback    string
	New         func() Step
}

// Registry is an ordered set of steps. Forward runs follow registration
// order; rolling back everything walks it in reverse.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

// NewRegistry returns a registry holding entries in order. Names must be
// unique.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(entries))}
	for _, e := range entries {
		if e.Name == "" || e.New == nil {
			return nil, fmt.Errorf("invalid registry entry %q", e.Name)
		}
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("step %q registered twice", e.Name)
		}
		r.byName[e.Name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Entries returns the registered entries in order.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.entries)
}

// Lookup returns the entry named name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Select instantiates the named steps in the order given. With no names it
// selects every step, reversed for Backward.
func (r *Registry) Select(dir Direction, names ...string) ([]Step, error) {
	if len(names) == 0 {
		entries := r.Entries()
		if dir == Backward {
			slices.Reverse(entries)
		}
		steps := make([]Step, 0, len(entries))
		for _, e := range entries {
			steps = append(steps, e.New())
		}
		return steps, nil
	}

	var unknown []string
	steps := make([]Step, 0, len(names))
	for _, n := range names {
		e, ok := r.Lookup(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		steps = append(steps, e.New())
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown step(s): %s", strings.Join(unknown, ", "))
	}
	return steps, nil
}
