// Package secretstest provides an in-memory secrets.Client.
package secretstest

import (
	"context"
	"sync"

	"github.com/hopsworks/expat/internal/secrets"
)

// Mem stores secrets by "namespace/name".
type Mem struct {
	mu      sync.Mutex
	Secrets map[string]secrets.Secret
	Applies int
	Err     error
}

var _ secrets.Client = (*Mem)(nil)

// New returns an empty store.
func New() *Mem {
	return &Mem{Secrets: map[string]secrets.Secret{}}
}

// Apply implements secrets.Client.
func (m *Mem) Apply(_ context.Context, s secrets.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Applies++
	m.Secrets[s.Namespace+"/"+s.Name] = s
	return nil
}
