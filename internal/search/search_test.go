package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu      sync.Mutex
	indices map[string]bool
	bodies  []string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if u, p, ok := r.BasicAuth(); !ok || u != "admin" || p != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"type":"security_exception","reason":"missing authentication"},"status":401}`)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	index := parts[0]
	notFound := func() {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`)
	}

	switch {
	case len(parts) >= 2 && parts[1] == "_settings":
		out := map[string]any{}
		for name := range f.indices {
			out[name] = map[string]any{"settings": map[string]any{}}
		}
		_ = json.NewEncoder(w).Encode(out)
	case len(parts) == 2 && parts[1] == "_search":
		body, _ := io.ReadAll(r.Body)
		f.bodies = append(f.bodies, string(body))
		if !f.indices[index] {
			notFound()
			return
		}
		_, _ = io.WriteString(w, `{"took":1,"hits":{"total":1,"max_score":1.0,"hits":[
			{"_index":"`+index+`","_type":"_doc","_id":"42","_score":1.0,
			 "_source":{"xattr_prov":{"model_summary":{"value":{"name":"mnist","version":1}}}}}]}}`)
	case r.Method == http.MethodHead:
		if !f.indices[index] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut:
		f.indices[index] = true
		_, _ = io.WriteString(w, `{"acknowledged":true,"shards_acknowledged":true,"index":"`+index+`"}`)
	case r.Method == http.MethodDelete:
		if !f.indices[index] {
			notFound()
			return
		}
		delete(f.indices, index)
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newElastic(t *testing.T, indices ...string) (*Elastic, *fakeCluster) {
	t.Helper()
	f := &fakeCluster{indices: map[string]bool{}}
	for _, i := range indices {
		f.indices[i] = true
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := NewElastic(Options{URL: srv.URL, User: "admin", Password: "secret"})
	require.NoError(t, err)
	return c, f
}

func TestElasticIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newElastic(t)

	ok, err := c.IndexExists(ctx, "projects")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.CreateIndex(ctx, "projects"))
	ok, err = c.IndexExists(ctx, "projects")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.DeleteIndex(ctx, "projects"))
	err = c.DeleteIndex(ctx, "projects")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestElasticListIndicesFiltersPattern(t *testing.T) {
	c, _ := newElastic(t, "120__file_prov", "7__file_prov", "120__app_prov", "projects")

	got, err := c.ListIndices(context.Background(), "*__file_prov")
	require.NoError(t, err)
	assert.Equal(t, []string{"120__file_prov", "7__file_prov"}, got)
}

func TestElasticSearchSendsRawQuery(t *testing.T) {
	c, f := newElastic(t, "120__file_prov")
	query := `{"from":0,"size":10000,"query":{"term":{"entry_type":"state"}}}`

	res, err := c.Search(context.Background(), "120__file_prov", query)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	hits := res.Hits
	require.Len(t, hits, 1)
	assert.Equal(t, "42", hits[0].ID)
	assert.Equal(t, "120__file_prov", hits[0].Index)
	assert.JSONEq(t, `{"xattr_prov":{"model_summary":{"value":{"name":"mnist","version":1}}}}`, string(hits[0].Source))

	require.Len(t, f.bodies, 1)
	assert.JSONEq(t, query, f.bodies[0])
}

func TestElasticUnreachable(t *testing.T) {
	c, err := NewElastic(Options{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.IndexExists(context.Background(), "projects")
	require.Error(t, err)
	assert.True(t, fault.Connectivity.Has(err), "%v", err)
}

func TestNewElasticRequiresURL(t *testing.T) {
	_, err := NewElastic(Options{})
	assert.True(t, fault.Configuration.Has(err))
}

func TestGatedDryRunSkipsIndexMutations(t *testing.T) {
	ctx := context.Background()
	c, f := newElastic(t, "projects")
	gate, logs := testutil.ObservedGate(true)
	g := Gated(c, gate)

	require.NoError(t, g.DeleteIndex(ctx, "projects"))
	require.NoError(t, g.CreateIndex(ctx, "featurestore"))
	ok, err := g.IndexExists(ctx, "projects")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.indices["featurestore"])

	assert.Equal(t, []testutil.Mutation{
		{System: "search", Op: "delete-index", Target: "projects"},
		{System: "search", Op: "create-index", Target: "featurestore"},
	}, testutil.Mutations(logs))
}
