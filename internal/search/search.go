// Package search is the search index client used by migration steps.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/paths"
	"github.com/hopsworks/expat/internal/transport"
	elastic "gopkg.in/olivere/elastic.v5"
)

// ErrIndexNotFound is returned for operations on a missing index.
var ErrIndexNotFound = errors.New("index not found")

// Hit is one search result.
type Hit struct {
	Index  string
	ID     string
	Source json.RawMessage
}

// Results are the hits of one search. Total counts every matching document
// and exceeds len(Hits) when the query's size cut the result short.
type Results struct {
	Total int64
	Hits  []Hit
}

// Client is the search index surface steps use.
type Client interface {
	CreateIndex(ctx context.Context, name string) error
	// DeleteIndex returns ErrIndexNotFound for missing indices.
	DeleteIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	// ListIndices returns index names matching a glob pattern, sorted.
	ListIndices(ctx context.Context, pattern string) ([]string, error)
	// Search runs a raw JSON query against index.
	Search(ctx context.Context, index, query string) (*Results, error)
}

// Options configure the Elasticsearch client.
type Options struct {
	URL      string
	User     string
	Password string
	// HTTP is used for every request. Nil selects http.DefaultClient.
	HTTP *http.Client
}

// Elastic implements Client with olivere/elastic.
type Elastic struct {
	c *elastic.Client
}

// NewElastic connects to the cluster at opts.URL. Sniffing and health checks
// are disabled; the cluster is usually behind a single address.
func NewElastic(opts Options) (*Elastic, error) {
	if opts.URL == "" {
		return nil, fault.Configuration.New("elastic url cannot be empty")
	}
	options := []elastic.ClientOptionFunc{
		elastic.SetURL(opts.URL),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}
	if opts.User != "" {
		options = append(options, elastic.SetBasicAuth(opts.User, opts.Password))
	}
	if opts.HTTP != nil {
		options = append(options, elastic.SetHttpClient(opts.HTTP))
	}
	c, err := elastic.NewClient(options...)
	if err != nil {
		return nil, classify(err, "failed to create elastic client")
	}
	return &Elastic{c: c}, nil
}

// classify maps an elastic error to a sentinel or fault class and adds
// context. It must see the unwrapped error returned by the library.
func classify(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var ee *elastic.Error
	switch {
	case elastic.IsNotFound(err):
		return fmt.Errorf("%s: %w: %v", msg, ErrIndexNotFound, err)
	case errors.As(err, &ee) && ee.Status >= http.StatusInternalServerError,
		elastic.IsConnErr(err):
		return fault.Connectivity.Wrap(fmt.Errorf("%s: %w", msg, err))
	}
	return transport.Classify(fmt.Errorf("%s: %w", msg, err))
}

// CreateIndex implements Client.
func (e *Elastic) CreateIndex(ctx context.Context, name string) error {
	res, err := e.c.CreateIndex(name).Do(ctx)
	if err != nil {
		return classify(err, "failed to create index %s", name)
	}
	if !res.Acknowledged {
		return fmt.Errorf("create index %s was not acknowledged", name)
	}
	return nil
}

// DeleteIndex implements Client.
func (e *Elastic) DeleteIndex(ctx context.Context, name string) error {
	if _, err := e.c.DeleteIndex(name).Do(ctx); err != nil {
		return classify(err, "failed to delete index %s", name)
	}
	return nil
}

// IndexExists implements Client.
func (e *Elastic) IndexExists(ctx context.Context, name string) (bool, error) {
	ok, err := e.c.IndexExists(name).Do(ctx)
	if err != nil {
		return false, classify(err, "failed to check index %s", name)
	}
	return ok, nil
}

// ListIndices implements Client.
func (e *Elastic) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := e.c.IndexGetSettings(pattern).Do(ctx)
	if err != nil {
		err = classify(err, "failed to list indices %s", pattern)
		if errors.Is(err, ErrIndexNotFound) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(res))
	for name := range res {
		if paths.MatchGlob(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Search implements Client.
func (e *Elastic) Search(ctx context.Context, index, query string) (*Results, error) {
	res, err := e.c.Search(index).Source(query).Do(ctx)
	if err != nil {
		return nil, classify(err, "failed to search %s", index)
	}
	if res.Hits == nil {
		return &Results{}, nil
	}
	out := &Results{Total: res.Hits.TotalHits, Hits: make([]Hit, 0, len(res.Hits.Hits))}
	for _, h := range res.Hits.Hits {
		hit := Hit{Index: h.Index, ID: h.Id}
		if h.Source != nil {
			hit.Source = append(json.RawMessage(nil), *h.Source...)
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

// Gated routes index creation and deletion through gate.
func Gated(c Client, gate *dryrun.Gate) Client {
	return &gated{Client: c, gate: gate}
}

type gated struct {
	Client
	gate *dryrun.Gate
}

func (g *gated) CreateIndex(ctx context.Context, name string) error {
	return g.gate.Apply(ctx, dryrun.Mutation{System: dryrun.Search, Op: "create-index", Target: name},
		func(ctx context.Context) error { return g.Client.CreateIndex(ctx, name) })
}

func (g *gated) DeleteIndex(ctx context.Context, name string) error {
	return g.gate.Apply(ctx, dryrun.Mutation{System: dryrun.Search, Op: "delete-index", Target: name},
		func(ctx context.Context) error { return g.Client.DeleteIndex(ctx, name) })
}
