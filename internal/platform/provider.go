// Package platform opens the handles migration steps need from configuration.
package platform

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/namespace"
	"github.com/hopsworks/expat/internal/procexec"
	"github.com/hopsworks/expat/internal/search"
	"github.com/hopsworks/expat/internal/secrets"
	"github.com/hopsworks/expat/internal/transport"
	"go.uber.org/zap"
)

// Provider implements migration.Provider against a live platform. Every
// step gets fresh connections that are closed when it finishes.
type Provider struct {
	Config *config.Config
	// HTTP configures the WebHDFS, Elasticsearch and Kubernetes clients.
	HTTP transport.Options
}

// New returns a Provider reading cfg.
func New(cfg *config.Config) *Provider {
	return &Provider{Config: cfg, HTTP: transport.DefaultOptions()}
}

// RequiredKeys lists the configuration keys the handles in need depend on.
func RequiredKeys(need migration.Handles) []string {
	var keys []string
	if need.Has(migration.NeedDB) || need.Has(migration.NeedNamespace) {
		keys = append(keys, config.KeyDBURL)
	}
	if need.Has(migration.NeedNamespace) {
		keys = append(keys, config.KeyWebHDFSURL, config.KeyHopsUser)
	}
	if need.Has(migration.NeedSearch) {
		keys = append(keys, config.KeyElasticURL)
	}
	if need.Has(migration.NeedSecrets) {
		keys = append(keys, config.KeyKubeMasterURL)
	}
	return keys
}

// Open implements migration.Provider. All keys are validated before the
// first connection is made.
func (p *Provider) Open(ctx context.Context, step string, need migration.Handles, env *migration.Env) error {
	if err := p.Config.RequireAll(RequiredKeys(need)...); err != nil {
		return err
	}
	log := env.Log

	if need.Has(migration.NeedDB) || need.Has(migration.NeedNamespace) {
		database, err := OpenDB(ctx, p.Config)
		if err != nil {
			return err
		}
		env.OnRelease(database.Close)
		env.DB = database
		log.Debug("opened database", zap.String("target", database.Target()))
	}

	if need.Has(migration.NeedNamespace) {
		if err := p.openNamespace(env); err != nil {
			return err
		}
	}

	if need.Has(migration.NeedSearch) {
		hc, err := transport.New(log, p.HTTP)
		if err != nil {
			return err
		}
		es, err := search.NewElastic(search.Options{
			URL:      p.Config.String(config.KeyElasticURL),
			User:     p.Config.String(config.KeyElasticUser),
			Password: p.Config.String(config.KeyElasticPass),
			HTTP:     hc.StandardClient(),
		})
		if err != nil {
			return err
		}
		env.OnRelease(closeIdle(hc))
		env.Search = search.Gated(es, env.Gate)
	}

	if need.Has(migration.NeedSecrets) {
		opts := p.HTTP
		opts.CAFile = p.Config.String(config.KeyKubeCAFile)
		hc, err := transport.New(log, opts)
		if err != nil {
			return err
		}
		kube, err := secrets.NewKube(p.Config.String(config.KeyKubeMasterURL), p.Config.String(config.KeyKubeTokenFile), hc)
		if err != nil {
			return err
		}
		env.OnRelease(closeIdle(hc))
		env.Secrets = secrets.Gated(kube, env.Gate)
	}

	if need.Has(migration.NeedExec) {
		env.Exec = procexec.Gated(procexec.OS{}, env.Gate)
	}
	return nil
}

func (p *Provider) openNamespace(env *migration.Env) error {
	opts := p.HTTP
	opts.NoRedirect = true
	hc, err := transport.New(env.Log, opts)
	if err != nil {
		return err
	}
	env.OnRelease(closeIdle(hc))

	files, err := dfs.NewWebHDFS(p.Config.String(config.KeyWebHDFSURL), p.Config.String(config.KeyHopsUser), hc)
	if err != nil {
		return err
	}
	env.FS = dfs.Gated(dfs.Combine(files, dfs.NewSQLGroups(env.DB)), env.Gate)

	part := namespace.HopsPartitioner{RandomLevel: namespace.DefaultRandomLevel}
	rows, err := namespace.NewSQLRows(env.DB, p.Config.String(config.KeyInodesTable), part)
	if err != nil {
		return err
	}
	env.Resolver = namespace.NewResolver(rows, part)
	return nil
}

// OpenDB opens the relational store named by cfg.
func OpenDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	opts, err := db.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// OpenLedger opens the store and makes sure the run ledger exists.
func OpenLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (*db.DB, error) {
	database, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	applied, err := database.EnsureLedger(ctx)
	if err != nil {
		database.Close()
		return nil, err
	}
	for _, name := range applied {
		log.Info("applied ledger schema", zap.String("file", name))
	}
	return database, nil
}

func closeIdle(c *retryablehttp.Client) func() error {
	return func() error {
		c.HTTPClient.CloseIdleConnections()
		return nil
	}
}
