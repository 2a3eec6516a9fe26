// Package steps registers every migration step in execution order.
package steps

import (
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/steps/airflowdags"
	"github.com/hopsworks/expat/internal/steps/certsecrets"
	"github.com/hopsworks/expat/internal/steps/dockerresources"
	"github.com/hopsworks/expat/internal/steps/epipereindex"
	"github.com/hopsworks/expat/internal/steps/featuregroupxattrs"
	"github.com/hopsworks/expat/internal/steps/jobsconfig"
	"github.com/hopsworks/expat/internal/steps/modelstodb"
	"github.com/hopsworks/expat/internal/steps/statistics"
	"github.com/hopsworks/expat/internal/steps/storageconnectors"
)

// Rollback notes shown by "expat list".
const (
	reversible   = "restores the previous shape"
	irreversible = "no-op"
)

var entries = []migration.Entry{
	{
		Name:        jobsconfig.Name,
		Description: "reshape Spark job configuration documents",
		Rollback:    reversible,
		New:         jobsconfig.New,
	},
	{
		Name:        dockerresources.Name,
		Description: "nest Docker and Python job resources under resourceConfig",
		Rollback:    reversible,
		New:         dockerresources.New,
	},
	{
		Name:        storageconnectors.Name,
		Description: "convert Snowflake connector options to JSON and create connector resource directories",
		Rollback:    reversible,
		New:         storageconnectors.New,
	},
	{
		Name:        statistics.Name,
		Description: "move legacy statistics files into descriptive statistics rows",
		Rollback:    irreversible,
		New:         statistics.New,
	},
	{
		Name:        airflowdags.Name,
		Description: "create project Airflow datasets and move DAGs into them",
		Rollback:    irreversible,
		New:         airflowdags.New,
	},
	{
		Name:        featuregroupxattrs.Name,
		Description: "attach provenance.featurestore attributes to feature group directories",
		Rollback:    "removes the attribute",
		New:         featuregroupxattrs.New,
	},
	{
		Name:        modelstodb.Name,
		Description: "copy model metadata from provenance indices into the model tables",
		Rollback:    irreversible,
		New:         modelstodb.New,
	},
	{
		Name:        epipereindex.Name,
		Description: "rebuild search indices by replaying the metadata log through epipe",
		Rollback:    irreversible,
		New:         epipereindex.New,
	},
	{
		Name:        certsecrets.Name,
		Description: "publish project generic user certificates as Kubernetes secrets",
		Rollback:    irreversible,
		New:         certsecrets.New,
	},
}

// Registry returns the registry of all steps.
func Registry() *migration.Registry {
	r, err := migration.NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}
