// Package airflowdags gives every project an Airflow dataset and moves the
// project's DAGs into it with the dags_migrate.sh helper.
package airflowdags

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/paths"
	"github.com/hopsworks/expat/internal/procexec"
	"go.uber.org/zap"
)

// Name identifies the step.
const Name = "airflow-dags"

const (
	// DatasetName is the dataset created in every project.
	DatasetName = "Airflow"
	// AirflowUser is granted read access to every Airflow dataset.
	AirflowUser = "airflow"
	// ScriptTimeout bounds one dags_migrate.sh run.
	ScriptTimeout = 30 * time.Minute

	description = "Contains airflow dags"
	readmeName  = "README.md"

	exitNoDags = 2
)

const (
	selectProjects = `SELECT project.id, project.projectname, users.username FROM project
		JOIN users ON project.username = users.email ORDER BY project.id`
	selectMembers = `SELECT users.username FROM project_team
		JOIN users ON users.email = project_team.team_member
		WHERE project_team.project_id = ? ORDER BY users.username`
	countDataset  = `SELECT COUNT(*) FROM dataset WHERE projectId = ? AND inode_name = ?`
	insertDataset = `INSERT INTO dataset (inode_name, projectId, description, searchable, permission)
		VALUES (?, ?, ?, 1, 'EDITABLE')`
)

type project struct {
	ID    int64
	Name  string
	Owner string
}

// HDFSUser is the namespace user of a platform user inside a project.
func HDFSUser(project, username string) string { return project + "__" + username }

// DatasetGroup owns the Airflow dataset of a project.
func DatasetGroup(project string) string { return project + "__" + DatasetName }

// ReadGroup is granted read access to the Airflow dataset of a project.
func ReadGroup(project string) string { return DatasetGroup(project) + "__read" }

// ACL returns the entries applied to the Airflow dataset of a project.
func ACL(project string) []dfs.ACLEntry {
	read := ReadGroup(project)
	return []dfs.ACLEntry{
		{Scope: dfs.ScopeAccess, Type: dfs.ACLUser, Perm: "rwx"},
		{Scope: dfs.ScopeAccess, Type: dfs.ACLGroup, Perm: "rwx"},
		{Scope: dfs.ScopeAccess, Type: dfs.ACLGroup, Name: read, Perm: "r-x"},
		{Scope: dfs.ScopeAccess, Type: dfs.ACLOther, Perm: "---"},
		{Scope: dfs.ScopeDefault, Type: dfs.ACLGroup, Name: read, Perm: "r-x"},
		{Scope: dfs.ScopeAccess, Type: dfs.ACLUser, Name: AirflowUser, Perm: "r-x"},
		{Scope: dfs.ScopeDefault, Type: dfs.ACLUser, Name: AirflowUser, Perm: "r-x"},
	}
}

// Secret is the project secret handed to dags_migrate.sh.
func Secret(projectID int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(projectID, 10)))
	return hex.EncodeToString(sum[:])
}

// Step implements migration.Step.
type Step struct{}

// New returns the step.
func New() migration.Step { return Step{} }

// Name implements migration.Step.
func (Step) Name() string { return Name }

// Needs implements migration.Needs.
func (Step) Needs() migration.Handles {
	return migration.NeedDB | migration.NeedNamespace | migration.NeedExec
}

// Migrate implements migration.Step.
func (Step) Migrate(ctx context.Context, env *migration.Env) error {
	if err := env.Config.RequireAll(config.KeyExpatDir, config.KeyHopsUser, config.KeyHadoopHome); err != nil {
		return err
	}
	projects, err := loadProjects(ctx, env.DB)
	if err != nil {
		return err
	}

	script := filepath.Join(env.Config.String(config.KeyExpatDir), "bin", "dags_migrate.sh")
	for _, p := range projects {
		log := env.Log.With(zap.String("project", p.Name))
		owner := HDFSUser(p.Name, p.Owner)

		if err := ensureDataset(ctx, env, p, owner); err != nil {
			return fmt.Errorf("project %s: %w", p.Name, err)
		}

		cmd := procexec.Command{
			Path: script,
			Args: []string{p.Name, Secret(p.ID), owner, env.Config.String(config.KeyHopsUser),
				env.Config.String(config.KeyHadoopHome)},
			Timeout: ScriptTimeout,
		}
		res, err := env.Exec.Run(ctx, cmd)
		switch {
		case err != nil:
			log.Error("failed to move dags", zap.Error(err))
		case res.ExitCode == 0:
			log.Info("moved dags")
		case res.ExitCode == exitNoDags:
			log.Info("dags directory not configured, nothing to move")
		default:
			log.Error("failed to move dags", zap.Error(res.Err(cmd)))
		}

		if err := ensureDatasetRow(ctx, env, p); err != nil {
			return fmt.Errorf("project %s: %w", p.Name, err)
		}
	}
	env.Log.Info("airflow datasets processed", zap.Int("projects", len(projects)))
	return nil
}

// Rollback implements migration.Step.
func (Step) Rollback(context.Context, *migration.Env) error {
	return migration.NoopRollback("airflow datasets and moved dags are kept")
}

func loadProjects(ctx context.Context, q db.Querier) ([]project, error) {
	rows, err := q.QueryContext(ctx, selectProjects)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []project
	for rows.Next() {
		var p project
		if err := rows.Scan(&p.ID, &p.Name, &p.Owner); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func members(ctx context.Context, q db.Querier, projectID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, selectMembers, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query project members: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ensureDataset creates the dataset directory when missing and applies
// ownership, groups and ACLs either way.
func ensureDataset(ctx context.Context, env *migration.Env, p project, owner string) error {
	dir := paths.Dataset(p.Name, DatasetName)
	ok, err := dfs.Exists(ctx, env.FS, dir)
	if err != nil {
		return err
	}
	if !ok {
		if err := env.FS.Mkdirs(ctx, dir, 0o770); err != nil {
			return err
		}
	}

	group, read := DatasetGroup(p.Name), ReadGroup(p.Name)
	for _, g := range []string{group, read} {
		if err := addGroup(ctx, env, g); err != nil {
			return err
		}
	}
	if err := env.FS.SetOwner(ctx, dir, owner, group); err != nil {
		return err
	}
	if err := addMember(ctx, env, owner, read); err != nil {
		return err
	}
	if err := env.FS.ModifyACL(ctx, dir, ACL(p.Name)); err != nil {
		return err
	}

	users, err := members(ctx, env.DB, p.ID)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := addMember(ctx, env, HDFSUser(p.Name, u), group); err != nil {
			return err
		}
	}
	return ensureReadme(ctx, env, dir, owner, group)
}

func addGroup(ctx context.Context, env *migration.Env, group string) error {
	err := env.FS.AddGroup(ctx, group)
	if dfs.IsAlreadyExists(err) {
		env.Log.Debug("group already exists", zap.String("group", group))
		return nil
	}
	return err
}

func addMember(ctx context.Context, env *migration.Env, user, group string) error {
	err := env.FS.AddUserToGroup(ctx, user, group)
	if dfs.IsAlreadyMember(err) {
		env.Log.Debug("user already in group", zap.String("user", user), zap.String("group", group))
		return nil
	}
	return err
}

func ensureReadme(ctx context.Context, env *migration.Env, dir, owner, group string) error {
	path := dir + paths.Separator + readmeName
	ok, err := dfs.Exists(ctx, env.FS, path)
	if err != nil || ok {
		return err
	}
	body := fmt.Sprintf("# %s\n\n%s\n", DatasetName, description)
	err = env.FS.Create(ctx, path, []byte(body), 0o770, false)
	if dfs.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		// A missing README does not break the dataset.
		env.Log.Warn("failed to create README", zap.String("path", path), zap.Error(err))
		return nil
	}
	if err := env.FS.SetPermission(ctx, path, 0o770); err != nil {
		return err
	}
	return env.FS.SetOwner(ctx, path, owner, group)
}

// ensureDatasetRow registers the dataset once its directory is in place.
func ensureDatasetRow(ctx context.Context, env *migration.Env, p project) error {
	var n int
	if err := env.DB.QueryRowContext(ctx, countDataset, p.ID, DatasetName).Scan(&n); err != nil {
		return fmt.Errorf("failed to query dataset: %w", db.Classify(err))
	}
	if n > 0 {
		return nil
	}
	_, err := db.Exec(ctx, env.Gate, env.DB, "dataset "+p.Name+"/"+DatasetName, insertDataset, DatasetName, p.ID, description)
	return err
}
