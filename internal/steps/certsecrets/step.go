// Package certsecrets publishes the certificates of every project generic
// user as a Kubernetes secret in the project's namespace. Certificate
// passwords are stored encrypted and are published in plain text.
package certsecrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/secrets"
	"go.uber.org/zap"
)

// Name identifies the step.
const Name = "project-cert-secrets"

const selectCerts = `SELECT project_generic_username, pgu_key, pgu_cert, cert_password
	FROM projectgenericuser_certs ORDER BY project_generic_username`

// selectOwnerKey finds the user key the certificate password of a project is
// encrypted with: the password hash of the project owner.
const selectOwnerKey = `SELECT u.password FROM project p JOIN users u ON u.email = p.username
	WHERE p.projectname = ?`

// Data keys of a certificate secret.
const (
	suffixKeystore   = "__kstore.jks"
	suffixTruststore = "__tstore.jks"
	suffixPassword   = "__cert.key"
)

var (
	nonNamespace = regexp.MustCompile(`[^a-z0-9-]`)
	nonUser      = regexp.MustCompile(`[^a-z0-9]`)
)

// SplitUser splits a project generic user into project and user name.
func SplitUser(user string) (project, name string, err error) {
	parts := strings.Split(user, "__")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fault.DataShape.New("could not parse project generic user %q", user)
	}
	return parts[0], parts[1], nil
}

// Namespace returns the Kubernetes namespace of a project.
func Namespace(project string) string {
	return nonNamespace.ReplaceAllString(strings.ToLower(project), "-")
}

// SecretName returns the secret holding the certificates of user in project.
func SecretName(project, user string) string {
	name := Namespace(project) + "--" + nonUser.ReplaceAllString(strings.ToLower(user), "-")
	if strings.HasSuffix(name, "-") {
		name += "0"
	}
	return name
}

// SecretFor builds the certificate secret of a project generic user. password
// is the decrypted certificate password.
func SecretFor(user string, keystore, truststore []byte, password string) (secrets.Secret, error) {
	project, name, err := SplitUser(user)
	if err != nil {
		return secrets.Secret{}, err
	}
	return secrets.Secret{
		Namespace: Namespace(project),
		Name:      SecretName(project, name),
		Data: map[string][]byte{
			user + suffixKeystore:   keystore,
			user + suffixTruststore: truststore,
			user + suffixPassword:   []byte(password),
		},
	}, nil
}

type certRow struct {
	user      string
	key, cert []byte
	password  string
}

// Step implements migration.Step.
type Step struct{}

// New returns the step.
func New() migration.Step { return Step{} }

// Name implements migration.Step.
func (Step) Name() string { return Name }

// Needs implements migration.Needs.
func (Step) Needs() migration.Handles { return migration.NeedDB | migration.NeedSecrets }

// Migrate implements migration.Step. Rows without certificates and rows whose
// password cannot be decrypted are skipped with a warning.
func (Step) Migrate(ctx context.Context, env *migration.Env) error {
	master, err := ReadMasterPassword(env.Config)
	if err != nil {
		return err
	}
	certs, err := loadCerts(ctx, env)
	if err != nil {
		return err
	}

	ownerKeys := map[string]string{}
	var all []secrets.Secret
	for _, c := range certs {
		project, _, err := SplitUser(c.user)
		if err != nil {
			return err
		}
		userKey, ok := ownerKeys[project]
		if !ok {
			if userKey, err = ownerKey(ctx, env, project); err != nil {
				return err
			}
			ownerKeys[project] = userKey
		}
		if userKey == "" {
			env.Log.Warn("skipped project generic user without project owner", zap.String("user", c.user))
			continue
		}
		password, err := DecryptPassword(userKey, c.password, master)
		if err != nil && !fault.DataShape.Has(err) {
			return err
		}
		if err != nil {
			env.Log.Warn("skipped project generic user with undecryptable password",
				zap.String("user", c.user), zap.Error(err))
			continue
		}
		s, err := SecretFor(c.user, c.key, c.cert, password)
		if err != nil {
			return err
		}
		all = append(all, s)
	}

	for _, s := range all {
		if err := env.Secrets.Apply(ctx, s); err != nil {
			return err
		}
	}
	env.Log.Info("project certificate secrets published", zap.Int("secrets", len(all)))
	return nil
}

func loadCerts(ctx context.Context, env *migration.Env) ([]certRow, error) {
	rows, err := env.DB.QueryContext(ctx, selectCerts)
	if err != nil {
		return nil, fmt.Errorf("failed to query project certificates: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []certRow
	for rows.Next() {
		var (
			c        certRow
			password sql.NullString
		)
		if err := rows.Scan(&c.user, &c.key, &c.cert, &password); err != nil {
			return nil, fmt.Errorf("failed to scan project certificate: %w", err)
		}
		if len(c.key) == 0 || len(c.cert) == 0 {
			env.Log.Warn("skipped project generic user without certificates", zap.String("user", c.user))
			continue
		}
		c.password = password.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ownerKey returns "" when the project or its owner is missing.
func ownerKey(ctx context.Context, env *migration.Env, project string) (string, error) {
	var key sql.NullString
	err := env.DB.QueryRowContext(ctx, selectOwnerKey, project).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up owner of project %s: %w", project, db.Classify(err))
	}
	return key.String, nil
}

// Rollback implements migration.Step.
func (Step) Rollback(context.Context, *migration.Env) error {
	return migration.NoopRollback("published secrets are left in place")
}
