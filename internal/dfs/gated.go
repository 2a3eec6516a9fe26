package dfs

import (
	"context"
	"fmt"
	"os"

	"github.com/hopsworks/expat/internal/dryrun"
	"go.uber.org/zap"
)

// Gated routes every mutation of c through gate. Reads pass through.
func Gated(c Client, gate *dryrun.Gate) Client {
	return &gated{c: c, gate: gate}
}

type gated struct {
	c    Client
	gate *dryrun.Gate
}

func (g *gated) apply(ctx context.Context, op, target string, fn func(context.Context) error, fields ...zap.Field) error {
	return g.gate.Apply(ctx, dryrun.Mutation{System: dryrun.Namespace, Op: op, Target: target}, fn, fields...)
}

func (g *gated) Stat(ctx context.Context, path string) (*FileInfo, error) {
	return g.c.Stat(ctx, path)
}

func (g *gated) GetXAttr(ctx context.Context, path, name string) ([]byte, error) {
	return g.c.GetXAttr(ctx, path, name)
}

func (g *gated) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return g.c.ReadFile(ctx, path)
}

func (g *gated) Mkdirs(ctx context.Context, path string, perm os.FileMode) error {
	return g.apply(ctx, "mkdirs", path, func(ctx context.Context) error {
		return g.c.Mkdirs(ctx, path, perm)
	}, zap.String("permission", fmt.Sprintf("%o", perm.Perm())))
}

func (g *gated) SetOwner(ctx context.Context, path, owner, group string) error {
	return g.apply(ctx, "set-owner", path, func(ctx context.Context) error {
		return g.c.SetOwner(ctx, path, owner, group)
	}, zap.String("owner", owner), zap.String("group", group))
}

func (g *gated) SetPermission(ctx context.Context, path string, perm os.FileMode) error {
	return g.apply(ctx, "set-permission", path, func(ctx context.Context) error {
		return g.c.SetPermission(ctx, path, perm)
	}, zap.String("permission", fmt.Sprintf("%o", perm.Perm())))
}

func (g *gated) ModifyACL(ctx context.Context, path string, entries []ACLEntry) error {
	return g.apply(ctx, "modify-acl", path, func(ctx context.Context) error {
		return g.c.ModifyACL(ctx, path, entries)
	}, zap.String("aclspec", ACLSpec(entries)))
}

func (g *gated) SetXAttr(ctx context.Context, path, name string, value []byte) error {
	return g.apply(ctx, "set-xattr", path, func(ctx context.Context) error {
		return g.c.SetXAttr(ctx, path, name, value)
	}, zap.String("xattr", name), zap.Int("bytes", len(value)))
}

func (g *gated) RemoveXAttr(ctx context.Context, path, name string) error {
	return g.apply(ctx, "remove-xattr", path, func(ctx context.Context) error {
		return g.c.RemoveXAttr(ctx, path, name)
	}, zap.String("xattr", name))
}

func (g *gated) Create(ctx context.Context, path string, data []byte, perm os.FileMode, overwrite bool) error {
	return g.apply(ctx, "create", path, func(ctx context.Context) error {
		return g.c.Create(ctx, path, data, perm, overwrite)
	}, zap.Int("bytes", len(data)), zap.Bool("overwrite", overwrite))
}

func (g *gated) Delete(ctx context.Context, path string, recursive bool) error {
	return g.apply(ctx, "delete", path, func(ctx context.Context) error {
		return g.c.Delete(ctx, path, recursive)
	}, zap.Bool("recursive", recursive))
}

func (g *gated) AddGroup(ctx context.Context, group string) error {
	return g.apply(ctx, "add-group", group, func(ctx context.Context) error {
		return g.c.AddGroup(ctx, group)
	})
}

func (g *gated) AddUserToGroup(ctx context.Context, user, group string) error {
	return g.apply(ctx, "add-user-to-group", group, func(ctx context.Context) error {
		return g.c.AddUserToGroup(ctx, user, group)
	}, zap.String("user", user))
}
