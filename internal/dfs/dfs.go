// Package dfs is the namespace service client used by migration steps:
// directory and file operations, ownership, permissions, ACLs, extended
// attributes, and group administration.
package dfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ErrNoXAttr is returned by GetXAttr when the attribute is not set.
var ErrNoXAttr = errors.New("extended attribute not found")

// FileInfo is the status of one namespace entry.
type FileInfo struct {
	Path       string
	Owner      string
	Group      string
	Permission os.FileMode
	IsDir      bool
	Length     int64
}

// ACL entry scopes and types.
const (
	ScopeAccess  = "access"
	ScopeDefault = "default"

	ACLUser  = "user"
	ACLGroup = "group"
	ACLMask  = "mask"
	ACLOther = "other"
)

// ACLEntry is one entry of an ACL spec.
type ACLEntry struct {
	Scope string
	Type  string
	Name  string
	Perm  string
}

// String renders the entry in aclspec form, e.g. default:group:demo__Airflow__read:r-x.
func (e ACLEntry) String() string {
	s := e.Type + ":" + e.Name + ":" + e.Perm
	if e.Scope == ScopeDefault {
		s = ScopeDefault + ":" + s
	}
	return s
}

// ACLSpec joins entries with commas.
func ACLSpec(entries []ACLEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}

// FileSystem is the file side of the namespace service.
type FileSystem interface {
	// Stat returns fs.ErrNotExist (via errors.Is) for missing paths.
	Stat(ctx context.Context, path string) (*FileInfo, error)
	// Mkdirs creates path and missing parents. Existing directories are not an error.
	Mkdirs(ctx context.Context, path string, perm os.FileMode) error
	SetOwner(ctx context.Context, path, owner, group string) error
	SetPermission(ctx context.Context, path string, perm os.FileMode) error
	ModifyACL(ctx context.Context, path string, entries []ACLEntry) error
	// GetXAttr returns ErrNoXAttr when name is not set on path.
	GetXAttr(ctx context.Context, path, name string) ([]byte, error)
	// SetXAttr creates or replaces name.
	SetXAttr(ctx context.Context, path, name string, value []byte) error
	RemoveXAttr(ctx context.Context, path, name string) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Create writes a file. Without overwrite an existing file fails with an
	// "already exists" error.
	Create(ctx context.Context, path string, data []byte, perm os.FileMode, overwrite bool) error
	// Delete removes path. A missing path is not an error.
	Delete(ctx context.Context, path string, recursive bool) error
}

// Groups administers the namespace service's groups.
type Groups interface {
	// AddGroup fails with an "already exists" error for existing groups.
	AddGroup(ctx context.Context, group string) error
	// AddUserToGroup fails with an "already part of" error for existing members.
	AddUserToGroup(ctx context.Context, user, group string) error
}

// Client is everything steps need from the namespace service.
type Client interface {
	FileSystem
	Groups
}

type client struct {
	FileSystem
	Groups
}

// Combine joins a file system and a group admin into a Client.
func Combine(files FileSystem, groups Groups) Client {
	return client{FileSystem: files, Groups: groups}
}

// Exists reports whether path exists.
func Exists(ctx context.Context, files FileSystem, path string) (bool, error) {
	_, err := files.Stat(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// RemoteError is an exception reported by the namespace service.
type RemoteError struct {
	Exception string
	ClassName string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Exception, e.Message)
}

// Is maps well known exceptions to fs sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Exception == "FileNotFoundException"
	case fs.ErrExist:
		return e.Exception == "FileAlreadyExistsException"
	}
	return false
}

// Messages reported by the namespace service for resources that are already
// in place.
const (
	msgAlreadyExists = "already exists"
	msgAlreadyMember = "is already part of Group"
	msgNoXAttrRemove = "No matching attributes found for remove operation"
)

// IsAlreadyExists reports whether err is the namespace service's "already
// exists" condition for a file, directory or group.
func IsAlreadyExists(err error) bool {
	return err != nil && (errors.Is(err, fs.ErrExist) || strings.Contains(err.Error(), msgAlreadyExists))
}

// IsAlreadyMember reports whether err says the user already belongs to the group.
func IsAlreadyMember(err error) bool {
	return err != nil && strings.Contains(err.Error(), msgAlreadyMember)
}

// IsNoXAttrToRemove reports whether err says there was no attribute to remove.
func IsNoXAttrToRemove(err error) bool {
	return err != nil && strings.Contains(err.Error(), msgNoXAttrRemove)
}

// GroupExistsError is returned by AddGroup.
func GroupExistsError(group string) error {
	return &RemoteError{Exception: "GroupAlreadyExistsException", Message: group + " " + msgAlreadyExists}
}

// MemberExistsError is returned by AddUserToGroup.
func MemberExistsError(user, group string) error {
	return &RemoteError{Exception: "UserAlreadyInGroupException", Message: user + " " + msgAlreadyMember + ": " + group}
}
