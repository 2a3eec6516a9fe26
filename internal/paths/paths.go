// Package paths holds the HopsFS path conventions shared by the resolver and
// the migration steps.
package paths

import (
	"strings"
)

// Separator between path segments.
const Separator = "/"

// Well known locations.
const (
	ProjectsDir  = "/Projects"
	WarehouseDir = "/apps/hive/warehouse"
)

// Split splits s around sep the way the platform's path handling does:
// interior empty segments are kept and trailing empty segments are dropped.
// Splitting "" yields a single empty segment.
func Split(s, sep string) []string {
	parts := strings.Split(s, sep)
	if s == "" {
		return parts
	}
	end := len(parts)
	for end > 0 && parts[end-1] == "" {
		end--
	}
	return parts[:end]
}

// Segments turns a path or URI into the names walked from the root.
//
//   - "/a/b" walks a, b
//   - "hopsfs://host:8020/a/b" walks a, b (scheme, empty token and authority dropped)
//   - "a/b" walks a, b
//
// A nil result means the path names no entry.
func Segments(p string) []string {
	var parts []string
	switch {
	case strings.HasPrefix(p, Separator):
		parts = Split(p[1:], Separator)
	case strings.Contains(p, "://"):
		parts = Split(p, Separator)
		if len(parts) <= 3 {
			return nil
		}
		parts = parts[3:]
	default:
		parts = Split(p, Separator)
	}
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	return parts
}

// Join builds an absolute path from segments. No segments yields "/".
func Join(segments ...string) string {
	return Separator + strings.Join(segments, Separator)
}

// Project returns /Projects/<project>.
func Project(project string) string {
	return Join("Projects", project)
}

// Dataset returns /Projects/<project>/<dataset>.
func Dataset(project, dataset string) string {
	return Join("Projects", project, dataset)
}

// FeaturestoreDB returns the hive warehouse directory of a project's
// feature store database.
func FeaturestoreDB(project string) string {
	return WarehouseDir + Separator + strings.ToLower(project) + "_featurestore.db"
}

// Base returns the last segment of p.
func Base(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent returns the path without its last segment. The parent of a top
// level entry is "/".
func Parent(p string) string {
	segs := Segments(p)
	if len(segs) <= 1 {
		return Separator
	}
	return Join(segs[:len(segs)-1]...)
}
