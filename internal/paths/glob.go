package paths

import (
	"path"
	"strings"
)

// MatchGlob reports whether name matches a shell style pattern. It is used
// for search index names and HopsFS paths. A "**" segment matches zero or
// more path segments.
func MatchGlob(pattern, name string) bool {
	if strings.Contains(pattern, "**") {
		return matchParts(strings.Split(strings.Trim(pattern, Separator), Separator),
			strings.Split(strings.Trim(name, Separator), Separator))
	}
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}

func matchParts(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		if matchParts(pattern[1:], name) {
			return true
		}
		return len(name) > 0 && matchParts(pattern, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	if matched, err := path.Match(pattern[0], name[0]); err != nil || !matched {
		return false
	}
	return matchParts(pattern[1:], name[1:])
}
