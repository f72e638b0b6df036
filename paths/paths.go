// Package paths canonicalises the directory paths that name workspaces,
// groups, arrays and metadata. All storage operations run on canonical
// paths so that equality and containment reduce to string comparison.
package paths

import (
	"os"
	"strings"

	"github.com/arraydb/tilestore/core"
)

// Canonical resolves dir to an absolute path with no ".", ".." or
// duplicate/trailing slashes. "" and relative paths resolve against the
// working directory, a leading "~" against the home directory. It
// returns "" when the path is invalid: escapes above the root, exceeds
// the length limit, or the environment cannot be resolved. Canonical is
// idempotent on its own non-empty output.
func Canonical(dir string) string {
	if len(dir) > core.MaxPathLen {
		return ""
	}
	switch {
	case dir == "":
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	case dir == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = home
	case strings.HasPrefix(dir, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = home + dir[1:]
	case dir[0] != '/':
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd + "/" + dir
	}
	return purgeDots(dir)
}

// purgeDots removes ".", ".." and empty tokens from an absolute path.
// A ".." with nothing left to pop makes the whole path invalid.
func purgeDots(path string) string {
	if path == "" || path[0] != '/' {
		return ""
	}
	parts := strings.Split(path, "/")
	stack := make([]string, 0, len(parts))
	for _, tok := range parts {
		switch tok {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return ""
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, tok)
		}
	}
	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// Parent returns the directory containing a canonical path. The parent
// of "/" is "/".
func Parent(path string) string {
	if path == "" {
		return ""
	}
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// Name returns the last component of a canonical path, or "" for the
// root.
func Name(path string) string {
	if path == "" || path == "/" {
		return ""
	}
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

// Inside reports whether path lies strictly inside dir. Both arguments
// must be canonical.
func Inside(path, dir string) bool {
	if dir == "/" {
		return len(path) > 1 && path[0] == '/'
	}
	return strings.HasPrefix(path, dir+"/")
}
