// Package namespace classifies directories into the entity kinds of
// the storage hierarchy and encodes which kind may nest under which.
// Classification is driven purely by marker files, never by names.
package namespace

import (
	"path/filepath"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/sys"
)

// Kind is the entity kind of a directory.
type Kind int

const (
	// None marks a directory that is not a storage entity.
	None Kind = iota
	Workspace
	Group
	Array
	Metadata
	Fragment
)

func (k Kind) String() string {
	switch k {
	case Workspace:
		return "workspace"
	case Group:
		return "group"
	case Array:
		return "array"
	case Metadata:
		return "metadata"
	case Fragment:
		return "fragment"
	default:
		return "none"
	}
}

// Marker returns the marker filename identifying k, or "" for None.
func Marker(k Kind) string {
	switch k {
	case Workspace:
		return core.WorkspaceFilename
	case Group:
		return core.GroupFilename
	case Array:
		return core.ArraySchemaFilename
	case Metadata:
		return core.MetadataSchemaFilename
	case Fragment:
		return core.FragmentFilename
	default:
		return ""
	}
}

// Classify reports the kind of entity stored at dir by probing its
// marker files. The probe order is fixed so a damaged directory
// carrying more than one marker still classifies deterministically.
func Classify(dir string) Kind {
	if !sys.IsDir(dir) {
		return None
	}
	for _, k := range []Kind{Workspace, Group, Array, Metadata, Fragment} {
		if sys.IsFile(filepath.Join(dir, Marker(k))) {
			return k
		}
	}
	return None
}

// CanContain reports whether an entity of kind child may be created
// directly under a parent of kind parent. Workspaces are never
// contained: they require a plain, non-entity parent directory.
func CanContain(parent, child Kind) bool {
	switch child {
	case Group, Array:
		return parent == Workspace || parent == Group
	case Metadata:
		return parent == Workspace || parent == Group || parent == Array
	case Fragment:
		return parent == Array || parent == Metadata
	default:
		return false
	}
}
