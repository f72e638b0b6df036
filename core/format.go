package core

// On-disk names. Every entity directory is classified by the marker file
// it contains; all auxiliary files share the ".tdb" suffix.
const (
	// FileSuffix is the extension of every bookkeeping file.
	FileSuffix = ".tdb"
	// GZIPSuffix is appended to compressed bookkeeping files.
	GZIPSuffix = ".gz"

	// WorkspaceFilename marks a workspace directory.
	WorkspaceFilename = "__tiledb_workspace.tdb"
	// GroupFilename marks a group directory.
	GroupFilename = "__tiledb_group.tdb"
	// ArraySchemaFilename marks an array directory and stores its schema.
	ArraySchemaFilename = "__array_schema.tdb"
	// MetadataSchemaFilename marks a metadata directory and stores its schema.
	MetadataSchemaFilename = "__metadata_schema.tdb"
	// FragmentFilename marks a committed fragment directory.
	FragmentFilename = "__tiledb_fragment.tdb"
	// BookKeepingFilename stores a fragment's summary state, gzip-compressed.
	BookKeepingFilename = "__book_keeping.tdb.gz"

	// ConsolidationLockName is the per-array advisory lock file. Readers
	// hold it shared while an array is open; consolidation takes it
	// exclusively before swapping fragments.
	ConsolidationLockName = "__consolidation_lock"

	// CoordsName is the attribute file holding cell coordinates. A
	// fragment without it is dense.
	CoordsName = "__coords"
)

// Name and path limits, matching the wire format.
const (
	// MaxNameLen bounds the canonical path of an entity.
	MaxNameLen = 4096
	// MaxPathLen bounds any raw path input before canonicalisation.
	MaxPathLen = 16384
)

// Serialization constants.
const (
	// SchemaMagic opens every serialized schema blob.
	SchemaMagic uint32 = 0x54444253 // "TDBS"
	// BookKeepingMagic opens every serialized book-keeping blob.
	BookKeepingMagic uint32 = 0x54444242 // "TDBB"
	// FormatVersion is bumped on incompatible layout changes.
	FormatVersion uint8 = 1
)
