package ir

// Version constants recorded alongside persisted runs.
const (
	// SnapshotVersion is bumped when the snapshot layout changes.
	SnapshotVersion = "2"

	// EngineVersion is the strand engine version.
	EngineVersion = "0.1.0"
)
