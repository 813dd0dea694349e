package core

import "fmt"

// This file centralizes constants related to file formats, magic numbers,
// and file names used across the persistence engine.

// --- Magic Numbers ---
const (
	// JournalMagicNumber identifies the mutation journal file.
	JournalMagicNumber uint32 = 0x4C4E524A // "JRNL"
	// SnapshotMagicNumber identifies a snapshot file.
	SnapshotMagicNumber uint32 = 0x50414E53 // "SNAP"
)

// --- File Names ---
const (
	// JournalFileName is the name of the append-only mutation journal
	// inside a data directory.
	JournalFileName = "JOURNAL"
	// SnapshotFileName is the name of the current snapshot file.
	SnapshotFileName = "SNAPSHOT"
)

// FormatVersion is the current version for all persistent file formats.
const FormatVersion uint8 = 1

// FormatTempFilename builds the name of a transient file used during an
// atomic replacement, e.g. "SNAPSHOT.tmp".
func FormatTempFilename(prefix, postfix string) string {
	return fmt.Sprintf("%s.%s", prefix, postfix)
}

// FormatRetainedSnapshotName names a superseded snapshot kept for manual
// inspection after a fold, e.g. "SNAPSHOT.0000000000001000".
func FormatRetainedSnapshotName(generation uint64) string {
	return fmt.Sprintf("%s.%016d", SnapshotFileName, generation)
}
