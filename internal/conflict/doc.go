// Package conflict detects keys whose stored values diverge across storage
// layers and resolves them with configurable strategies.
//
// Detection reads every configured layer for a key and compares checksums of
// the stored values. Divergent keys become Conflicts, classified by how the
// versions differ and graded by age. Resolution picks a winning value,
// writes it back to the affected layers and archives the conflict. Conflicts
// that need a person (schema changes, critical age) are skipped by automatic
// resolution and wait for ForceManualResolution.
package conflict
