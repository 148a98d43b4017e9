package conflict

import (
	"fmt"

	"github.com/nfrund/modlink/internal/payload"
)

// LastWriterWins resolves conflicts by write timestamp: the later write wins
// the whole value. Identical timestamps break ties toward the
// lexicographically smaller writer module id, so resolution is deterministic
// on every node that observes the same pair of writes.
type LastWriterWins struct{}

// Name implements Policy.
func (LastWriterWins) Name() string { return "last-writer-wins" }

// Resolve implements Policy.
func (LastWriterWins) Resolve(rec Record) Resolution {
	if rec.Ours.Value.Kind() != rec.Theirs.Value.Kind() {
		return Rejected(fmt.Sprintf("incompatible value kinds: %s vs %s",
			rec.Ours.Value.Kind(), rec.Theirs.Value.Kind()))
	}
	if theirsWin(rec) {
		return Merged(rec.Theirs.Value)
	}
	return Merged(rec.Ours.Value)
}

// FieldMerge resolves conflicts between map payloads field by field: fields
// present on only one side are combined, fields present on both sides with
// differing values fall back to last-writer-wins for that field only.
// Non-map payloads fall back to whole-value last-writer-wins.
type FieldMerge struct{}

// Name implements Policy.
func (FieldMerge) Name() string { return "field-merge" }

// Resolve implements Policy.
func (FieldMerge) Resolve(rec Record) Resolution {
	ours, oursIsMap := rec.Ours.Value.AsMap()
	theirs, theirsIsMap := rec.Theirs.Value.AsMap()

	if !oursIsMap || !theirsIsMap {
		return LastWriterWins{}.Resolve(rec)
	}

	preferTheirs := theirsWin(rec)
	merged := make(map[string]payload.Value, len(ours)+len(theirs))
	for k, v := range ours {
		merged[k] = v
	}
	for k, tv := range theirs {
		ov, present := merged[k]
		switch {
		case !present:
			merged[k] = tv
		case tv.Equal(ov):
			// Both sides agree; nothing to decide.
		case preferTheirs:
			merged[k] = tv
		}
	}
	return Merged(payload.Map(merged))
}

// theirsWin reports whether the proposed side is authoritative: later write
// wins, identical timestamps go to the lexicographically smaller writer id.
func theirsWin(rec Record) bool {
	if rec.Theirs.WrittenAt.After(rec.Ours.WrittenAt) {
		return true
	}
	if rec.Ours.WrittenAt.After(rec.Theirs.WrittenAt) {
		return false
	}
	return rec.Theirs.Writer < rec.Ours.Writer
}
