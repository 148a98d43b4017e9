// Package conflict implements the conflict resolution engine for shared
// entity state.
//
// The engine is handed a pair of competing snapshots by the sync manager,
// picks the policy registered for the entity's type and returns a
// Resolution. It never mutates shared state and never fails for a
// well-formed conflict: an unresolvable conflict comes back as a rejected
// Resolution with a reason.
package conflict

import (
	"time"

	"github.com/nfrund/modlink/internal/payload"
)

// Outcome classifies a resolution.
type Outcome string

const (
	// OutcomeMerged means the resolution produced an authoritative value.
	OutcomeMerged Outcome = "merged"
	// OutcomeRejected means the proposed update was refused and the prior
	// authoritative version stands.
	OutcomeRejected Outcome = "rejected"
)

// Snapshot captures one side of a conflict: a versioned view of a shared
// entity at the moment the conflicting write was made.
type Snapshot struct {
	EntityID   string
	EntityType string
	Version    uint64
	Value      payload.Value
	Writer     string
	WrittenAt  time.Time
}

// Record describes two concurrent updates to the same entity with
// non-comparable versions. Ours is the side currently staged or applied;
// Theirs is the newly proposed side.
type Record struct {
	EntityID   string
	EntityType string
	Ours       Snapshot
	Theirs     Snapshot
	DetectedAt time.Time
}

// Resolution is the engine's verdict on a conflict.
type Resolution struct {
	Outcome Outcome
	// Value is the merged authoritative value when Outcome is OutcomeMerged.
	Value payload.Value
	// Reason explains a rejection.
	Reason string
	// Policy names the policy that produced this resolution.
	Policy string
}

// Merged builds a merged resolution.
func Merged(v payload.Value) Resolution {
	return Resolution{Outcome: OutcomeMerged, Value: v}
}

// Rejected builds a rejected resolution with a reason.
func Rejected(reason string) Resolution {
	return Resolution{Outcome: OutcomeRejected, Reason: reason}
}

// Policy resolves conflicts for one entity type. Implementations must be
// safe for concurrent use and must not retain the record.
type Policy interface {
	// Name identifies the policy in logs and resolution records.
	Name() string
	// Resolve returns the verdict for a conflict. Implementations return a
	// rejected Resolution rather than an error for unresolvable input.
	Resolve(rec Record) Resolution
}
