package conflict_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modlink/internal/conflict"
	"github.com/nfrund/modlink/internal/payload"
)

func record(ours, theirs conflict.Snapshot) conflict.Record {
	ours.EntityID, theirs.EntityID = "pet_001", "pet_001"
	ours.EntityType, theirs.EntityType = "pet_state", "pet_state"
	return conflict.Record{
		EntityID:   "pet_001",
		EntityType: "pet_state",
		Ours:       ours,
		Theirs:     theirs,
		DetectedAt: time.Now(),
	}
}

func TestLastWriterWins(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("later write wins", func(t *testing.T) {
		rec := record(
			conflict.Snapshot{Value: payload.String("old"), Writer: "a", WrittenAt: base},
			conflict.Snapshot{Value: payload.String("new"), Writer: "b", WrittenAt: base.Add(time.Second)},
		)
		res := conflict.LastWriterWins{}.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		assert.True(t, res.Value.Equal(payload.String("new")))
	})

	t.Run("earlier proposal loses", func(t *testing.T) {
		rec := record(
			conflict.Snapshot{Value: payload.String("kept"), Writer: "a", WrittenAt: base.Add(time.Second)},
			conflict.Snapshot{Value: payload.String("late"), Writer: "b", WrittenAt: base},
		)
		res := conflict.LastWriterWins{}.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		assert.True(t, res.Value.Equal(payload.String("kept")))
	})

	t.Run("tie goes to lexicographically smaller writer", func(t *testing.T) {
		rec := record(
			conflict.Snapshot{Value: payload.String("zeta"), Writer: "zeta", WrittenAt: base},
			conflict.Snapshot{Value: payload.String("alpha"), Writer: "alpha", WrittenAt: base},
		)
		res := conflict.LastWriterWins{}.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		assert.True(t, res.Value.Equal(payload.String("alpha")),
			"identical timestamps should resolve toward the smaller writer id")
	})

	t.Run("incompatible kinds rejected", func(t *testing.T) {
		rec := record(
			conflict.Snapshot{Value: payload.String("text"), Writer: "a", WrittenAt: base},
			conflict.Snapshot{Value: payload.Int(7), Writer: "b", WrittenAt: base.Add(time.Second)},
		)
		res := conflict.LastWriterWins{}.Resolve(rec)
		assert.Equal(t, conflict.OutcomeRejected, res.Outcome)
		assert.Contains(t, res.Reason, "incompatible value kinds")
	})
}

func TestFieldMerge(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("disjoint fields are combined", func(t *testing.T) {
		rec := record(
			conflict.Snapshot{
				Value:     payload.Map(map[string]payload.Value{"mood": payload.String("happy")}),
				Writer:    "petstate",
				WrittenAt: base,
			},
			conflict.Snapshot{
				Value:     payload.Map(map[string]payload.Value{"energy": payload.Int(80)}),
				Writer:    "scheduler",
				WrittenAt: base.Add(time.Millisecond),
			},
		)
		res := conflict.FieldMerge{}.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		mood, _ := res.Value.Field("mood")
		energy, _ := res.Value.Field("energy")
		assert.True(t, mood.Equal(payload.String("happy")))
		assert.True(t, energy.Equal(payload.Int(80)))
	})

	t.Run("overlapping field goes to the later writer", func(t *testing.T) {
		rec := record(
			conflict.Snapshot{
				Value: payload.Map(map[string]payload.Value{
					"mood":   payload.String("happy"),
					"energy": payload.Int(80),
				}),
				Writer:    "petstate",
				WrittenAt: base.Add(time.Second),
			},
			conflict.Snapshot{
				Value:     payload.Map(map[string]payload.Value{"mood": payload.String("sad")}),
				Writer:    "scheduler",
				WrittenAt: base,
			},
		)
		res := conflict.FieldMerge{}.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		mood, _ := res.Value.Field("mood")
		energy, _ := res.Value.Field("energy")
		assert.True(t, mood.Equal(payload.String("happy")), "ours wrote later, its field should stand")
		assert.True(t, energy.Equal(payload.Int(80)))
	})

	t.Run("non-map payload degrades to last-writer-wins", func(t *testing.T) {
		rec := record(
			conflict.Snapshot{Value: payload.Int(1), Writer: "a", WrittenAt: base},
			conflict.Snapshot{Value: payload.Int(2), Writer: "b", WrittenAt: base.Add(time.Second)},
		)
		res := conflict.FieldMerge{}.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		assert.True(t, res.Value.Equal(payload.Int(2)))
	})
}

type stubPolicy struct {
	name  string
	calls int
	res   conflict.Resolution
}

func (p *stubPolicy) Name() string { return p.name }
func (p *stubPolicy) Resolve(conflict.Record) conflict.Resolution {
	p.calls++
	return p.res
}

func TestEngine(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := record(
		conflict.Snapshot{Value: payload.String("a"), Writer: "a", WrittenAt: base},
		conflict.Snapshot{Value: payload.String("b"), Writer: "b", WrittenAt: base.Add(time.Second)},
	)

	t.Run("uses registered policy for the entity type", func(t *testing.T) {
		engine := conflict.NewEngine()
		custom := &stubPolicy{name: "custom", res: conflict.Rejected("nope")}
		engine.RegisterPolicy("pet_state", custom)

		res := engine.Resolve(rec)
		assert.Equal(t, 1, custom.calls)
		assert.Equal(t, conflict.OutcomeRejected, res.Outcome)
		assert.Equal(t, "custom", res.Policy, "resolution should name the policy that produced it")
	})

	t.Run("falls back for unknown entity types", func(t *testing.T) {
		engine := conflict.NewEngine()
		res := engine.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		assert.Equal(t, "field-merge", res.Policy)
		assert.True(t, res.Value.Equal(payload.String("b")))
	})

	t.Run("history is recorded and bounded", func(t *testing.T) {
		engine := conflict.NewEngine(conflict.WithHistoryLimit(3))
		for i := 0; i < 5; i++ {
			r := rec
			r.Theirs.Value = payload.Int(int64(i))
			r.Ours.Value = payload.Int(int64(i - 1))
			engine.Resolve(r)
		}
		history := engine.History("pet_001")
		require.Len(t, history, 3, "history should be trimmed to the limit")
		assert.True(t, history[2].Record.Theirs.Value.Equal(payload.Int(4)),
			"newest resolutions should survive trimming")
		assert.Empty(t, engine.History("other"), "history is tracked per entity")
	})
}

func TestScriptPolicy(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("merges via script", func(t *testing.T) {
		source := []byte(`
out := {}
for k, v in ours { out[k] = v }
for k, v in theirs { out[k] = v }
out["resolved_by"] = "script"
merged = out
`)
		policy, err := conflict.NewScriptPolicy("union", source)
		require.NoError(t, err)

		rec := record(
			conflict.Snapshot{
				Value:     payload.Map(map[string]payload.Value{"mood": payload.String("happy")}),
				Writer:    "a",
				WrittenAt: base,
			},
			conflict.Snapshot{
				Value:     payload.Map(map[string]payload.Value{"energy": payload.Int(80)}),
				Writer:    "b",
				WrittenAt: base.Add(time.Second),
			},
		)
		res := policy.Resolve(rec)
		require.Equal(t, conflict.OutcomeMerged, res.Outcome)
		by, _ := res.Value.Field("resolved_by")
		assert.True(t, by.Equal(payload.String("script")))
		mood, _ := res.Value.Field("mood")
		assert.True(t, mood.Equal(payload.String("happy")))
	})

	t.Run("rejects via script", func(t *testing.T) {
		policy, err := conflict.NewScriptPolicy("refuse", []byte(`reject_reason = "manual review required"`))
		require.NoError(t, err)

		res := policy.Resolve(record(conflict.Snapshot{}, conflict.Snapshot{}))
		assert.Equal(t, conflict.OutcomeRejected, res.Outcome)
		assert.Equal(t, "manual review required", res.Reason)
	})

	t.Run("script without a verdict is rejected", func(t *testing.T) {
		policy, err := conflict.NewScriptPolicy("noop", []byte(`x := 1`))
		require.NoError(t, err)

		res := policy.Resolve(record(conflict.Snapshot{}, conflict.Snapshot{}))
		assert.Equal(t, conflict.OutcomeRejected, res.Outcome)
		assert.Contains(t, res.Reason, "no merged value")
	})

	t.Run("compile errors fail at construction", func(t *testing.T) {
		_, err := conflict.NewScriptPolicy("broken", []byte(`merged = `))
		assert.Error(t, err)
	})

	t.Run("runaway script times out", func(t *testing.T) {
		policy, err := conflict.NewScriptPolicy("spin", []byte(`for { }`),
			conflict.WithScriptTimeout(20*time.Millisecond))
		require.NoError(t, err)

		res := policy.Resolve(record(conflict.Snapshot{}, conflict.Snapshot{}))
		assert.Equal(t, conflict.OutcomeRejected, res.Outcome)
	})
}

func ExampleNewScriptPolicy() {
	policy, _ := conflict.NewScriptPolicy("prefer-theirs", []byte(`merged = theirs`))
	res := policy.Resolve(conflict.Record{
		EntityID: "pet_001",
		Ours:     conflict.Snapshot{Value: payload.String("old")},
		Theirs:   conflict.Snapshot{Value: payload.String("new")},
	})
	fmt.Println(res.Outcome, res.Value)
	// Output: merged "new"
}
