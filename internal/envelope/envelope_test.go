package envelope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nfrund/modlink/internal/envelope"
)

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		topic   string
		want    bool
	}{
		{"exact match", "pet.state.changed", "pet.state.changed", true},
		{"exact mismatch", "pet.state.changed", "pet.state.updated", false},
		{"wildcard matches child", "pet.*", "pet.state", true},
		{"wildcard matches deep child", "pet.*", "pet.state.changed", true},
		{"wildcard does not match bare prefix", "pet.*", "pet", false},
		{"wildcard does not match sibling prefix", "pet.*", "petstore.open", false},
		{"star matches everything", "*", "anything.at.all", true},
		{"deep wildcard", "module.reply.*", "module.reply.dashboard", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, envelope.MatchTopic(tc.pattern, tc.topic))
		})
	}
}

func TestIsWildcard(t *testing.T) {
	assert.True(t, envelope.IsWildcard("pet.*"))
	assert.True(t, envelope.IsWildcard("*"))
	assert.False(t, envelope.IsWildcard("pet.state.changed"))
}

func TestSequencer(t *testing.T) {
	seq := envelope.NewSequencer()

	t.Run("strictly increasing per sender", func(t *testing.T) {
		var last uint64
		for i := 0; i < 100; i++ {
			n := seq.Next("petstate")
			assert.Greater(t, n, last)
			last = n
		}
		assert.Equal(t, last, seq.Current("petstate"))
	})

	t.Run("independent per sender", func(t *testing.T) {
		assert.Equal(t, uint64(1), seq.Next("dashboard"))
		assert.Equal(t, uint64(0), seq.Current("settings"))
	})
}
