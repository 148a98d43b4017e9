package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modlink/internal/bus"
	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/payload"
)

func newBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Config{})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// collector returns a handler that funnels envelopes into a channel.
func collector() (bus.Handler, <-chan envelope.Envelope) {
	ch := make(chan envelope.Envelope, 64)
	return func(ctx context.Context, env envelope.Envelope) error {
		ch <- env
		return nil
	}, ch
}

func waitEnvelope(t *testing.T, ch <-chan envelope.Envelope) envelope.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return envelope.Envelope{}
	}
}

func assertNoEnvelope(t *testing.T, ch <-chan envelope.Envelope) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope on topic %s from %s", env.Topic, env.Sender)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishDelivers(t *testing.T) {
	b := newBus(t)
	handler, ch := collector()

	_, err := b.Subscribe("pet.state.changed", "dashboard", handler)
	require.NoError(t, err)

	state := payload.Map(map[string]payload.Value{"mood": payload.String("happy")})
	require.NoError(t, b.Publish(context.Background(), envelope.New("pet.state.changed", "petstate", state)))

	env := waitEnvelope(t, ch)
	assert.Equal(t, "pet.state.changed", env.Topic)
	assert.Equal(t, "petstate", env.Sender)
	assert.NotEmpty(t, env.ID, "bus should assign an envelope id")
	assert.Equal(t, uint64(1), env.Sequence, "bus should assign the first sequence for the sender")
	assert.False(t, env.CreatedAt.IsZero())
	assert.True(t, env.Payload.Equal(state))
}

func TestWildcardSubscription(t *testing.T) {
	b := newBus(t)
	handler, ch := collector()

	_, err := b.Subscribe("pet.*", "dashboard", handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, envelope.New("pet.state.changed", "petstate", payload.Null())))
	require.NoError(t, b.Publish(ctx, envelope.New("settings.changed", "settings", payload.Null())))

	env := waitEnvelope(t, ch)
	assert.Equal(t, "pet.state.changed", env.Topic)
	assertNoEnvelope(t, ch)
}

func TestTargetedDelivery(t *testing.T) {
	b := newBus(t)
	dashHandler, dashCh := collector()
	statsHandler, statsCh := collector()

	_, err := b.Subscribe("pet.state.changed", "dashboard", dashHandler)
	require.NoError(t, err)
	_, err = b.Subscribe("pet.state.changed", "stats", statsHandler)
	require.NoError(t, err)

	env := envelope.New("pet.state.changed", "petstate", payload.Null()).WithTarget("dashboard")
	require.NoError(t, b.Publish(context.Background(), env))

	got := waitEnvelope(t, dashCh)
	assert.Equal(t, "dashboard", got.Target)
	assertNoEnvelope(t, statsCh)
}

func TestSenderHearsOnlyExactSelfSubscriptions(t *testing.T) {
	b := newBus(t)
	exactHandler, exactCh := collector()
	wildHandler, wildCh := collector()

	_, err := b.Subscribe("pet.state.changed", "petstate", exactHandler)
	require.NoError(t, err)
	_, err = b.Subscribe("pet.*", "petstate", wildHandler)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), envelope.New("pet.state.changed", "petstate", payload.Null())))

	env := waitEnvelope(t, exactCh)
	assert.Equal(t, "petstate", env.Sender)
	assertNoEnvelope(t, wildCh)
}

func TestResubscribeReplaces(t *testing.T) {
	b := newBus(t)
	oldHandler, oldCh := collector()
	newHandler, newCh := collector()

	_, err := b.Subscribe("pet.state.changed", "dashboard", oldHandler)
	require.NoError(t, err)
	_, err = b.Subscribe("pet.state.changed", "dashboard", newHandler)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), envelope.New("pet.state.changed", "petstate", payload.Null())))

	waitEnvelope(t, newCh)
	assertNoEnvelope(t, oldCh)
	assert.Len(t, b.Stats(), 1, "replacing a subscription should not duplicate it")
}

func TestUnsubscribe(t *testing.T) {
	b := newBus(t)
	handler, ch := collector()

	h, err := b.Subscribe("pet.state.changed", "dashboard", handler)
	require.NoError(t, err)

	b.Unsubscribe(h)
	b.Unsubscribe(h) // idempotent

	require.NoError(t, b.Publish(context.Background(), envelope.New("pet.state.changed", "petstate", payload.Null())))
	assertNoEnvelope(t, ch)
}

func TestUnsubscribeModule(t *testing.T) {
	b := newBus(t)
	dashHandler, dashCh := collector()
	statsHandler, statsCh := collector()

	_, err := b.Subscribe("pet.*", "dashboard", dashHandler)
	require.NoError(t, err)
	_, err = b.Subscribe("settings.*", "dashboard", dashHandler)
	require.NoError(t, err)
	_, err = b.Subscribe("pet.*", "stats", statsHandler)
	require.NoError(t, err)

	b.UnsubscribeModule("dashboard")

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, envelope.New("pet.state.changed", "petstate", payload.Null())))
	require.NoError(t, b.Publish(ctx, envelope.New("settings.changed", "settings", payload.Null())))

	waitEnvelope(t, statsCh)
	assertNoEnvelope(t, dashCh)
	assert.Len(t, b.Stats(), 1)
}

func TestFailingHandlerIsIsolated(t *testing.T) {
	b := newBus(t)
	okHandler, okCh := collector()

	failing := func(ctx context.Context, env envelope.Envelope) error {
		return errors.New("handler exploded")
	}
	_, err := b.Subscribe("pet.state.changed", "broken", failing)
	require.NoError(t, err)
	_, err = b.Subscribe("pet.state.changed", "dashboard", okHandler)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, envelope.New("pet.state.changed", "petstate", payload.Null())))
	}

	for i := 0; i < 3; i++ {
		waitEnvelope(t, okCh)
	}
}

func TestPerSenderOrdering(t *testing.T) {
	b := newBus(t)

	var mu sync.Mutex
	var got []uint64
	handler := func(ctx context.Context, env envelope.Envelope) error {
		mu.Lock()
		got = append(got, env.Sequence)
		mu.Unlock()
		return nil
	}
	_, err := b.Subscribe("pet.*", "dashboard", handler)
	require.NoError(t, err)

	// Back-to-back publishes are the ones that race into a pipe; a long
	// burst makes any reordering show up reliably.
	ctx := context.Background()
	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(ctx, envelope.New("pet.tick", "petstate", payload.Int(int64(i)))))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 2*time.Second, 10*time.Millisecond, "all envelopes should be delivered")

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range got {
		assert.Equal(t, uint64(i+1), seq, "envelopes from one sender should arrive in publish order")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := newBus(t)
	err := b.Publish(context.Background(), envelope.New("nobody.home", "petstate", payload.Null()))
	assert.NoError(t, err, "publishing into the void is a no-op, not an error")
}

func TestSubscribeValidation(t *testing.T) {
	b := newBus(t)
	handler, _ := collector()

	t.Run("rejects nil handler", func(t *testing.T) {
		_, err := b.Subscribe("pet.*", "dashboard", nil)
		assert.Error(t, err)
	})
	t.Run("rejects empty module id", func(t *testing.T) {
		_, err := b.Subscribe("pet.*", "", handler)
		assert.Error(t, err)
	})
	t.Run("rejects malformed pattern", func(t *testing.T) {
		_, err := b.Subscribe("Pet..*", "dashboard", handler)
		assert.Error(t, err)
	})
}

func TestClosedBus(t *testing.T) {
	b := bus.New(bus.Config{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	handler, _ := collector()
	_, err := b.Subscribe("pet.*", "dashboard", handler)
	assert.ErrorIs(t, err, bus.ErrClosed)

	err = b.Publish(context.Background(), envelope.New("pet.tick", "petstate", payload.Null()))
	assert.ErrorIs(t, err, bus.ErrClosed)
}
