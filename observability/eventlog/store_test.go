package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tokensale/core/types"
)

type envelope struct{ evt *types.Event }

func (e envelope) EventType() string { return e.evt.Type }
func (e envelope) Event() *types.Event { return e.evt }

func TestStoreAppendAndList(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	first, err := store.Append(ctx, &types.Event{Type: "crowdsale.cap.set", Attributes: map[string]string{"cap": "10"}})
	require.NoError(t, err)
	second, err := store.Append(ctx, &types.Event{Type: "crowdsale.settled"})
	require.NoError(t, err)
	require.Greater(t, second, first)

	all, err := store.List(ctx, 0, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "10", all[0].Attributes["cap"])
	require.Empty(t, all[1].Attributes)

	after, err := store.List(ctx, first, "", 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "crowdsale.settled", after[0].Type)

	filtered, err := store.List(ctx, 0, "crowdsale.cap.set", 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	_, err = store.Append(ctx, nil)
	require.Error(t, err)
}

func TestEmitterPersistsEvents(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	emitter := NewEmitter(store, nil)
	emitter.Emit(envelope{evt: &types.Event{Type: "token.transfer", Attributes: map[string]string{"amount": "5"}}})

	records, err := store.List(context.Background(), 0, "token.transfer", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "5", records[0].Attributes["amount"])
}

func TestEmitterPublishesToSubscribers(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	emitter := NewEmitter(store, nil)
	live, cancel := emitter.Subscribe(4)
	emitter.Emit(envelope{evt: &types.Event{Type: "crowdsale.contribution", Attributes: map[string]string{"accepted": "10"}}})

	rec := <-live
	require.Equal(t, "crowdsale.contribution", rec.Type)
	require.Equal(t, "10", rec.Attributes["accepted"])
	stored, err := store.List(context.Background(), 0, "", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, stored[0].Sequence, rec.Sequence)

	cancel()
	_, open := <-live
	require.False(t, open)
	cancel()
}

func TestEmitterDropsLaggingSubscriber(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	emitter := NewEmitter(store, nil)
	live, cancel := emitter.Subscribe(1)
	defer cancel()
	emitter.Emit(envelope{evt: &types.Event{Type: "a"}})
	emitter.Emit(envelope{evt: &types.Event{Type: "b"}})

	first, open := <-live
	require.True(t, open)
	require.Equal(t, "a", first.Type)
	_, open = <-live
	require.False(t, open)

	records, err := store.List(context.Background(), first.Sequence, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "b", records[0].Type)
}
