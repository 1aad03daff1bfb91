package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tokensale/storage"
)

type sample struct {
	Name   string
	Amount *big.Int
	Flag   bool
}

func TestKVRoundTripAndCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	require.NoError(t, mgr.KVPut([]byte("sample"), sample{Name: "a", Amount: big.NewInt(42), Flag: true}))

	var got sample
	ok, err := mgr.KVGet([]byte("sample"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got.Name)
	require.Zero(t, got.Amount.Cmp(big.NewInt(42)))

	// Nothing reaches the backend before Commit.
	fresh := NewManager(db)
	ok, err = fresh.KVGet([]byte("sample"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, 1, mgr.Pending())
	require.NoError(t, mgr.Commit())
	require.Zero(t, mgr.Pending())

	ok, err = fresh.KVGet([]byte("sample"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Flag)
}

func TestRevertToSnapshot(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("x"), uint64(1)))
	require.NoError(t, mgr.Commit())

	snap := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("x"), uint64(2)))
	require.NoError(t, mgr.KVPut([]byte("y"), uint64(3)))
	require.NoError(t, mgr.KVDelete([]byte("x")))

	ok, err := mgr.KVGet([]byte("x"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	mgr.RevertToSnapshot(snap)

	var value uint64
	ok, err = mgr.KVGet([]byte("x"), &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), value)
	ok, err = mgr.KVGet([]byte("y"), nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, mgr.Pending())
}

func TestNestedSnapshots(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	outer := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(1)))
	inner := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(2)))

	mgr.RevertToSnapshot(inner)
	var value uint64
	_, err := mgr.KVGet([]byte("a"), &value)
	require.NoError(t, err)
	require.Equal(t, uint64(1), value)

	mgr.RevertToSnapshot(outer)
	ok, err := mgr.KVGet([]byte("a"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVAppendAndList(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("list"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	require.NoError(t, mgr.KVAppend([]byte("list"), []byte{0x02}))
	require.NoError(t, mgr.KVAppend([]byte("list"), []byte{0x01}))
	require.NoError(t, mgr.KVAppend([]byte("list"), []byte{0x02}))

	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("list"), &list))
	require.Equal(t, [][]byte{{0x02}, {0x01}}, list)
}

func TestDiscard(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("k"), uint64(9)))
	mgr.Discard()
	require.NoError(t, mgr.Commit())
	ok, err := NewManager(db).KVGet([]byte("k"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEmptyKeyRejected(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.KVPut(nil, uint64(1)))
	_, err := mgr.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, mgr.KVDelete(nil))
}
