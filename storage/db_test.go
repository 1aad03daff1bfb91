package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	ok, err := db.Has([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	batch := NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Put([]byte("c"), []byte("3"))
	batch.Delete([]byte("a"))
	require.Equal(t, 3, batch.Len())
	require.NoError(t, db.Write(batch))

	ok, err = db.Has([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
	value, err = db.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), value)

	require.NoError(t, db.Delete([]byte("b")))
	_, err = db.Get([]byte("b"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("x")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'y'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "sale"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
