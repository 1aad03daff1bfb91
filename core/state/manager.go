package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/storage"
)

// Manager provides RLP-encoded key/value access to sale state on top of a
// storage backend. Writes are buffered in a journal until Commit flushes them
// in a single batch; RevertToSnapshot unwinds buffered writes. A Manager is not
// safe for concurrent use; callers serialise access.
type Manager struct {
	db      storage.Database
	dirty   map[string]dirtyEntry
	journal []journalEntry
}

type dirtyEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyEntry
	hadPrev bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		dirty: make(map[string]dirtyEntry),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) write(hashed []byte, entry dirtyEntry) {
	key := string(hashed)
	prev, hadPrev := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadPrev: hadPrev})
	m.dirty[key] = entry
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot discards every write buffered after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Pending reports the number of buffered key writes awaiting Commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Commit flushes every buffered write to the database in one batch. On error
// the buffer is kept so the caller can decide whether to retry or Discard.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	batch := storage.NewBatch()
	for key, entry := range m.dirty {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]dirtyEntry)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every buffered write.
func (m *Manager) Discard() {
	m.dirty = make(map[string]dirtyEntry)
	m.journal = m.journal[:0]
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the backend.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), dirtyEntry{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), dirtyEntry{deleted: true})
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored and insertion order is
// preserved.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(hashed, dirtyEntry{value: encoded})
	return nil
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
