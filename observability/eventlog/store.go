package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tokensale/core/events"
	"tokensale/core/types"
)

const defaultListLimit = 100

// Record is a committed event as stored in the audit log.
type Record struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Store persists committed sale events in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps sequence assignment ordered and lets
	// ":memory:" databases survive across calls.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores evt and returns its sequence number.
func (s *Store) Append(ctx context.Context, evt *types.Event) (int64, error) {
	rec, err := s.append(ctx, evt)
	if err != nil {
		return 0, err
	}
	return rec.Sequence, nil
}

func (s *Store) append(ctx context.Context, evt *types.Event) (Record, error) {
	if evt == nil {
		return Record{}, fmt.Errorf("eventlog: nil event")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return Record{}, err
	}
	created := s.now().UTC()
	const stmt = `INSERT INTO events(type, payload, created_at) VALUES(?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, evt.Type, string(payload), created)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: append: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Record{}, err
	}
	clone := make(map[string]string, len(attrs))
	for k, v := range attrs {
		clone[k] = v
	}
	return Record{Sequence: seq, Type: evt.Type, Attributes: clone, CreatedAt: created}, nil
}

// List returns up to limit events with a sequence above after, optionally
// filtered by type.
func (s *Store) List(ctx context.Context, after int64, eventType string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	query := `SELECT sequence, type, payload, created_at FROM events WHERE sequence > ?`
	args := []any{after}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
		)
		if err := rows.Scan(&rec.Sequence, &rec.Type, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("eventlog: decode sequence %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Emitter writes every emitted event to the store and publishes the stored
// record to live subscribers in sequence order. Write failures are logged and
// do not propagate; the engine state is already committed when events are
// emitted.
type Emitter struct {
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]chan Record
	nextID uint64
}

func NewEmitter(store *Store, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, logger: logger, subs: make(map[uint64]chan Record)}
}

func (e *Emitter) Emit(evt events.Event) {
	if e == nil || e.store == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.append(ctx, payload)
	if err != nil {
		e.logger.Error("event log append failed", slog.String("type", payload.Type), slog.String("error", err.Error()))
		return
	}
	for id, ch := range e.subs {
		select {
		case ch <- rec:
		default:
			// Subscriber fell behind; closing tells it to resume from the
			// store with its last sequence.
			close(ch)
			delete(e.subs, id)
			e.logger.Warn("event subscriber dropped", slog.Uint64("subscriber", id), slog.Int64("sequence", rec.Sequence))
		}
	}
}

// Subscribe returns a channel receiving every record stored after the call.
// The channel is closed when the subscriber lags by more than buffer records
// or when the returned cancel function runs.
func (e *Emitter) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if current, ok := e.subs[id]; ok && current == ch {
				close(ch)
				delete(e.subs, id)
			}
		})
	}
}
