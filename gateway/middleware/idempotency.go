package middleware

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"tokensale/observability"
)

const (
	// HeaderIdempotencyKey lets clients retry a write without repeating it.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from the store.
	HeaderIdempotentReplay = "Idempotent-Replay"

	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotentBody     = 1 << 20
	maxIdempotencyKeyLen  = 128
)

var bucketResponses = []byte("responses")

// IdempotencyRecord is a stored response for one client key.
type IdempotencyRecord struct {
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"statusCode"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IdempotencyStore persists responses in a Bolt database.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// OpenIdempotencyStore opens (or creates) the store at path.
func OpenIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &IdempotencyStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the live record stored under key.
func (s *IdempotencyStore) Get(key string) (IdempotencyRecord, bool, error) {
	var (
		record IdempotencyRecord
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketResponses).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		found = s.now().Before(record.ExpiresAt)
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return record, found, nil
}

// Put stores record under key, stamping its lifetime.
func (s *IdempotencyStore) Put(key string, record IdempotencyRecord) error {
	now := s.now()
	record.StoredAt = now
	record.ExpiresAt = now.Add(s.ttl)
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResponses).Put([]byte(key), encoded)
	})
}

// Prune drops expired records and reports how many were removed.
func (s *IdempotencyStore) Prune() (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var record IdempotencyRecord
			if err := json.Unmarshal(v, &record); err != nil || !now.Before(record.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Idempotency replays the stored response when a client repeats a write with
// the same Idempotency-Key and body. A reused key with a different body is
// rejected with 422, and a key still being processed with 409.
type Idempotency struct {
	store    *IdempotencyStore
	logger   *slog.Logger
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewIdempotency(store *IdempotencyStore, logger *slog.Logger) *Idempotency {
	if logger == nil {
		logger = slog.Default()
	}
	return &Idempotency{store: store, logger: logger, inflight: make(map[string]struct{})}
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if i == nil || i.store == nil || idem == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(idem) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unable to read request body")
			return
		}
		if len(body) > maxIdempotentBody {
			writeError(w, http.StatusRequestEntityTooLarge, "")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller := ""
		if principal, ok := PrincipalFrom(r.Context()); ok {
			caller = principal.Address.Hex()
		}
		key := fmt.Sprintf("%s|%s|%s|%s", caller, r.Method, r.URL.Path, idem)
		fingerprint := fingerprintBody(body)

		if !i.acquire(key) {
			observability.Gateway().RecordIdempotency("conflict")
			writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
			return
		}
		defer i.release(key)

		record, found, err := i.store.Get(key)
		if err != nil {
			i.logger.Error("idempotency lookup failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "")
			return
		}
		if found {
			if record.Fingerprint != fingerprint {
				observability.Gateway().RecordIdempotency("mismatch")
				writeError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request")
				return
			}
			if record.ContentType != "" {
				w.Header().Set("Content-Type", record.ContentType)
			}
			observability.Gateway().RecordIdempotency("replayed")
			w.Header().Set(HeaderIdempotentReplay, "true")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		if capture.status >= http.StatusInternalServerError {
			return
		}
		if err := i.store.Put(key, IdempotencyRecord{
			Fingerprint: fingerprint,
			StatusCode:  capture.status,
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
		}); err != nil {
			i.logger.Error("idempotency store failed", slog.String("error", err.Error()))
			return
		}
		observability.Gateway().RecordIdempotency("stored")
	})
}

func (i *Idempotency) acquire(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, busy := i.inflight[key]; busy {
		return false
	}
	i.inflight[key] = struct{}{}
	return true
}

func (i *Idempotency) release(key string) {
	i.mu.Lock()
	delete(i.inflight, key)
	i.mu.Unlock()
}

func fingerprintBody(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.wroteHeader = true
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
