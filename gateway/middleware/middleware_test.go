package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tokensale/gateway/auth"
)

func newIdempotency(t *testing.T) (*Idempotency, *IdempotencyStore) {
	t.Helper()
	store, err := OpenIdempotencyStore(filepath.Join(t.TempDir(), "idem.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewIdempotency(store, nil), store
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	idem, _ := newIdempotency(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"r-1"}`))
	}))

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/contributions", strings.NewReader(body))
		req.Header.Set(HeaderIdempotencyKey, "k-1")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		return res
	}

	first := send(`{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	second := send(`{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(HeaderIdempotentReplay))
	require.JSONEq(t, `{"id":"r-1"}`, second.Body.String())
	require.EqualValues(t, 1, calls.Load())

	conflict := send(`{"amount":"11"}`)
	require.Equal(t, http.StatusUnprocessableEntity, conflict.Code)
	require.EqualValues(t, 1, calls.Load())
}

func TestIdempotencyScopesKeysByCaller(t *testing.T) {
	idem, _ := newIdempotency(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	for _, addr := range []string{"0x00000000000000000000000000000000000000c1", "0x00000000000000000000000000000000000000c2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/contributions", strings.NewReader(`{}`))
		req.Header.Set(HeaderIdempotencyKey, "shared")
		req = req.WithContext(WithPrincipal(req.Context(), &auth.Principal{Address: common.HexToAddress(addr)}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	idem, _ := newIdempotency(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/settlement", nil)
		req.Header.Set(HeaderIdempotencyKey, "retry")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestIdempotencyStorePrune(t *testing.T) {
	_, store := newIdempotency(t)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	require.NoError(t, store.Put("a", IdempotencyRecord{StatusCode: 200}))
	_, found, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, found)

	now = now.Add(2 * time.Hour)
	_, found, err = store.Get("a")
	require.NoError(t, err)
	require.False(t, found)
	removed, err := store.Prune()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

type stubVerifier struct {
	principal *auth.Principal
	err       error
}

func (s stubVerifier) Authenticate(*http.Request) (*auth.Principal, error) { return s.principal, s.err }

func TestAuthenticatorStoresPrincipal(t *testing.T) {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	var seen common.Address
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		require.True(t, ok)
		seen = principal.Address
	})

	ok := NewAuthenticator(stubVerifier{principal: &auth.Principal{Address: caller}}, nil).Middleware(next)
	res := httptest.NewRecorder()
	ok.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, caller, seen)

	denied := NewAuthenticator(stubVerifier{err: auth.ErrInvalidToken}, nil).Middleware(next)
	res = httptest.NewRecorder()
	denied.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestObservabilitySetsRequestID(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{}, nil)
	handler := obs.Middleware("status")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusAccepted, res.Code)
	require.NotEmpty(t, res.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set(HeaderRequestID, "fixed")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "fixed", res.Header().Get(HeaderRequestID))
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://sale.example"}})(okHandler())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodOptions, "/v1/contributions", nil))
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, "https://sale.example", res.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), HeaderIdempotencyKey)
}
