package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

var caller = common.HexToAddress("0x00000000000000000000000000000000000000c1")

func newTestAuthenticator(t *testing.T, now *time.Time) *Authenticator {
	t.Helper()
	auth, err := NewAuthenticator(Config{
		Secret:   []byte("s3cret"),
		Issuer:   "tokensale",
		Audience: "tokensale-gateway",
		TTL:      time.Hour,
	}, func() time.Time { return *now })
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return auth
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(t, &now)
	token, err := auth.Issue(caller)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest("POST", "/v1/contributions", nil)
	req.Header.Set(HeaderAuthorization, "Bearer "+token)
	principal, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.Address != caller {
		t.Fatalf("unexpected principal %s", principal.Address.Hex())
	}
	if !principal.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", principal.ExpiresAt)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(t, &now)
	token, err := auth.Issue(caller)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := auth.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(t, &now)

	other, err := NewAuthenticator(Config{Secret: []byte("other"), Issuer: "tokensale", Audience: "tokensale-gateway"}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	forged, _ := other.Issue(caller)
	if _, err := auth.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	wrongAudience, err := NewAuthenticator(Config{Secret: []byte("s3cret"), Issuer: "tokensale", Audience: "elsewhere"}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	token, _ := wrongAudience.Issue(caller)
	if _, err := auth.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience failure, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: caller.Hex()})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := auth.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unsigned token to fail, got %v", err)
	}
}

func TestVerifyRequiresAddressSubject(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(t, &now)
	claims := jwt.RegisteredClaims{
		Subject:   "operator",
		Issuer:    "tokensale",
		Audience:  jwt.ClaimStrings{"tokensale-gateway"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.Verify(token); !errors.Is(err, ErrInvalidPrincipal) {
		t.Fatalf("expected ErrInvalidPrincipal, got %v", err)
	}
	if _, err := auth.Issue(common.Address{}); !errors.Is(err, ErrInvalidPrincipal) {
		t.Fatalf("expected ErrInvalidPrincipal for zero address, got %v", err)
	}
}

func TestMissingTokenAndSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(t, &now)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderAuthorization, "Basic abc")
	if _, err := auth.Authenticate(req); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := NewAuthenticator(Config{Secret: []byte("  ")}, nil); !errors.Is(err, ErrSecretNotSet) {
		t.Fatalf("expected ErrSecretNotSet, got %v", err)
	}
}
