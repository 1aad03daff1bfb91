package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// HeaderAuthorization carries the bearer token.
	HeaderAuthorization = "Authorization"

	defaultTokenTTL  = time.Hour
	defaultClockSkew = 2 * time.Minute
	maxClockSkew     = 5 * time.Minute
)

var (
	ErrMissingToken     = errors.New("auth: missing bearer token")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrSecretNotSet     = errors.New("auth: signing secret not configured")
	ErrInvalidPrincipal = errors.New("auth: subject is not an address")
)

// Principal is an authenticated caller. Its address is the identity the sale
// engine sees for every privileged or paying call.
type Principal struct {
	Address   common.Address
	ExpiresAt time.Time
}

// Config controls token issuance and verification.
type Config struct {
	Secret    []byte
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
}

// Authenticator issues and verifies HS256 bearer tokens whose subject is the
// caller's hex address.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	skew     time.Duration
	nowFn    func() time.Time
}

// NewAuthenticator builds an Authenticator from cfg.
func NewAuthenticator(cfg Config, nowFn func() time.Time) (*Authenticator, error) {
	secret := []byte(strings.TrimSpace(string(cfg.Secret)))
	if len(secret) == 0 {
		return nil, ErrSecretNotSet
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	if skew > maxClockSkew {
		skew = maxClockSkew
	}
	return &Authenticator{
		secret:   secret,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		ttl:      ttl,
		skew:     skew,
		nowFn:    nowFn,
	}, nil
}

// Issue mints a token for addr.
func (a *Authenticator) Issue(addr common.Address) (string, error) {
	if addr == (common.Address{}) {
		return "", ErrInvalidPrincipal
	}
	now := a.nowFn().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   addr.Hex(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and returns the caller it names.
func (a *Authenticator) Verify(tokenString string) (*Principal, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.skew),
		jwt.WithTimeFunc(a.nowFn),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if !common.IsHexAddress(claims.Subject) {
		return nil, ErrInvalidPrincipal
	}
	addr := common.HexToAddress(claims.Subject)
	if addr == (common.Address{}) {
		return nil, ErrInvalidPrincipal
	}
	principal := &Principal{Address: addr}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

// Authenticate verifies the bearer token carried by r.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	return a.Verify(BearerToken(r.Header.Get(HeaderAuthorization)))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
