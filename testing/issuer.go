package testing

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/open-rails/accessgate/core"
)

// TestIssuer is a stub trust authority for tests: it serves a JWKS
// document at the authority's certs path, answers the identity-lookup
// endpoint, and mints signed assertions against its own keypair.
type TestIssuer struct {
	srv *httptest.Server
	key *rsa.PrivateKey
	kid string

	mu       sync.Mutex
	identity *core.IdentityProfile
}

func NewTestIssuer() *TestIssuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	kidBytes := make([]byte, 8)
	if _, err := rand.Read(kidBytes); err != nil {
		panic(err)
	}
	iss := &TestIssuer{key: key, kid: hex.EncodeToString(kidBytes)}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+core.CertsPath, iss.serveCerts)
	mux.HandleFunc("/"+core.IdentityPath, iss.serveIdentity)
	iss.srv = httptest.NewServer(mux)
	return iss
}

// URL returns the authority base, without a trailing slash. Point the
// engine at it with Settings.WithAuthorityBase.
func (t *TestIssuer) URL() string { return t.srv.URL }

func (t *TestIssuer) Close() { t.srv.Close() }

// KeyID returns the kid published in the JWKS document.
func (t *TestIssuer) KeyID() string { return t.kid }

// SetIdentity configures the profile returned by the identity endpoint.
// Nil restores the default empty response.
func (t *TestIssuer) SetIdentity(p *core.IdentityProfile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identity = p
}

func (t *TestIssuer) serveCerts(w http.ResponseWriter, r *http.Request) {
	key, err := jwk.FromRaw(t.key.Public())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, t.kid)
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")
	set := jwk.NewSet()
	_ = set.AddKey(key)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (t *TestIssuer) serveIdentity(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	p := t.identity
	t.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if p == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{})
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}

// CreateToken mints a valid assertion for the given subject and email,
// expiring in an hour.
func (t *TestIssuer) CreateToken(sub, email string) string {
	return t.CreateTokenWithClaims(jwt.MapClaims{
		"sub":   sub,
		"email": email,
	})
}

// CreateTokenWithClaims mints an assertion carrying the given claims.
// Standard time claims and the issuer are filled in unless the caller
// sets them.
func (t *TestIssuer) CreateTokenWithClaims(claims jwt.MapClaims) string {
	now := time.Now()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = t.srv.URL
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = now.Unix()
	}
	if _, ok := claims["nbf"]; !ok {
		claims["nbf"] = now.Unix()
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = now.Add(time.Hour).Unix()
	}
	return t.sign(claims, t.kid, t.key)
}

// CreateExpiredToken mints an assertion that expired an hour ago.
func (t *TestIssuer) CreateExpiredToken(sub, email string) string {
	now := time.Now()
	return t.CreateTokenWithClaims(jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"iat":   now.Add(-2 * time.Hour).Unix(),
		"nbf":   now.Add(-2 * time.Hour).Unix(),
		"exp":   now.Add(-time.Hour).Unix(),
	})
}

// CreateTokenForeignKid mints an otherwise valid assertion whose header
// names a kid absent from the published key set.
func (t *TestIssuer) CreateTokenForeignKid(sub, email string) string {
	now := time.Now()
	return t.sign(jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"iss":   t.srv.URL,
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}, "unknown-"+t.kid, t.key)
}

// CreateTokenBadSignature mints an assertion with the published kid but
// signed by a different key.
func (t *TestIssuer) CreateTokenBadSignature(sub, email string) string {
	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	now := time.Now()
	return t.sign(jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"iss":   t.srv.URL,
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}, t.kid, rogue)
}

func (t *TestIssuer) sign(claims jwt.MapClaims, kid string, key *rsa.PrivateKey) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		panic(err)
	}
	return s
}
