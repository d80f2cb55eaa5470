package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// IdentityClaims is the decoded assertion payload. Email is the matching
// key for local accounts and is required downstream; Name and Subject are
// optional extras from the provider. Raw keeps the full claim set for
// audit data.
type IdentityClaims struct {
	Email   string
	Name    string
	Subject string
	Raw     jwt.MapClaims
}

var errUnknownKeyID = errors.New("unknown_kid")

// ExtractToken strips an optional "Bearer " scheme marker from a raw
// header value. The second return is false when the header was absent.
func ExtractToken(headerValue string) (string, bool) {
	if headerValue == "" {
		return "", false
	}
	token := strings.TrimSpace(headerValue)
	if rest, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(rest)
	}
	return token, true
}

// TokenVerifier validates signed assertions against the cached key-set.
// A token that fails any check is rejected outright; there is no partial
// trust.
type TokenVerifier struct {
	keys     *KeySetCache
	settings *Settings
	opts     Options
	now      func() time.Time
}

func NewTokenVerifier(keys *KeySetCache, settings *Settings, opts Options) *TokenVerifier {
	return &TokenVerifier{keys: keys, settings: settings, opts: opts, now: time.Now}
}

// Verify checks signature, expiry, not-before and the configured audience
// and issuer, returning the decoded claims or a VerifyError whose Reason
// is a stable code and whose cause is preserved for the audit log.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*IdentityClaims, error) {
	keys, err := v.keys.VerificationKeys(ctx)
	if err != nil {
		return nil, &VerifyError{Reason: "keys_unavailable", Err: err}
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		k, ok := keys[kid]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownKeyID, kid)
		}
		if k.Alg != "" && k.Alg != t.Method.Alg() {
			return nil, fmt.Errorf("token alg %s does not match key alg %s", t.Method.Alg(), k.Alg)
		}
		return k.Key, nil
	}

	skew := v.opts.Skew
	if skew == 0 {
		skew = time.Minute
	}
	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(skew),
		jwt.WithTimeFunc(v.now),
	}
	if v.opts.ExpectedAudience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.opts.ExpectedAudience))
	}
	if base, err := v.settings.AccessURL(ctx); err == nil {
		parseOpts = append(parseOpts, jwt.WithIssuer(strings.TrimSuffix(base, "/")))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyfunc, parseOpts...)
	if err != nil || parsed == nil || !parsed.Valid {
		return nil, &VerifyError{Reason: verifyReason(err), Err: err}
	}

	out := &IdentityClaims{Raw: claims}
	out.Email, _ = claims["email"].(string)
	out.Name, _ = claims["name"].(string)
	out.Subject, _ = claims["sub"].(string)
	return out, nil
}

func verifyReason(err error) string {
	switch {
	case err == nil:
		return "invalid_token"
	case errors.Is(err, errUnknownKeyID):
		return "unknown_kid"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token_not_yet_valid"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "bad_audience"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "bad_issuer"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed_token"
	default:
		return "invalid_token"
	}
}
