package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"github.com/open-rails/accessgate/obs"
)

// VerificationKey is one parsed public key from the trust authority's
// key-set document.
type VerificationKey struct {
	Alg string
	Key any
}

// KeySetCache fetches the trust authority's signing key-set on a schedule
// and caches the raw document in the settings store. Verification parses
// the cached copy; a failed refresh leaves the previous document intact.
type KeySetCache struct {
	settings *Settings
	client   *http.Client
	ua       string
	logger   *zap.Logger
}

func NewKeySetCache(settings *Settings, client *http.Client, opts Options, logger *zap.Logger) *KeySetCache {
	if client == nil {
		client = NewAuthorityClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySetCache{settings: settings, client: client, ua: opts.UserAgent, logger: logger}
}

// Refresh fetches the key-set document and stores it verbatim. Transport
// failures, empty bodies and unparseable documents all leave the cached
// copy untouched.
func (c *KeySetCache) Refresh(ctx context.Context) error {
	url, err := c.settings.CertsURL(ctx)
	if err != nil {
		return err
	}

	body, err := c.fetch(ctx, url)
	if err != nil {
		obs.Refresh("keyset", "error")
		c.logger.Warn("key-set refresh failed", zap.String("url", url), zap.Error(err))
		return err
	}

	// Reject documents that will not parse rather than caching junk.
	if _, err := jwk.Parse(body); err != nil {
		obs.Refresh("keyset", "malformed")
		c.logger.Warn("key-set document unparseable", zap.String("url", url), zap.Error(err))
		return &MalformedDataError{What: "key-set document", Err: err}
	}

	if err := c.settings.SetRaw(ctx, KeyCachedCerts, body); err != nil {
		return err
	}
	obs.Refresh("keyset", "ok")
	c.logger.Info("key-set refreshed", zap.Int("bytes", len(body)))
	return nil
}

// VerificationKeys parses the cached document into keys by key-ID.
// Absence of a cached document or a parse failure is an error, never an
// empty map: verification must fail closed.
func (c *KeySetCache) VerificationKeys(ctx context.Context) (map[string]VerificationKey, error) {
	raw, ok, err := c.settings.GetRaw(ctx, KeyCachedCerts)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, ErrKeysUnavailable
	}

	set, err := jwk.Parse(raw)
	if err != nil {
		return nil, &MalformedDataError{What: "key-set document", Err: err}
	}

	keys := make(map[string]VerificationKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok {
			continue
		}
		var pub any
		if err := k.Raw(&pub); err != nil {
			return nil, &MalformedDataError{What: "key material", Err: err}
		}
		alg := ""
		if a := k.Algorithm(); a != nil {
			alg = a.String()
		}
		keys[k.KeyID()] = VerificationKey{Alg: alg, Key: pub}
	}
	if len(keys) == 0 {
		return nil, errors.New("key-set document contains no usable keys")
	}
	return keys, nil
}

func (c *KeySetCache) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{URL: url, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if len(body) == 0 {
		return nil, &MalformedDataError{What: "key-set document", Err: fmt.Errorf("empty body")}
	}
	return body, nil
}
