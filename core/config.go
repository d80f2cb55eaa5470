package core

import (
	"net/http"
	"time"
)

// Endpoints and header names for the trust authority. The team domain from
// settings is combined with AuthorityHost to form per-tenant URLs.
const (
	AuthorityHost       = "cloudflareaccess.com"
	CertsPath           = "cdn-cgi/access/certs"
	IdentityPath        = "cdn-cgi/access/get-identity"
	RangesURL           = "https://api.cloudflare.com/client/v4/ips"
	DefaultAssertion    = "Cf-Access-Jwt-Assertion"
	DefaultEdgeIPHeader = "Cf-Connecting-Ip"
	RelayMarkerHeader   = "Cf-Connecting-O2o"
	ForwardedForHeader  = "X-Forwarded-For"
	AuthCookieName      = "CF_Authorization"

	DefaultFetchTimeout  = 10 * time.Second
	DefaultRedirectLimit = 3
)

// Options configures the engine. Every component receives what it needs at
// construction; nothing reads ambient global state.
type Options struct {
	// AssertionHeader carries the signed identity assertion. Defaults to
	// DefaultAssertion when empty.
	AssertionHeader string

	// ExpectedAudience, if set, is enforced on verified assertions (the
	// application AUD tag issued by the trust authority).
	ExpectedAudience string

	// Skew tolerated on exp/nbf checks. Defaults to one minute.
	Skew time.Duration

	// AdminURL and HomeURL are the post-login redirect targets for
	// elevated and regular accounts respectively.
	AdminURL string
	HomeURL  string

	// UserAgent sent on calls to the trust authority.
	UserAgent string
}

func (o Options) assertionHeader() string {
	if o.AssertionHeader == "" {
		return DefaultAssertion
	}
	return o.AssertionHeader
}

// NewAuthorityClient builds the HTTP client used for all trust-authority
// calls: bounded timeout, bounded redirect count.
func NewAuthorityClient() *http.Client {
	return &http.Client{
		Timeout: DefaultFetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= DefaultRedirectLimit {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
