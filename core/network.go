package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-rails/accessgate/obs"
)

// TrustedCidrList is the cached allow-list of edge-network ranges, one
// sequence per address family. An empty (or absent) family list never
// matches: the network check fails closed.
type TrustedCidrList struct {
	IPv4        []string `json:"ipv4"`
	IPv6        []string `json:"ipv6"`
	LastUpdated int64    `json:"last_updated"`
}

// HeaderPolicy names the request headers that carry the edge-assigned and
// client addresses. Hosting platforms that mangle headers supply their own
// policy (see hosting.go); an empty header name means the transport-level
// remote address. TrustNetwork short-circuits the whole check to true for
// platforms known to sit behind the edge with the discriminating headers
// stripped.
type HeaderPolicy struct {
	EdgeIPHeader   string
	ClientIPHeader string
	TrustNetwork   bool
}

// DefaultHeaderPolicy consults the edge provider's connecting-IP header
// and the transport remote address.
func DefaultHeaderPolicy() HeaderPolicy {
	return HeaderPolicy{EdgeIPHeader: DefaultEdgeIPHeader}
}

// rangesResponse is the edge provider's public IP-ranges API shape.
type rangesResponse struct {
	Success bool `json:"success"`
	Result  struct {
		IPv4CIDRs []string `json:"ipv4_cidrs"`
		IPv6CIDRs []string `json:"ipv6_cidrs"`
	} `json:"result"`
}

// NetworkRegistry answers whether a request entered through the trusted
// edge network, against an allow-list refreshed from the provider's
// public ranges API. A failed refresh keeps the previous list.
type NetworkRegistry struct {
	settings  *Settings
	client    *http.Client
	policy    HeaderPolicy
	ua        string
	rangesURL string
	logger    *zap.Logger
}

func NewNetworkRegistry(settings *Settings, client *http.Client, policy HeaderPolicy, opts Options, logger *zap.Logger) *NetworkRegistry {
	if client == nil {
		client = NewAuthorityClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetworkRegistry{settings: settings, client: client, policy: policy, ua: opts.UserAgent, rangesURL: RangesURL, logger: logger}
}

// WithRangesURL replaces the ranges API endpoint, for local development
// against a stub authority.
func (r *NetworkRegistry) WithRangesURL(url string) *NetworkRegistry {
	if url != "" {
		r.rangesURL = url
	}
	return r
}

// Refresh fetches the current range list and atomically replaces the
// cached one. Any transport, status or body error retains the stale list.
func (r *NetworkRegistry) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.rangesURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if r.ua != "" {
		req.Header.Set("User-Agent", r.ua)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		obs.Refresh("ranges", "error")
		r.logger.Warn("range list refresh failed", zap.Error(err))
		return &TransportError{URL: r.rangesURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 210 {
		obs.Refresh("ranges", "error")
		return &TransportError{URL: r.rangesURL, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		obs.Refresh("ranges", "error")
		return &TransportError{URL: r.rangesURL, Err: err}
	}

	var parsed rangesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		obs.Refresh("ranges", "malformed")
		return &MalformedDataError{What: "range list", Err: err}
	}
	if !parsed.Success {
		obs.Refresh("ranges", "malformed")
		return &MalformedDataError{What: "range list", Err: errUnsuccessful}
	}

	list := TrustedCidrList{
		IPv4:        parsed.Result.IPv4CIDRs,
		IPv6:        parsed.Result.IPv6CIDRs,
		LastUpdated: time.Now().Unix(),
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := r.settings.SetRaw(ctx, KeyCachedRanges, b); err != nil {
		return err
	}
	obs.Refresh("ranges", "ok")
	r.logger.Info("range list refreshed",
		zap.Int("ipv4", len(list.IPv4)), zap.Int("ipv6", len(list.IPv6)))
	return nil
}

// Ranges returns the cached list. ok is false when nothing usable is
// cached yet.
func (r *NetworkRegistry) Ranges(ctx context.Context) (TrustedCidrList, bool) {
	b, ok, err := r.settings.GetRaw(ctx, KeyCachedRanges)
	if err != nil || !ok || len(b) == 0 {
		return TrustedCidrList{}, false
	}
	var list TrustedCidrList
	if err := json.Unmarshal(b, &list); err != nil {
		return TrustedCidrList{}, false
	}
	return list, true
}

// InNetwork reports whether the request's resolved edge address falls in
// the trusted ranges. Missing headers or an empty cached list fail the
// check; the policy's TrustNetwork override is evaluated first.
func (r *NetworkRegistry) InNetwork(ctx context.Context, hdr http.Header, remoteAddr string) bool {
	if r.policy.TrustNetwork {
		return true
	}

	edgeIP := r.headerValue(hdr, r.policy.EdgeIPHeader, remoteAddr)
	clientIP := r.headerValue(hdr, r.policy.ClientIPHeader, remoteAddr)
	if edgeIP == "" || clientIP == "" {
		return false
	}

	// Behind an origin-to-origin relay the connecting-IP header holds the
	// relay's address; the true edge hop is the last non-client entry in
	// the forwarded-for chain.
	if hdr.Get(RelayMarkerHeader) != "" {
		if chain := hdr.Get(ForwardedForHeader); chain != "" {
			for _, hop := range strings.Split(strings.ReplaceAll(chain, " ", ""), ",") {
				if hop == "" || hop == clientIP {
					continue
				}
				edgeIP = hop
			}
		}
	}

	list, ok := r.Ranges(ctx)
	if !ok {
		return false
	}
	if strings.Contains(edgeIP, ":") {
		return InAnyRange(edgeIP, list.IPv6)
	}
	return InAnyRange(edgeIP, list.IPv4)
}

func (r *NetworkRegistry) headerValue(hdr http.Header, name, remoteAddr string) string {
	if name == "" {
		return stripPort(remoteAddr)
	}
	return stripPort(hdr.Get(name))
}

// stripPort drops a :port suffix from ip:port forms while leaving bare
// IPv6 literals alone.
func stripPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().String()
	}
	return addr
}
