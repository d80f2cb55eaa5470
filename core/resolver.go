package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Account is the host application's user entity as seen by the engine.
// The host owns the record; the engine only looks accounts up by email
// and requests creation.
type Account struct {
	ID          string
	Email       string
	Username    string
	DisplayName string
	Role        string
	SSOManaged  bool
	Elevated    bool
}

// NewAccount is a creation request handed to the Directory.
type NewAccount struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
	Role        string
	SSOManaged  bool
}

// Directory is the host's user-management system. LookupByEmail returns
// (nil, nil) when no account matches.
type Directory interface {
	LookupByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, acct NewAccount) (*Account, error)
	MarkSSOManaged(ctx context.Context, id string) error
}

// IdentityProfile is the trust authority's view of the signed-in user,
// from the secondary identity endpoint.
type IdentityProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IdentityLookup fetches the IdentityProfile for the caller's current
// edge session.
type IdentityLookup interface {
	Identity(ctx context.Context, authCookie string) (*IdentityProfile, error)
}

// identityClient talks to the team's get-identity endpoint using the
// caller's edge authorization cookie.
type identityClient struct {
	settings *Settings
	client   *http.Client
	ua       string
	logger   *zap.Logger
}

func NewIdentityLookup(settings *Settings, client *http.Client, opts Options, logger *zap.Logger) IdentityLookup {
	if client == nil {
		client = NewAuthorityClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &identityClient{settings: settings, client: client, ua: opts.UserAgent, logger: logger}
}

func (c *identityClient) Identity(ctx context.Context, authCookie string) (*IdentityProfile, error) {
	if authCookie == "" {
		return nil, fmt.Errorf("no edge authorization cookie")
	}
	url, err := c.settings.IdentityURL(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", fmt.Sprintf("%s=%s", AuthCookieName, authCookie))
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 210 {
		return nil, &TransportError{URL: url, Status: resp.StatusCode}
	}
	var profile IdentityProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, &MalformedDataError{What: "identity profile", Err: err}
	}
	c.logger.Debug("identity profile retrieved",
		zap.String("name", profile.Name), zap.String("email", profile.Email))
	return &profile, nil
}

// IdentityResolver maps verified claims to a local account, provisioning
// one when permitted.
type IdentityResolver struct {
	dir      Directory
	lookup   IdentityLookup
	settings *Settings
	logger   *zap.Logger
}

// NewIdentityResolver wires the resolver. lookup may be nil to skip the
// secondary identity cross-check entirely.
func NewIdentityResolver(dir Directory, lookup IdentityLookup, settings *Settings, logger *zap.Logger) *IdentityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityResolver{dir: dir, lookup: lookup, settings: settings, logger: logger}
}

// ResolveOrCreate returns the local account for the claims. An existing
// account wins regardless of allowCreate. Provisioning derives a username
// from the secondary identity profile when available, generates a random
// placeholder credential and applies the host's default role. A profile
// whose email disagrees with the claims aborts the whole operation.
func (r *IdentityResolver) ResolveOrCreate(ctx context.Context, claims *IdentityClaims, authCookie string, allowCreate bool) (*Account, error) {
	if claims == nil || claims.Email == "" {
		return nil, ErrMissingEmail
	}
	email := claims.Email

	acct, err := r.dir.LookupByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	if acct != nil {
		return acct, nil
	}
	if !allowCreate {
		return nil, ErrUserNotFound
	}

	var profile *IdentityProfile
	if r.lookup != nil {
		profile, err = r.lookup.Identity(ctx, authCookie)
		if err != nil {
			// Best effort: fall back to email-derived names.
			r.logger.Warn("identity lookup unavailable", zap.Error(err))
			profile = nil
		}
	}

	displayName := ""
	var username string
	if profile != nil {
		if profile.Email != email {
			r.logger.Warn("identity email mismatch",
				zap.String("claims_email", email), zap.String("profile_email", profile.Email))
			return nil, ErrEmailMismatch
		}
		displayName = profile.Name
		username = UsernameFromName(profile.Name, profile.ID)
	}
	if username == "" {
		username, err = UsernameFromEmail(email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
		}
	}

	created, err := r.dir.Create(ctx, NewAccount{
		Email:       email,
		Username:    username,
		DisplayName: displayName,
		Password:    GeneratePassword(64),
		Role:        r.settings.DefaultRole(ctx),
		SSOManaged:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	r.logger.Info("account provisioned",
		zap.String("email", email), zap.String("username", username), zap.String("role", created.Role))
	return created, nil
}

var usernameScrub = regexp.MustCompile(`[^a-z0-9_]`)

// UsernameFromName derives a login name from a display name plus the
// first four characters of the provider-issued ID.
func UsernameFromName(name, id string) string {
	u := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if id != "" {
		if len(id) > 4 {
			id = id[:4]
		}
		u += "_" + strings.ToLower(id)
	}
	return usernameScrub.ReplaceAllString(u, "")
}

// UsernameFromEmail derives a login name from the address itself, tagged
// with an sso suffix.
func UsernameFromEmail(email string) (string, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("invalid email %q: %w", email, err)
	}
	u := strings.ReplaceAll(email, "@", "")
	u = strings.ReplaceAll(u, ".", "_")
	u = strings.ToLower(u) + "_sso"
	return usernameScrub.ReplaceAllString(u, ""), nil
}

// GeneratePassword returns n characters of URL-safe random material. The
// holder never uses it directly (login is always via SSO) but account
// creation plumbing requires a credential.
func GeneratePassword(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) > n {
		s = s[:n]
	}
	return s
}
