package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-rails/accessgate/roles"
)

// KV is the minimal surface the engine needs from the host's settings
// store: get/set with optional TTL. Implementations live in storage/.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Setting keys read from the host configuration.
const (
	SettingTeamDomain  = "team_domain"
	SettingEnforceSSO  = "sso_force"
	SettingAllowCreate = "sso_create_account"
	SettingLinkButton  = "sso_link_button"
	SettingDebugLog    = "sso_debug_log"
	SettingDefaultRole = "default_role"
)

// Storage keys written by the engine (cached trust material, audit log).
const (
	KeyCachedCerts  = "cf_certs"
	KeyCachedRanges = "cf_ips"
	KeyAuditLog     = "logs"
)

// Defaults applied when a setting is absent from the store. Merged under
// any caller-supplied overrides at construction.
func defaultSettings() map[string]string {
	return map[string]string{
		SettingTeamDomain:  "",
		SettingEnforceSSO:  "false",
		SettingAllowCreate: "false",
		SettingLinkButton:  "true",
		SettingDebugLog:    "false",
		SettingDefaultRole: roles.Default,
	}
}

// Settings wraps a KV with typed accessors and change notification. The
// engine never reads configuration from anywhere else.
type Settings struct {
	kv       KV
	defaults map[string]string

	// baseOverride replaces the derived authority base URL, for local
	// development against a stub authority.
	baseOverride string

	mu   sync.Mutex
	subs map[string][]func(old, new string)
}

func NewSettings(kv KV) *Settings {
	return &Settings{kv: kv, defaults: defaultSettings(), subs: map[string][]func(old, new string){}}
}

// WithDefaults overlays caller defaults on top of the built-in ones.
func (s *Settings) WithDefaults(d map[string]string) *Settings {
	for k, v := range d {
		s.defaults[k] = v
	}
	return s
}

// Subscribe registers a callback fired after key changes value.
// Callbacks run synchronously on the Set call.
func (s *Settings) Subscribe(key string, fn func(old, new string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[key] = append(s.subs[key], fn)
}

func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return s.defaults[key], nil
	}
	return string(b), nil
}

// Set stores a value and notifies subscribers when it actually changed.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	old, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, []byte(value), 0); err != nil {
		return err
	}
	if old != value {
		s.mu.Lock()
		subs := make([]func(old, new string), len(s.subs[key]))
		copy(subs, s.subs[key])
		s.mu.Unlock()
		for _, fn := range subs {
			fn(old, value)
		}
	}
	return nil
}

// GetRaw and SetRaw expose the underlying blob storage for cached trust
// material (key-set document, range list, audit log).
func (s *Settings) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	return s.kv.Get(ctx, key)
}

func (s *Settings) SetRaw(ctx context.Context, key string, value []byte) error {
	return s.kv.Set(ctx, key, value, 0)
}

func (s *Settings) getBool(ctx context.Context, key string) bool {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (s *Settings) EnforceSSO(ctx context.Context) bool  { return s.getBool(ctx, SettingEnforceSSO) }
func (s *Settings) AllowCreate(ctx context.Context) bool { return s.getBool(ctx, SettingAllowCreate) }
func (s *Settings) LinkButton(ctx context.Context) bool  { return s.getBool(ctx, SettingLinkButton) }
func (s *Settings) DebugLog(ctx context.Context) bool    { return s.getBool(ctx, SettingDebugLog) }

func (s *Settings) DefaultRole(ctx context.Context) string {
	v, err := s.Get(ctx, SettingDefaultRole)
	if err != nil || v == "" {
		return roles.Default
	}
	return v
}

// TeamDomain returns the sanitized team domain, or "" when unset.
func (s *Settings) TeamDomain(ctx context.Context) string {
	v, err := s.Get(ctx, SettingTeamDomain)
	if err != nil {
		return ""
	}
	return SanitizeTeamDomain(v)
}

// SanitizeTeamDomain strips scheme, authority-host suffix and stray
// separators from user input, leaving the bare team slug.
func SanitizeTeamDomain(v string) string {
	r := strings.NewReplacer(
		"https://", "",
		"http://", "",
		"www.", "",
		"."+AuthorityHost, "",
		"/", "",
		"@", "",
	)
	return strings.TrimSpace(r.Replace(v))
}

// WithAuthorityBase points the engine at an alternative trust-authority
// base URL. The team domain must still be configured; only the derived
// host is replaced.
func (s *Settings) WithAuthorityBase(base string) *Settings {
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	s.baseOverride = base
	return s
}

// AccessURL returns the team's trust-authority base URL with a trailing
// slash, or ErrNotConfigured when the team domain is unset.
func (s *Settings) AccessURL(ctx context.Context) (string, error) {
	team := s.TeamDomain(ctx)
	if team == "" {
		return "", ErrNotConfigured
	}
	if s.baseOverride != "" {
		return s.baseOverride, nil
	}
	return fmt.Sprintf("https://%s.%s/", team, AuthorityHost), nil
}

// CertsURL returns the signing key-set endpoint for the configured team.
func (s *Settings) CertsURL(ctx context.Context) (string, error) {
	base, err := s.AccessURL(ctx)
	if err != nil {
		return "", err
	}
	return base + CertsPath, nil
}

// IdentityURL returns the secondary identity-lookup endpoint.
func (s *Settings) IdentityURL(ctx context.Context) (string, error) {
	base, err := s.AccessURL(ctx)
	if err != nil {
		return "", err
	}
	return base + IdentityPath, nil
}
