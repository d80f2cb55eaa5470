package core

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type fakeSessions struct {
	established []*Account
	err         error
}

func (s *fakeSessions) Establish(ctx context.Context, account *Account) error {
	if s.err != nil {
		return s.err
	}
	s.established = append(s.established, account)
	return nil
}

type loginFixture struct {
	settings *Settings
	dir      *fakeDirectory
	sessions *fakeSessions
	audit    *AuditLog
	orch     *Orchestrator
}

func newLoginFixture(t *testing.T, hooks Hooks) *loginFixture {
	t.Helper()
	ctx := context.Background()

	settings := NewSettings(newMapKV())
	audit := NewAuditLog(settings, nil)
	if err := settings.Set(ctx, SettingDebugLog, "true"); err != nil {
		t.Fatalf("enable debug: %v", err)
	}
	if err := settings.Set(ctx, SettingTeamDomain, "myteam"); err != nil {
		t.Fatalf("set team: %v", err)
	}
	seedRanges(t, settings, testRanges())

	opts := Options{AdminURL: "/admin/", HomeURL: "/"}
	keys := NewKeySetCache(settings, nil, opts, nil)
	verifier := NewTokenVerifier(keys, settings, opts)
	network := NewNetworkRegistry(settings, nil, DefaultHeaderPolicy(), opts, nil)
	dir := newFakeDirectory()
	resolver := NewIdentityResolver(dir, nil, settings, nil)
	sessions := &fakeSessions{}
	orch := NewOrchestrator(opts, settings, network, verifier, resolver, audit, sessions, hooks, nil)

	return &loginFixture{settings: settings, dir: dir, sessions: sessions, audit: audit, orch: orch}
}

func edgeAttempt() *LoginAttempt {
	hdr := http.Header{}
	hdr.Set(DefaultEdgeIPHeader, "103.21.244.5")
	return &LoginAttempt{
		Header:     hdr,
		RemoteAddr: "198.51.100.7:1234",
		RequestURI: "/login",
	}
}

func requireAuditKinds(t *testing.T, f *loginFixture, want ...string) {
	t.Helper()
	entries, err := f.audit.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d audit entries, got %d", len(want), len(entries))
	}
	for i, k := range want {
		if entries[i].Kind != k {
			t.Errorf("entry %d kind = %q, want %q", i, entries[i].Kind, k)
		}
	}
}

func TestLoginSkipsOtherActions(t *testing.T) {
	f := newLoginFixture(t, Hooks{})
	att := edgeAttempt()
	att.Action = "logout"
	out := f.orch.Attempt(context.Background(), att)
	if out.Kind != OutcomeNotApplicable {
		t.Errorf("outcome = %+v", out)
	}

	att = edgeAttempt()
	att.LoggedOut = true
	if out := f.orch.Attempt(context.Background(), att); out.Kind != OutcomeNotApplicable {
		t.Errorf("logged-out outcome = %+v", out)
	}

	att = edgeAttempt()
	att.PriorError = true
	if out := f.orch.Attempt(context.Background(), att); out.Kind != OutcomeNotApplicable {
		t.Errorf("prior-error outcome = %+v", out)
	}
}

func TestLoginConventionalDeferred(t *testing.T) {
	f := newLoginFixture(t, Hooks{})
	att := edgeAttempt()
	att.Username = "jane"
	att.Password = "hunter2"

	out := f.orch.Attempt(context.Background(), att)
	if out.Kind != OutcomeDeferred {
		t.Fatalf("outcome = %+v", out)
	}
	requireAuditKinds(t, f, "login_deferred")
}

func TestLoginConventionalBlockedWhenEnforced(t *testing.T) {
	var notified []string
	f := newLoginFixture(t, Hooks{
		OnLoginRequiresSSO: []RequiresSSOObserver{func(username string) {
			notified = append(notified, username)
		}},
	})
	if err := f.settings.Set(context.Background(), SettingEnforceSSO, "true"); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	att := edgeAttempt()
	att.Username = "jane"
	att.Password = "hunter2"
	out := f.orch.Attempt(context.Background(), att)
	if out.Kind != OutcomeDenied || out.Reason != DenySSOEnforced {
		t.Fatalf("outcome = %+v", out)
	}
	if len(f.sessions.established) != 0 {
		t.Error("no session may be established")
	}
	if len(notified) != 1 || notified[0] != "jane" {
		t.Errorf("observer calls = %v", notified)
	}
	requireAuditKinds(t, f, "sso_enforced")
}

func TestLoginOutsideNetwork(t *testing.T) {
	f := newLoginFixture(t, Hooks{})
	att := edgeAttempt()
	att.Header.Set(DefaultEdgeIPHeader, "8.8.8.8")

	out := f.orch.Attempt(context.Background(), att)
	if out.Kind != OutcomeDenied || out.Reason != DenyNetworkNotSupported {
		t.Fatalf("outcome = %+v", out)
	}
	requireAuditKinds(t, f, "network_not_supported")
}

func TestLoginSetupRequired(t *testing.T) {
	f := newLoginFixture(t, Hooks{})
	if err := f.settings.Set(context.Background(), SettingTeamDomain, ""); err != nil {
		t.Fatalf("clear team: %v", err)
	}

	out := f.orch.Attempt(context.Background(), edgeAttempt())
	if out.Kind != OutcomeDenied || out.Reason != DenySetupRequired {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestLoginExistingSessionSkipped(t *testing.T) {
	f := newLoginFixture(t, Hooks{})
	att := edgeAttempt()
	att.SessionUserID = "u1"

	out := f.orch.Attempt(context.Background(), att)
	if out.Kind != OutcomeNotApplicable {
		t.Fatalf("outcome = %+v", out)
	}
	requireAuditKinds(t, f, "login_skipped")
}

func TestLoginTokenMissing(t *testing.T) {
	f := newLoginFixture(t, Hooks{})

	out := f.orch.Attempt(context.Background(), edgeAttempt())
	if out.Kind != OutcomeDenied || out.Reason != DenyTokenMissing {
		t.Fatalf("outcome = %+v", out)
	}
	// Exactly one audit entry for the whole attempt.
	requireAuditKinds(t, f, "token_missing")
}

func TestLoginTokenInvalidWithoutKeys(t *testing.T) {
	f := newLoginFixture(t, Hooks{})
	att := edgeAttempt()
	att.Header.Set(DefaultAssertion, "eyJhbGciOiJSUzI1NiJ9.e30.sig")

	out := f.orch.Attempt(context.Background(), att)
	if out.Kind != OutcomeDenied || out.Reason != DenyTokenInvalid {
		t.Fatalf("outcome = %+v", out)
	}
	requireAuditKinds(t, f, "token_invalid")
}

func TestLoginBeforeNetworkCheckHook(t *testing.T) {
	called := false
	f := newLoginFixture(t, Hooks{
		BeforeNetworkCheck: []func(*LoginAttempt){func(att *LoginAttempt) {
			called = true
			// A hook may rewrite headers before the check runs.
			att.Header.Set(DefaultEdgeIPHeader, "103.21.244.5")
		}},
	})
	att := edgeAttempt()
	att.Header.Set(DefaultEdgeIPHeader, "8.8.8.8")

	out := f.orch.Attempt(context.Background(), att)
	if !called {
		t.Fatal("hook not invoked")
	}
	// The rewritten edge address passes the check; the attempt then
	// fails later for the missing token.
	if out.Reason != DenyTokenMissing {
		t.Errorf("outcome = %+v", out)
	}
}

func TestAllowPasswordReset(t *testing.T) {
	f := newLoginFixture(t, Hooks{})
	ctx := context.Background()

	plain := &Account{ID: "u1"}
	managed := &Account{ID: "u2", SSOManaged: true}

	if !f.orch.AllowPasswordReset(ctx, plain) {
		t.Error("regular account should reset passwords")
	}
	if f.orch.AllowPasswordReset(ctx, managed) {
		t.Error("sso-managed account resets at the identity provider")
	}

	if err := f.settings.Set(ctx, SettingEnforceSSO, "true"); err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if f.orch.AllowPasswordReset(ctx, plain) {
		t.Error("no password resets while sso is enforced")
	}
}

func TestResolveReasonMapping(t *testing.T) {
	if got := resolveReason(ErrUserNotFound); got != "user_not_found" {
		t.Errorf("resolveReason = %q", got)
	}
	if got := resolveReason(ErrEmailMismatch); got != "email_mismatch" {
		t.Errorf("resolveReason = %q", got)
	}
	if got := resolveReason(errors.New("other")); got != "directory_error" {
		t.Errorf("resolveReason = %q", got)
	}
}
