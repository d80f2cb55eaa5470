package testing

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/open-rails/accessgate/core"
	memorystore "github.com/open-rails/accessgate/storage/memory"
)

func TestIssuerServesKeySet(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()

	resp, err := http.Get(issuer.URL() + "/" + core.CertsPath)
	if err != nil {
		t.Fatalf("fetch key set: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		t.Fatalf("parse key set: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", set.Len())
	}
	k, _ := set.Key(0)
	if k.KeyID() != issuer.KeyID() {
		t.Errorf("kid = %q, want %q", k.KeyID(), issuer.KeyID())
	}
}

func TestIssuerMintsVerifiableTokens(t *testing.T) {
	ctx := context.Background()
	issuer := NewTestIssuer()
	defer issuer.Close()

	token := issuer.CreateToken("user-1", "jane@example.com")
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token is not a compact JWT: %q", token)
	}

	settings := core.NewSettings(memorystore.NewKV()).WithAuthorityBase(issuer.URL())
	if err := settings.Set(ctx, core.SettingTeamDomain, "testteam"); err != nil {
		t.Fatalf("set team: %v", err)
	}
	keys := core.NewKeySetCache(settings, nil, core.Options{}, nil)
	if err := keys.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	v := core.NewTokenVerifier(keys, settings, core.Options{})

	claims, err := v.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Email != "jane@example.com" || claims.Subject != "user-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssuerIdentityEndpoint(t *testing.T) {
	ctx := context.Background()
	issuer := NewTestIssuer()
	defer issuer.Close()
	issuer.SetIdentity(&core.IdentityProfile{ID: "abcd1234", Name: "Jane Doe", Email: "jane@example.com"})

	settings := core.NewSettings(memorystore.NewKV()).WithAuthorityBase(issuer.URL())
	if err := settings.Set(ctx, core.SettingTeamDomain, "testteam"); err != nil {
		t.Fatalf("set team: %v", err)
	}
	lookup := core.NewIdentityLookup(settings, nil, core.Options{}, nil)

	profile, err := lookup.Identity(ctx, "edge-cookie-value")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if profile.Name != "Jane Doe" || profile.Email != "jane@example.com" {
		t.Errorf("profile = %+v", profile)
	}
}
