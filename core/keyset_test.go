package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/open-rails/accessgate/core"
	memorystore "github.com/open-rails/accessgate/storage/memory"
	accesstest "github.com/open-rails/accessgate/testing"
)

func authoritySettings(t *testing.T, issuer *accesstest.TestIssuer) *core.Settings {
	t.Helper()
	s := core.NewSettings(memorystore.NewKV()).WithAuthorityBase(issuer.URL())
	if err := s.Set(context.Background(), core.SettingTeamDomain, "testteam"); err != nil {
		t.Fatalf("set team: %v", err)
	}
	return s
}

func TestKeySetRefreshAndParse(t *testing.T) {
	ctx := context.Background()
	issuer := accesstest.NewTestIssuer()
	defer issuer.Close()

	s := authoritySettings(t, issuer)
	cache := core.NewKeySetCache(s, nil, core.Options{}, nil)

	if _, err := cache.VerificationKeys(ctx); !errors.Is(err, core.ErrKeysUnavailable) {
		t.Fatalf("cold cache: err = %v, want ErrKeysUnavailable", err)
	}

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	keys, err := cache.VerificationKeys(ctx)
	if err != nil {
		t.Fatalf("verification keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	k, ok := keys[issuer.KeyID()]
	if !ok {
		t.Fatalf("published kid %q not in parsed set", issuer.KeyID())
	}
	if k.Alg != "RS256" {
		t.Errorf("alg = %q", k.Alg)
	}
	if k.Key == nil {
		t.Error("key material missing")
	}
}

func TestKeySetRefreshRequiresTeam(t *testing.T) {
	s := core.NewSettings(memorystore.NewKV())
	cache := core.NewKeySetCache(s, nil, core.Options{}, nil)
	if err := cache.Refresh(context.Background()); !errors.Is(err, core.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestKeySetRefreshFailureRetainsCache(t *testing.T) {
	ctx := context.Background()
	issuer := accesstest.NewTestIssuer()
	s := authoritySettings(t, issuer)
	cache := core.NewKeySetCache(s, nil, core.Options{}, nil)

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// The authority goes away; the cached document keeps verifying.
	issuer.Close()
	if err := cache.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error after authority shutdown")
	}
	keys, err := cache.VerificationKeys(ctx)
	if err != nil {
		t.Fatalf("verification keys after failed refresh: %v", err)
	}
	if _, ok := keys[issuer.KeyID()]; !ok {
		t.Error("stale key set should survive the failed refresh")
	}
}

func TestKeySetMalformedDocument(t *testing.T) {
	ctx := context.Background()
	s := core.NewSettings(memorystore.NewKV())
	if err := s.SetRaw(ctx, core.KeyCachedCerts, []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cache := core.NewKeySetCache(s, nil, core.Options{}, nil)
	if _, err := cache.VerificationKeys(ctx); err == nil {
		t.Fatal("expected parse error, never an empty key map")
	}
}
