package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gatehttp "github.com/open-rails/accessgate/adapters/http"
	"github.com/open-rails/accessgate/core"
	"github.com/open-rails/accessgate/obs"
	"github.com/open-rails/accessgate/roles"
	memorystore "github.com/open-rails/accessgate/storage/memory"
	postgresstore "github.com/open-rails/accessgate/storage/postgres"
	redisstore "github.com/open-rails/accessgate/storage/redis"
)

type config struct {
	ListenAddr    string
	TeamDomain    string
	AuthorityBase string
	Audience      string
	DBURL         string
	RedisURL      string
	EnforceSSO    bool
	AllowCreate   bool
	DebugLog      bool
	Platform      string
}

func main() {
	cfg := loadConfig()

	cmd := "serve"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		cmd = strings.TrimSpace(os.Args[1])
	}

	switch cmd {
	case "serve":
		if err := runServe(cfg); err != nil {
			fatal(err)
		}
	case "migrate":
		if err := runMigrate(cfg); err != nil {
			fatal(err)
		}
	case "refresh":
		if err := runRefresh(cfg); err != nil {
			fatal(err)
		}
	default:
		fatal(fmt.Errorf("unknown command %q (supported: serve, migrate, refresh)", cmd))
	}
}

func loadConfig() *config {
	return &config{
		ListenAddr:    envOr("ACCESSGATE_LISTEN_ADDR", ":8080"),
		TeamDomain:    strings.TrimSpace(os.Getenv("ACCESSGATE_TEAM_DOMAIN")),
		AuthorityBase: strings.TrimSpace(os.Getenv("ACCESSGATE_AUTHORITY_BASE")),
		Audience:      strings.TrimSpace(os.Getenv("ACCESSGATE_AUDIENCE")),
		DBURL:         firstEnv("DB_URL", "DATABASE_URL"),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		EnforceSSO:    envBool("ACCESSGATE_ENFORCE_SSO", false),
		AllowCreate:   envBool("ACCESSGATE_ALLOW_CREATE", true),
		DebugLog:      envBool("ACCESSGATE_DEBUG_LOG", true),
		Platform:      strings.TrimSpace(os.Getenv("ACCESSGATE_PLATFORM")),
	}
}

type wiring struct {
	settings *core.Settings
	keys     *core.KeySetCache
	network  *core.NetworkRegistry
	audit    *core.AuditLog
	orch     *core.Orchestrator
	sessions *cookieSessions
	pg       *pgxpool.Pool
	logger   *zap.Logger
}

func buildWiring(ctx context.Context, cfg *config) (*wiring, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	var kv core.KV = memorystore.NewKV()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		kv = redisstore.NewKV(redis.NewClient(opt))
	}

	settings := core.NewSettings(kv)
	if cfg.AuthorityBase != "" {
		settings = settings.WithAuthorityBase(cfg.AuthorityBase)
	}
	if cfg.TeamDomain != "" {
		if err := settings.Set(ctx, core.SettingTeamDomain, cfg.TeamDomain); err != nil {
			return nil, err
		}
	}
	seed := map[string]string{
		core.SettingEnforceSSO:  strconv.FormatBool(cfg.EnforceSSO),
		core.SettingAllowCreate: strconv.FormatBool(cfg.AllowCreate),
		core.SettingDebugLog:    strconv.FormatBool(cfg.DebugLog),
	}
	settings = settings.WithDefaults(seed)

	opts := core.Options{
		ExpectedAudience: cfg.Audience,
		AdminURL:         "/admin/",
		HomeURL:          "/",
		UserAgent:        "accessgate-devserver",
	}

	audit := core.NewAuditLog(settings, logger)
	keys := core.NewKeySetCache(settings, nil, opts, logger)

	platform := core.Platform(cfg.Platform)
	if platform == "" {
		platform = core.DetectPlatform(environFromOS())
	}
	network := core.NewNetworkRegistry(settings, nil, core.PolicyFor(platform), opts, logger)
	if cfg.AuthorityBase != "" {
		network = network.WithRangesURL(strings.TrimRight(cfg.AuthorityBase, "/") + "/client/v4/ips")
	}

	core.WatchTeamDomain(settings, keys, network, logger)

	verifier := core.NewTokenVerifier(keys, settings, opts)

	var dir core.Directory = newMemDirectory()
	var pg *pgxpool.Pool
	if cfg.DBURL != "" {
		pg, err = pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		dir = postgresstore.NewDirectory(pg)
	}

	client := core.NewAuthorityClient()
	resolver := core.NewIdentityResolver(dir, core.NewIdentityLookup(settings, client, opts, logger), settings, logger)

	sessions := newCookieSessions()
	hooks := core.PlatformHooks(platform, logger)
	orch := core.NewOrchestrator(opts, settings, network, verifier, resolver, audit, sessions, hooks, logger)

	return &wiring{
		settings: settings,
		keys:     keys,
		network:  network,
		audit:    audit,
		orch:     orch,
		sessions: sessions,
		pg:       pg,
		logger:   logger,
	}, nil
}

func runServe(cfg *config) error {
	ctx := context.Background()
	w, err := buildWiring(ctx, cfg)
	if err != nil {
		return err
	}
	if w.pg != nil {
		defer w.pg.Close()
	}
	obs.Init()

	// Warm the trust caches; a cold start against an unreachable
	// authority still serves, with logins denied until refresh succeeds.
	if err := w.keys.Refresh(ctx); err != nil {
		w.logger.Warn("initial key-set refresh failed", zap.Error(err))
	}
	if err := w.network.Refresh(ctx); err != nil {
		w.logger.Warn("initial range refresh failed", zap.Error(err))
	}

	svc := gatehttp.NewService(w.orch, w.sessions).WithLogger(w.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/metrics", obs.Handler())
	mux.Handle("/login", svc.Interceptor(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"login": "conventional"})
	})))
	mux.Handle("/admin/sso/audit", gatehttp.AuditEntriesHandler(w.audit))
	mux.Handle("/admin/sso/audit/clear", gatehttp.AuditClearHandler(w.audit))
	mux.HandleFunc("/whoami", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"user_id": w.sessions.CurrentUserID(r)})
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	w.logger.Info("devserver listening", zap.String("addr", cfg.ListenAddr))
	return server.ListenAndServe()
}

func runMigrate(cfg *config) error {
	if cfg.DBURL == "" {
		return fmt.Errorf("DB_URL (or DATABASE_URL) is required for migrate")
	}
	ctx := context.Background()
	pg, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if _, err := pg.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pgcrypto`); err != nil {
		return fmt.Errorf("enable pgcrypto: %w", err)
	}
	if _, err := pg.Exec(ctx, postgresstore.Schema()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func runRefresh(cfg *config) error {
	ctx := context.Background()
	w, err := buildWiring(ctx, cfg)
	if err != nil {
		return err
	}
	if w.pg != nil {
		defer w.pg.Close()
	}
	if err := w.keys.Refresh(ctx); err != nil {
		return err
	}
	return w.network.Refresh(ctx)
}

// memDirectory is an in-process account store for running the devserver
// without Postgres.
type memDirectory struct {
	mu       sync.Mutex
	byEmail  map[string]*core.Account
	sequence int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{byEmail: map[string]*core.Account{}}
}

func (d *memDirectory) LookupByEmail(ctx context.Context, email string) (*core.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (d *memDirectory) Create(ctx context.Context, n core.NewAccount) (*core.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	email := strings.ToLower(n.Email)
	if _, ok := d.byEmail[email]; ok {
		return nil, fmt.Errorf("email already registered")
	}
	d.sequence++
	a := &core.Account{
		ID:          fmt.Sprintf("dev-%d", d.sequence),
		Email:       email,
		Username:    n.Username,
		DisplayName: n.DisplayName,
		Role:        n.Role,
		SSOManaged:  n.SSOManaged,
		Elevated:    roles.Elevated(n.Role),
	}
	d.byEmail[email] = a
	cp := *a
	return &cp, nil
}

func (d *memDirectory) MarkSSOManaged(ctx context.Context, accountID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.byEmail {
		if a.ID == accountID {
			a.SSOManaged = true
		}
	}
	return nil
}

const sessionCookie = "accessgate_session"

// cookieSessions is a toy session layer for the devserver: the cookie
// value is the account ID, nothing is signed. Real hosts bring their own
// SessionHost.
type cookieSessions struct{}

func newCookieSessions() *cookieSessions { return &cookieSessions{} }

func (s *cookieSessions) Establish(ctx context.Context, account *core.Account) error {
	w, _, ok := gatehttp.Exchange(ctx)
	if !ok {
		return fmt.Errorf("no response in flight")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    account.ID,
		Path:     "/",
		HttpOnly: true,
	})
	return nil
}

func (s *cookieSessions) CurrentUserID(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func environFromOS() core.Environ {
	env := core.Environ{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	if errors.Is(err, http.ErrServerClosed) {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
