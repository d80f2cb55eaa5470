package core

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/open-rails/accessgate/obs"
)

// OutcomeKind tags the terminal state of one login attempt.
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "success"
	OutcomeDenied        OutcomeKind = "denied"
	OutcomeNotApplicable OutcomeKind = "not_applicable"
	OutcomeDeferred      OutcomeKind = "deferred"
)

// DenyReason is the stable code surfaced to the host on a denial.
type DenyReason string

const (
	DenySSOEnforced         DenyReason = "sso_enforced"
	DenyNetworkNotSupported DenyReason = "network_not_supported"
	DenySetupRequired       DenyReason = "setup_required"
	DenyTokenMissing        DenyReason = "token_missing"
	DenyTokenInvalid        DenyReason = "token_invalid"
	DenyTokenEmailMissing   DenyReason = "token_email_missing"
	DenyUserError           DenyReason = "user_error"
)

// Outcome is the result of one attempt, consumed immediately by the
// caller. Message is the single human-readable denial text for the
// front end; RedirectURL is set on success.
type Outcome struct {
	Kind        OutcomeKind
	Reason      DenyReason
	Message     string
	Account     *Account
	RedirectURL string
}

// LoginAttempt is everything the orchestrator needs to know about an
// incoming login-page request, pre-extracted so the core stays free of
// transport concerns beyond header access.
type LoginAttempt struct {
	Header     http.Header
	RemoteAddr string
	RequestURI string

	// Action is non-empty when the request is some other login flow
	// (logout, password reset, interim error page).
	Action     string
	LoggedOut  bool
	PriorError bool

	// Conventional credential submission, when present.
	Username string
	Password string

	// RedirectTo is the caller-requested post-login target.
	RedirectTo string

	// AuthCookie is the edge authorization cookie value, used for the
	// secondary identity lookup during provisioning.
	AuthCookie string

	// SessionUserID is non-empty when the request already carries an
	// authenticated session.
	SessionUserID string
}

// LoginObserver is notified after a successful SSO login.
type LoginObserver func(username string, account *Account)

// RequiresSSOObserver is notified when a conventional attempt is rejected
// because SSO is enforced.
type RequiresSSOObserver func(username string)

// Hooks are the orchestrator's extension points, resolved once at
// construction.
type Hooks struct {
	BeforeNetworkCheck []func(*LoginAttempt)
	OnLoginSuccess     []LoginObserver
	OnLoginRequiresSSO []RequiresSSOObserver
}

// Merge appends other's observers onto h.
func (h Hooks) Merge(other Hooks) Hooks {
	h.BeforeNetworkCheck = append(h.BeforeNetworkCheck, other.BeforeNetworkCheck...)
	h.OnLoginSuccess = append(h.OnLoginSuccess, other.OnLoginSuccess...)
	h.OnLoginRequiresSSO = append(h.OnLoginRequiresSSO, other.OnLoginRequiresSSO...)
	return h
}

// SessionHost establishes a session for a resolved account. Owned by the
// host application.
type SessionHost interface {
	Establish(ctx context.Context, account *Account) error
}

// Orchestrator sequences the trust checks for a login attempt and
// produces exactly one Outcome and one audit entry per attempt.
type Orchestrator struct {
	opts     Options
	settings *Settings
	network  *NetworkRegistry
	verifier *TokenVerifier
	resolver *IdentityResolver
	audit    *AuditLog
	sessions SessionHost
	hooks    Hooks
	logger   *zap.Logger
}

func NewOrchestrator(opts Options, settings *Settings, network *NetworkRegistry, verifier *TokenVerifier, resolver *IdentityResolver, audit *AuditLog, sessions SessionHost, hooks Hooks, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		opts:     opts,
		settings: settings,
		network:  network,
		verifier: verifier,
		resolver: resolver,
		audit:    audit,
		sessions: sessions,
		hooks:    hooks,
		logger:   logger,
	}
}

// Attempt runs the login state machine for one request.
func (o *Orchestrator) Attempt(ctx context.Context, att *LoginAttempt) Outcome {
	// Other login actions (logout, an interim error page) are never
	// intercepted.
	if att.Action != "" || att.LoggedOut || att.PriorError {
		return o.skip(ctx, att, "another login action in progress", nil)
	}

	// A conventional credential submission bypasses interception unless
	// SSO is mandatory. When mandatory, the credentials are never checked
	// against any password store.
	if att.Username != "" || att.Password != "" {
		if o.settings.EnforceSSO(ctx) {
			for _, fn := range o.hooks.OnLoginRequiresSSO {
				fn(att.Username)
			}
			return o.deny(ctx, att, DenySSOEnforced, "You can only log in using SSO",
				map[string]any{"username": att.Username})
		}
		o.record(ctx, att, "login_deferred", "conventional login, skipping SSO checks",
			map[string]any{"username": att.Username})
		obs.Login(string(OutcomeDeferred), "")
		return Outcome{Kind: OutcomeDeferred}
	}

	for _, fn := range o.hooks.BeforeNetworkCheck {
		fn(att)
	}

	if !o.network.InNetwork(ctx, att.Header, att.RemoteAddr) {
		return o.deny(ctx, att, DenyNetworkNotSupported, "Trusted edge network required for SSO", nil)
	}

	if o.settings.TeamDomain(ctx) == "" {
		return o.deny(ctx, att, DenySetupRequired, "SSO is not fully set up", nil)
	}

	if att.SessionUserID != "" {
		return o.skip(ctx, att, "session already established",
			map[string]any{"actor_id": att.SessionUserID})
	}

	token, ok := ExtractToken(att.Header.Get(o.opts.assertionHeader()))
	if !ok || token == "" {
		return o.deny(ctx, att, DenyTokenMissing, "No SSO token found", nil)
	}

	claims, err := o.verifier.Verify(ctx, token)
	if err != nil {
		data := map[string]any{"token": token}
		var ve *VerifyError
		if errors.As(err, &ve) {
			data["reason"] = ve.Reason
		}
		data["error"] = err.Error()
		return o.deny(ctx, att, DenyTokenInvalid, "SSO token is invalid", data)
	}

	if claims.Email == "" {
		return o.deny(ctx, att, DenyTokenEmailMissing, "SSO token payload missing email",
			map[string]any{"claims": claims.Raw, "token": token})
	}

	account, err := o.resolver.ResolveOrCreate(ctx, claims, att.AuthCookie, o.settings.AllowCreate(ctx))
	if err != nil {
		return o.deny(ctx, att, DenyUserError, resolveMessage(err), map[string]any{
			"claims":     claims.Raw,
			"token":      token,
			"user_email": claims.Email,
			"sub_reason": resolveReason(err),
		})
	}

	if err := o.sessions.Establish(ctx, account); err != nil {
		return o.deny(ctx, att, DenyUserError, "Could not establish a session",
			map[string]any{"user_email": account.Email, "error": err.Error()})
	}

	// Tag pre-existing accounts as SSO-managed on their first SSO login.
	if !account.SSOManaged {
		if err := o.resolver.dir.MarkSSOManaged(ctx, account.ID); err != nil {
			o.logger.Warn("sso marker update failed", zap.String("account", account.ID), zap.Error(err))
		}
	}

	for _, fn := range o.hooks.OnLoginSuccess {
		fn(account.Username, account)
	}

	o.record(ctx, att, "login_success", "login successful using SSO", map[string]any{
		"claims":     claims.Raw,
		"user_email": account.Email,
	})
	obs.Login(string(OutcomeSuccess), "")

	redirect := att.RedirectTo
	if redirect == "" {
		if account.Elevated {
			redirect = o.opts.AdminURL
		} else {
			redirect = o.opts.HomeURL
		}
	}
	return Outcome{Kind: OutcomeSuccess, Account: account, RedirectURL: redirect}
}

// AllowPasswordReset reports whether the host may offer a conventional
// password reset for the account. SSO-managed accounts, and all accounts
// while SSO is enforced, reset credentials at the identity provider.
func (o *Orchestrator) AllowPasswordReset(ctx context.Context, account *Account) bool {
	if o.settings.EnforceSSO(ctx) {
		return false
	}
	return account == nil || !account.SSOManaged
}

func (o *Orchestrator) deny(ctx context.Context, att *LoginAttempt, reason DenyReason, message string, data map[string]any) Outcome {
	o.record(ctx, att, string(reason), message, data)
	obs.Login(string(OutcomeDenied), string(reason))
	o.logger.Info("login denied", zap.String("reason", string(reason)), zap.String("uri", RedactURI(att.RequestURI)))
	return Outcome{Kind: OutcomeDenied, Reason: reason, Message: message}
}

func (o *Orchestrator) skip(ctx context.Context, att *LoginAttempt, message string, data map[string]any) Outcome {
	o.record(ctx, att, "login_skipped", message, data)
	obs.Login(string(OutcomeNotApplicable), "")
	return Outcome{Kind: OutcomeNotApplicable}
}

func (o *Orchestrator) record(ctx context.Context, att *LoginAttempt, kind, message string, data map[string]any) {
	e := AuditEvent{
		Kind:       kind,
		Message:    message,
		ActorID:    att.SessionUserID,
		RequestURI: att.RequestURI,
		Data:       data,
	}
	o.audit.Append(ctx, e)
}

func resolveReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingEmail):
		return "missing_email"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrEmailMismatch):
		return "email_mismatch"
	case errors.Is(err, ErrCreateFailed):
		return "create_failed"
	default:
		return "directory_error"
	}
}

func resolveMessage(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return "User does not exist or is not allowed to log in"
	case errors.Is(err, ErrCreateFailed), errors.Is(err, ErrEmailMismatch):
		return "Could not create a new account"
	case errors.Is(err, ErrMissingEmail):
		return "SSO token payload missing email"
	default:
		return "User lookup failed"
	}
}
