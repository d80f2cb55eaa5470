package gatehttp

import (
	"net/http"

	"go.uber.org/zap"

	core "github.com/open-rails/accessgate/core"
)

// SessionReader reports the user behind an incoming request's existing
// session, if any. Owned by the host application; the zero return means
// no session.
type SessionReader interface {
	CurrentUserID(r *http.Request) string
}

// DenialRenderer draws the page (or response body) shown when a login
// attempt is denied. The default renderer emits a JSON error shape.
type DenialRenderer func(w http.ResponseWriter, r *http.Request, out core.Outcome)

// Service mounts the login orchestrator onto net/http.
type Service struct {
	orch     *core.Orchestrator
	sessions SessionReader
	render   DenialRenderer
	logger   *zap.Logger

	// Form field and query parameter names of the host's login page.
	// Defaults follow the conventional login form.
	UserField     string
	PasswordField string
	RedirectField string
}

func NewService(orch *core.Orchestrator, sessions SessionReader) *Service {
	return &Service{
		orch:          orch,
		sessions:      sessions,
		render:        renderDenialJSON,
		logger:        zap.NewNop(),
		UserField:     "log",
		PasswordField: "pwd",
		RedirectField: "redirect_to",
	}
}

func (s *Service) WithDenialRenderer(fn DenialRenderer) *Service {
	if fn != nil {
		s.render = fn
	}
	return s
}

func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

func renderDenialJSON(w http.ResponseWriter, r *http.Request, out core.Outcome) {
	forbidden(w, string(out.Reason), out.Message)
}
