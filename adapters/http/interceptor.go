package gatehttp

import (
	"net/http"

	"go.uber.org/zap"

	core "github.com/open-rails/accessgate/core"
)

// Interceptor wraps the host's login endpoint. Each request is turned
// into a LoginAttempt and run through the orchestrator; the wrapped
// handler only sees requests the orchestrator declined to handle
// (another login action in progress, or a conventional submission while
// enforcement is off).
func (s *Service) Interceptor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		att := s.attemptFrom(r)
		out := s.orch.Attempt(withExchange(r.Context(), w, r), att)
		switch out.Kind {
		case core.OutcomeSuccess:
			http.Redirect(w, r, out.RedirectURL, http.StatusFound)
		case core.OutcomeDenied:
			s.render(w, r, out)
		default:
			// NotApplicable and Deferred fall through to the host's
			// own login handling.
			next.ServeHTTP(w, r)
		}
	})
}

// LoginHandler is Interceptor with no fallthrough target, for hosts
// that route the login path exclusively through SSO. Requests the
// orchestrator declines are answered with the denial renderer.
func (s *Service) LoginHandler() http.Handler {
	return s.Interceptor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, core.Outcome{
			Kind:    core.OutcomeDenied,
			Reason:  core.DenySSOEnforced,
			Message: "You can only log in using SSO",
		})
	}))
}

func (s *Service) attemptFrom(r *http.Request) *core.LoginAttempt {
	q := r.URL.Query()

	action := q.Get("action")
	if action == "login" {
		action = ""
	}

	var username, password string
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			s.logger.Debug("login form parse failed", zap.Error(err))
		}
		username = r.PostFormValue(s.UserField)
		password = r.PostFormValue(s.PasswordField)
	}

	var authCookie string
	if c, err := r.Cookie(core.AuthCookieName); err == nil {
		authCookie = c.Value
	}

	var sessionUser string
	if s.sessions != nil {
		sessionUser = s.sessions.CurrentUserID(r)
	}

	redirectTo := r.PostFormValue(s.RedirectField)
	if redirectTo == "" {
		redirectTo = q.Get(s.RedirectField)
	}

	return &core.LoginAttempt{
		Header:        r.Header,
		RemoteAddr:    r.RemoteAddr,
		RequestURI:    r.URL.RequestURI(),
		Action:        action,
		LoggedOut:     q.Get("loggedout") == "true",
		PriorError:    q.Has("error"),
		Username:      username,
		Password:      password,
		RedirectTo:    redirectTo,
		AuthCookie:    authCookie,
		SessionUserID: sessionUser,
	}
}
