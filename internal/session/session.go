// Package session owns the authenticated context of the dashboard: login,
// logout, the guard that verifies a stored credential and the background
// token renewal. All credential writes go through Session under one mutex.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/port"
)

var tracer = otel.Tracer("session")

const (
	defaultRedirect       = "/"
	loginFailureMessage   = "Erro ao fazer login. Tente novamente."
	invalidProfileMessage = "Perfil de usuário inválido. Contate o administrador."
	minPasswordLen        = 3
	minUserLen            = 3
)

// Options configures a Session.
type Options struct {
	Store           port.CredentialStore
	Auth            port.AuthAPI
	Navigator       port.Navigator
	RenewalInterval time.Duration
	Metrics         *observability.Metrics
	Logger          *zap.Logger
}

// Session is the explicit session context. Create it at startup with New
// and release it with Close.
type Session struct {
	store    port.CredentialStore
	auth     port.AuthAPI
	nav      port.Navigator
	interval time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	// mu serializes every credential read-modify-write.
	mu sync.Mutex

	guardMu sync.Mutex
	guard   *Guard
}

// New creates a Session.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RenewalInterval <= 0 {
		opts.RenewalInterval = 15 * time.Minute
	}
	s := &Session{
		store:    opts.Store,
		auth:     opts.Auth,
		nav:      opts.Navigator,
		interval: opts.RenewalInterval,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      time.Now,
	}
	s.guard = newGuard(s)
	return s
}

// Login validates the form, authenticates against the API and stores the
// credential. It returns where the user should land next.
func (s *Session) Login(ctx context.Context, user, password string, remember bool) (string, error) {
	ctx, span := tracer.Start(ctx, "Session.Login")
	defer span.End()

	user = strings.TrimSpace(user)
	span.SetAttributes(attribute.String("user", user))

	switch {
	case user == "" || password == "":
		return "", &domain.ErrValidation{Message: "Por favor, preencha todos os campos."}
	case len([]rune(user)) < minUserLen:
		return "", &domain.ErrValidation{Field: "user", Message: "O nome de usuário deve ter pelo menos 3 caracteres."}
	case len([]rune(password)) < minPasswordLen:
		return "", &domain.ErrValidation{Field: "password", Message: "A senha deve ter pelo menos 3 caracteres."}
	}

	resp, err := s.auth.Login(ctx, &domain.LoginRequest{User: user, Password: password})
	if err != nil {
		return "", loginError(err)
	}

	s.mu.Lock()
	err = s.store.Save(ctx, resp.Token, resp.User)
	if err == nil {
		if remember {
			err = s.store.RememberUser(ctx, resp.User.User)
		} else {
			err = s.store.ForgetUser(ctx)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.NewGuard()
	s.logger.Info("login succeeded",
		zap.String("user", resp.User.User),
		zap.String("role", resp.User.LevelAccess.Name()),
	)

	if target := s.store.TakeRedirect(); target != "" {
		return target, nil
	}
	return defaultRedirect, nil
}

// loginError keeps the API's own message for rejected credentials.
func loginError(err error) error {
	var (
		unauth     *domain.ErrUnauthenticated
		forbidden  *domain.ErrForbidden
		validation *domain.ErrValidation
		request    *domain.ErrRequest
	)
	msg := ""
	switch {
	case errors.Is(err, domain.ErrInvalidProfile):
		return &domain.ErrUnauthenticated{Message: invalidProfileMessage, Err: err}
	case errors.As(err, &unauth):
		msg = unauth.Message
	case errors.As(err, &forbidden):
		msg = forbidden.Action
	case errors.As(err, &validation):
		msg = validation.Message
	case errors.As(err, &request):
		msg = request.Message
	default:
		return err
	}
	if msg == "" || msg == "Erro na requisição" {
		msg = loginFailureMessage
	}
	return &domain.ErrUnauthenticated{Message: msg}
}

// Logout notifies the API (best effort), wipes the credential and the
// remembered user, stops renewal and navigates to the login view. When the
// API answers 401 the gateway has already navigated, so Logout does not.
func (s *Session) Logout(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Session.Logout")
	defer span.End()

	var notifyErr error
	if _, ok := s.store.Load(ctx); ok {
		if notifyErr = s.auth.Logout(ctx); notifyErr != nil {
			s.logger.Warn("logout notification failed", zap.Error(notifyErr))
		}
	}

	s.mu.Lock()
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear credential", zap.Error(err))
	}
	if err := s.store.ForgetUser(ctx); err != nil {
		s.logger.Warn("failed to forget remembered user", zap.Error(err))
	}
	s.mu.Unlock()

	s.currentGuard().stop(StateRejected)
	if s.nav != nil && !errors.Is(notifyErr, domain.ErrSessionEnded) {
		s.nav.RedirectToLogin(ctx)
	}
}

// CurrentUser returns the stored profile. It implements port.UserSource.
func (s *Session) CurrentUser(ctx context.Context) (*domain.UserProfile, bool) {
	cred, ok := s.store.Load(ctx)
	if !ok {
		return nil, false
	}
	return &cred.User, true
}

// RememberedUser is the username pre-filled on the login form.
func (s *Session) RememberedUser(ctx context.Context) string {
	return s.store.RememberedUser(ctx)
}

// Guard returns the guard for the current page load.
func (s *Session) Guard() *Guard {
	return s.currentGuard()
}

// NewGuard replaces the current guard with a fresh Unchecked one. A
// Rejected guard is terminal, so a new login starts a new guard.
func (s *Session) NewGuard() *Guard {
	g := newGuard(s)
	s.guardMu.Lock()
	old := s.guard
	s.guard = g
	s.guardMu.Unlock()
	old.stop(StateRejected)
	return g
}

func (s *Session) currentGuard() *Guard {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	return s.guard
}

// Info summarizes the session for GET /v1/session.
func (s *Session) Info(ctx context.Context) domain.SessionInfo {
	g := s.currentGuard()
	info := domain.SessionInfo{State: string(g.State())}
	if user, ok := s.CurrentUser(ctx); ok {
		info.User = user
		info.Role = user.LevelAccess.Name()
		info.Authenticated = g.State() == StateAuthenticated
	}
	return info
}

// Expire rejects the current guard once the credential is gone from the
// store, as after the gateway ended the session on a 401. returnTo is kept
// as the post-login target.
func (s *Session) Expire(returnTo string) {
	if returnTo != "" {
		s.store.SetRedirect(returnTo)
	}
	s.currentGuard().stop(StateRejected)
}

// Close stops background renewal.
func (s *Session) Close() {
	s.currentGuard().stop("")
}

// renew exchanges the current token for a fresh one.
func (s *Session) renew(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.renew")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.store.Load(ctx); !ok {
		return nil
	}
	resp, err := s.auth.Refresh(ctx)
	if err != nil {
		s.record("failure")
		return err
	}
	if err := s.store.SetToken(ctx, resp.Token); err != nil {
		s.record("failure")
		return err
	}
	s.record("success")
	return nil
}

func (s *Session) record(result string) {
	if s.metrics != nil {
		s.metrics.IncrRenewal(result)
	}
}

// reject ends the session after a failed verification or renewal. When the
// gateway already ended it (401), the store is clean and the navigation done.
func (s *Session) reject(ctx context.Context, returnTo string, cause error) {
	if returnTo != "" {
		s.store.SetRedirect(returnTo)
	}
	if errors.Is(cause, domain.ErrSessionEnded) {
		return
	}

	s.mu.Lock()
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear credential", zap.Error(err))
	}
	s.mu.Unlock()

	if s.nav != nil {
		s.nav.RedirectToLogin(ctx)
	}
}
