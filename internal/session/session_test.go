package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/client"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/credstore"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/gateway"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/session"
)

// fakeAuthBackend answers the /auth endpoints of the schedule API.
type fakeAuthBackend struct {
	verifyStatus  atomic.Int32
	refreshStatus atomic.Int32
	logoutStatus  atomic.Int32
	refreshes     atomic.Int32
	logins        atomic.Int32
}

func mintToken(t *testing.T, user string, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func (b *fakeAuthBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			b.logins.Add(1)
			var req domain.LoginRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Password != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Usuário ou senha inválidos"}`))
				return
			}
			if req.User == "semnivel" {
				w.Write([]byte(`{"token":"tok","user":{"user":"semnivel","cli_access":{"11222333000144":true}}}`))
				return
			}
			json.NewEncoder(w).Encode(domain.LoginResponse{
				Token: mintToken(t, req.User, time.Hour),
				User: domain.UserProfile{
					User:        req.User,
					Name:        "Ana Souza",
					LevelAccess: domain.LevelManager,
					CliAccess:   domain.ClientAccess{"11222333000144": true},
				},
			})
		case "/auth/verify":
			w.WriteHeader(int(b.verifyStatus.Load()))
			w.Write([]byte(`{}`))
		case "/auth/refresh":
			b.refreshes.Add(1)
			status := int(b.refreshStatus.Load())
			w.WriteHeader(status)
			if status == http.StatusOK {
				json.NewEncoder(w).Encode(domain.RefreshResponse{Token: "renewed-token"})
			}
		case "/auth/logout":
			w.WriteHeader(int(b.logoutStatus.Load()))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type env struct {
	backend *fakeAuthBackend
	store   *credstore.Store
	nav     *session.Redirector
	metrics *observability.Metrics
	sess    *session.Session
}

func newEnv(t *testing.T, renewal time.Duration) *env {
	t.Helper()
	b := &fakeAuthBackend{}
	b.verifyStatus.Store(http.StatusOK)
	b.refreshStatus.Store(http.StatusOK)
	b.logoutStatus.Store(http.StatusOK)

	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	store := credstore.NewMemory(zap.NewNop())
	nav := session.NewRedirector("/login", zap.NewNop())
	metrics := observability.NewMetrics()
	gw := gateway.New(gateway.Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Store:      store,
		Navigator:  nav,
		Metrics:    metrics,
	})

	sess := session.New(session.Options{
		Store:           store,
		Auth:            client.NewAuthClient(gw, gw.Public()),
		Navigator:       nav,
		RenewalInterval: renewal,
		Metrics:         metrics,
		Logger:          zap.NewNop(),
	})
	t.Cleanup(sess.Close)

	return &env{backend: b, store: store, nav: nav, metrics: metrics, sess: sess}
}

func TestLogin_ClientSideValidation(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()

	cases := map[string][2]string{
		"empty":          {"", "secret"},
		"short user":     {"an", "secret"},
		"short password": {"ana", "se"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.sess.Login(ctx, c[0], c[1], false)
			assert.Equal(t, domain.ClassValidation, domain.Classify(err))
		})
	}
	assert.Zero(t, e.backend.logins.Load(), "validation must not reach the API")
}

func TestLogin_StoresCredentialAndRedirect(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	e.store.SetRedirect("/v1/schedules")

	target, err := e.sess.Login(ctx, "  ana ", "secret", true)
	require.NoError(t, err)
	assert.Equal(t, "/v1/schedules", target)

	user, ok := e.sess.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, "ana", user.User)
	assert.Equal(t, "ana", e.sess.RememberedUser(ctx))

	target, err = e.sess.Login(ctx, "ana", "secret", false)
	require.NoError(t, err)
	assert.Equal(t, "/", target)
	assert.Empty(t, e.sess.RememberedUser(ctx))
}

func TestLogin_RejectedKeepsAPIMessage(t *testing.T) {
	e := newEnv(t, time.Hour)

	_, err := e.sess.Login(context.Background(), "ana", "wrong", false)
	var unauth *domain.ErrUnauthenticated
	require.ErrorAs(t, err, &unauth)
	assert.Equal(t, "Usuário ou senha inválidos", unauth.Message)
	assert.Zero(t, e.nav.Redirects(), "failed login is not a forced logout")
}

func TestLogin_ProfileWithoutLevelIsRejected(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()

	_, err := e.sess.Login(ctx, "semnivel", "secret", false)
	assert.Equal(t, domain.ClassUnauthenticated, domain.Classify(err))
	assert.ErrorIs(t, err, domain.ErrInvalidProfile)

	_, ok := e.sess.CurrentUser(ctx)
	assert.False(t, ok, "nothing stored for an invalid profile")
}

func TestGuard_NoTokenRejects(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()

	st := e.sess.Guard().Check(ctx, "/v1/dashboard")
	assert.Equal(t, session.StateRejected, st)
	assert.Equal(t, int64(1), e.nav.Redirects())
	assert.Equal(t, "/v1/dashboard", e.store.TakeRedirect())
}

func TestGuard_VerifyFailureClearsStore(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	_, err := e.sess.Login(ctx, "ana", "secret", false)
	require.NoError(t, err)

	e.backend.verifyStatus.Store(http.StatusUnauthorized)
	st := e.sess.Guard().Check(ctx, "/v1/schedules")

	assert.Equal(t, session.StateRejected, st)
	_, ok := e.store.Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, int64(1), e.nav.Redirects(), "gateway navigates once")
	assert.Equal(t, "/v1/schedules", e.store.TakeRedirect())

	// Rejected is terminal for this guard.
	assert.Equal(t, session.StateRejected, e.sess.Guard().Check(ctx, "/"))
}

func TestGuard_VerifyServerErrorRejects(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	_, err := e.sess.Login(ctx, "ana", "secret", false)
	require.NoError(t, err)

	e.backend.verifyStatus.Store(http.StatusInternalServerError)
	assert.Equal(t, session.StateRejected, e.sess.Guard().Check(ctx, "/"))
	_, ok := e.store.Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, int64(1), e.nav.Redirects())
}

func TestGuard_AuthenticatedExposesProfile(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	_, err := e.sess.Login(ctx, "ana", "secret", false)
	require.NoError(t, err)

	g := e.sess.Guard()
	require.Equal(t, session.StateAuthenticated, g.Check(ctx, "/"))

	p, ok := g.Profile()
	require.True(t, ok)
	assert.Equal(t, "Gerente", p.LevelAccess.Name())

	info := e.sess.Info(ctx)
	assert.True(t, info.Authenticated)
	assert.Equal(t, "Gerente", info.Role)
}

func TestGuard_RenewalReplacesToken(t *testing.T) {
	e := newEnv(t, 20*time.Millisecond)
	ctx := context.Background()
	_, err := e.sess.Login(ctx, "ana", "secret", false)
	require.NoError(t, err)

	require.Equal(t, session.StateAuthenticated, e.sess.Guard().Check(ctx, "/"))

	// Renewal never fires sooner than one second.
	assert.Eventually(t, func() bool {
		cred, ok := e.store.Load(ctx)
		return ok && cred.Token == "renewed-token"
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, e.metrics.RenewalCount("success"), float64(1))
	assert.Equal(t, session.StateAuthenticated, e.sess.Guard().State())
}

func TestGuard_RenewalFailureLogsOut(t *testing.T) {
	e := newEnv(t, 20*time.Millisecond)
	ctx := context.Background()
	_, err := e.sess.Login(ctx, "ana", "secret", false)
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, e.sess.Guard().Check(ctx, "/"))

	e.backend.refreshStatus.Store(http.StatusServiceUnavailable)

	assert.Eventually(t, func() bool {
		return e.sess.Guard().State() == session.StateRejected
	}, 3*time.Second, 20*time.Millisecond)
	_, ok := e.store.Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, float64(1), e.metrics.RenewalCount("failure"))
	assert.Equal(t, int64(1), e.nav.Redirects())
}

func TestLogout_IsBestEffort(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	_, err := e.sess.Login(ctx, "ana", "secret", true)
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, e.sess.Guard().Check(ctx, "/"))

	e.backend.logoutStatus.Store(http.StatusBadGateway)
	e.sess.Logout(ctx)

	_, ok := e.store.Load(ctx)
	assert.False(t, ok)
	assert.Empty(t, e.sess.RememberedUser(ctx))
	assert.Equal(t, session.StateRejected, e.sess.Guard().State())
	assert.Equal(t, int64(1), e.nav.Redirects())

	// A new login starts a fresh guard.
	_, err = e.sess.Login(ctx, "ana", "secret", false)
	require.NoError(t, err)
	assert.Equal(t, session.StateUnchecked, e.sess.Guard().State())
}

func TestLogout_UnauthorizedNavigatesOnce(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	_, err := e.sess.Login(ctx, "ana", "secret", true)
	require.NoError(t, err)

	e.backend.logoutStatus.Store(http.StatusUnauthorized)
	e.sess.Logout(ctx)

	_, ok := e.store.Load(ctx)
	assert.False(t, ok)
	assert.Empty(t, e.sess.RememberedUser(ctx))
	assert.Equal(t, int64(1), e.nav.Redirects(), "the gateway already navigated")
}
