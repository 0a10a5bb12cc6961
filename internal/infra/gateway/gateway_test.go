package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/credstore"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/gateway"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/resilience"
)

type recordingNavigator struct {
	calls atomic.Int32
}

func (n *recordingNavigator) RedirectToLogin(context.Context) { n.calls.Add(1) }

type fixture struct {
	gw      *gateway.Gateway
	store   *credstore.Store
	nav     *recordingNavigator
	metrics *observability.Metrics
}

func newFixture(t *testing.T, h http.HandlerFunc, retry resilience.Config) *fixture {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := credstore.NewMemory(zap.NewNop())
	require.NoError(t, store.Save(context.Background(), "tok-123", domain.UserProfile{User: "ana"}))

	nav := &recordingNavigator{}
	metrics := observability.NewMetrics()
	gw := gateway.New(gateway.Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Store:      store,
		Navigator:  nav,
		Retry:      retry,
		Metrics:    metrics,
		Logger:     zap.NewNop(),
	})
	return &fixture{gw: gw, store: store, nav: nav, metrics: metrics}
}

func TestDo_AttachesHeadersAndDecodes(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "Agendado", r.URL.Query().Get("status"))
		w.Write([]byte(`{"schedules":[{"id":7,"number":"13415","status":"Agendado"}]}`))
	}, resilience.Config{})

	var out domain.ScheduleListResponse
	err := f.gw.Get(context.Background(), "/schedules", url.Values{"status": {"Agendado"}}, &out)
	require.NoError(t, err)
	require.Len(t, out.Schedules, 1)
	assert.Equal(t, 7, out.Schedules[0].ID)
	assert.Equal(t, float64(1), f.metrics.GatewayCount("/schedules", "ok"))
}

func TestDo_EmptyBodyLeavesOutUntouched(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, resilience.Config{})

	out := domain.RefreshResponse{Token: "keep"}
	require.NoError(t, f.gw.Post(context.Background(), "/auth/logout", nil, &out))
	assert.Equal(t, "keep", out.Token)
}

func TestDo_UnauthorizedEndsSession(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Token expirado"}`))
	}, resilience.Config{})

	err := f.gw.Get(context.Background(), "/schedules", nil, nil)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	assert.Equal(t, domain.ClassUnauthenticated, domain.Classify(err))

	_, ok := f.store.Load(context.Background())
	assert.False(t, ok, "credential must be cleared after 401")
	assert.Equal(t, int32(1), f.nav.calls.Load())
}

func TestPublic_UnauthorizedDoesNotRedirect(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Usuário ou senha inválidos"}`))
	}, resilience.Config{})

	err := f.gw.Public().Post(context.Background(), "/auth/login", domain.LoginRequest{User: "ana", Password: "x"}, nil)

	var unauth *domain.ErrUnauthenticated
	require.ErrorAs(t, err, &unauth)
	assert.Equal(t, "Usuário ou senha inválidos", unauth.Message)
	assert.Zero(t, f.nav.calls.Load())
	_, ok := f.store.Load(context.Background())
	assert.True(t, ok)
}

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  domain.Class
		msg    string
	}{
		{"forbidden", 403, `{"error":"Sem acesso"}`, domain.ClassForbidden, "Sem acesso"},
		{"validation", 400, `{"error":"Dados inválidos"}`, domain.ClassValidation, "Dados inválidos"},
		{"unprocessable", 422, `{}`, domain.ClassValidation, "Erro na requisição"},
		{"server", 502, `not json`, domain.ClassServer, "server error [502]: Erro na requisição"},
		{"other", 404, `{"message":"Não encontrado"}`, domain.ClassUnknown, "request failed [404]: Não encontrado"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, resilience.Config{})

			err := f.gw.Get(context.Background(), "/schedules", nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.class, domain.Classify(err))
			assert.Equal(t, tt.msg, err.Error())
			assert.Zero(t, f.nav.calls.Load())
		})
	}
}

func TestDo_ValidationDetailsFlattened(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Dados inválidos","details":["data obrigatória",{"message":"supplier muito longo"},{"path":["info","products"]},{"code":7}]}`))
	}, resilience.Config{})

	err := f.gw.Post(context.Background(), "/schedules", map[string]string{"number": "1"}, nil)

	var v *domain.ErrValidation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, []string{
		"data obrigatória",
		"supplier muito longo",
		"Campo info,products: inválido",
		`{"code":7}`,
	}, v.Details)
}

func TestDo_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	gw := gateway.New(gateway.Options{
		BaseURL:    srv.URL,
		HTTPClient: &http.Client{Timeout: time.Second},
		Store:      credstore.NewMemory(nil),
	})

	err := gw.Get(context.Background(), "/schedules", nil, nil)
	var transient *domain.ErrTransient
	assert.True(t, errors.As(err, &transient))
	assert.Equal(t, domain.ClassTransient, domain.Classify(err))
}

func TestDo_RetriesOnlyGet(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond})

	_ = f.gw.Get(context.Background(), "/schedules", nil, nil)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	_ = f.gw.Post(context.Background(), "/schedules", map[string]string{}, nil)
	assert.Equal(t, int32(1), calls.Load(), "writes are never retried")
}

func TestDo_MetricsCollapseIDs(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/schedules/42/status", r.URL.Path)
		w.Write([]byte(`{"id":42}`))
	}, resilience.Config{})

	require.NoError(t, f.gw.Patch(context.Background(), "/schedules/42/status", map[string]string{"status": "Recebido"}, nil))
	assert.Equal(t, float64(1), f.metrics.GatewayCount("/schedules/:id/status", "ok"))
}

func TestDo_ResponseSizeIsCapped(t *testing.T) {
	big := `{"schedules":[],"padding":"` + strings.Repeat("x", 256) + `"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
		}
		w.Write([]byte(big))
	}))
	t.Cleanup(srv.Close)

	gw := gateway.New(gateway.Options{
		BaseURL:          srv.URL,
		HTTPClient:       srv.Client(),
		Store:            credstore.NewMemory(zap.NewNop()),
		MaxResponseBytes: 64,
	})

	var out domain.ScheduleListResponse
	err := gw.Get(context.Background(), "/schedules", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "larger than 64 bytes")

	err = gw.Get(context.Background(), "/broken", nil, &out)
	var server *domain.ErrServer
	assert.ErrorAs(t, err, &server, "error statuses still map from the truncated body")
}
