// Package gateway is the single path for authenticated calls to the
// schedule API. It attaches the bearer token, maps status codes to the
// domain error classes and ends the session on 401.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/resilience"
	"github.com/mercocamp/agenda-bfa-go/internal/port"
)

var tracer = otel.Tracer("gateway")

// ErrSessionEnded is returned by every call that hit a 401. The credential
// has already been cleared and the navigator invoked when it surfaces.
var ErrSessionEnded = domain.ErrSessionEnded

const (
	serviceName    = "schedule-api"
	defaultMessage = "Erro na requisição"

	defaultMaxResponseBytes = 10 << 20
)

// Options configures a Gateway.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      port.CredentialStore
	Navigator  port.Navigator
	Breaker    *gobreaker.CircuitBreaker
	Retry      resilience.Config
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// MaxResponseBytes caps a response body; zero means 10 MiB.
	MaxResponseBytes int64
}

// Gateway implements port.Requester.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	store      port.CredentialStore
	navigator  port.Navigator
	cb         *gobreaker.CircuitBreaker
	retry      resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
	maxBody    int64

	// public requests carry no token and treat 401 as a plain failure.
	public bool
}

// New creates a Gateway. A nil breaker gets the default one.
func New(opts Options) *Gateway {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(serviceName, IsBreakerFailure, opts.Logger)
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = defaultMaxResponseBytes
	}
	retry := opts.Retry
	if retry.Retryable == nil {
		retry.Retryable = IsBreakerFailure
	}
	return &Gateway{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		store:      opts.Store,
		navigator:  opts.Navigator,
		cb:         opts.Breaker,
		retry:      retry,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		maxBody:    opts.MaxResponseBytes,
	}
}

// Public returns a view of the gateway for unauthenticated endpoints such as
// POST /auth/login.
func (g *Gateway) Public() *Gateway {
	cp := *g
	cp.public = true
	return &cp
}

// BreakerState is the circuit breaker state as named by gobreaker.
func (g *Gateway) BreakerState() string {
	return g.cb.State().String()
}

// IsBreakerFailure reports whether err should count against the circuit
// breaker and be retried: network failures and 5xx answers only.
func IsBreakerFailure(err error) bool {
	var (
		transient *domain.ErrTransient
		server    *domain.ErrServer
	)
	return errors.As(err, &transient) || errors.As(err, &server)
}

// Get issues a GET with optional query parameters.
func (g *Gateway) Get(ctx context.Context, endpoint string, query url.Values, out any) error {
	return g.Do(ctx, http.MethodGet, endpoint, query, nil, out)
}

// Post issues a POST with a JSON body.
func (g *Gateway) Post(ctx context.Context, endpoint string, body, out any) error {
	return g.Do(ctx, http.MethodPost, endpoint, nil, body, out)
}

// Patch issues a PATCH with a JSON body.
func (g *Gateway) Patch(ctx context.Context, endpoint string, body, out any) error {
	return g.Do(ctx, http.MethodPatch, endpoint, nil, body, out)
}

// Do performs one logical call. out is left untouched when the answer has
// no body.
func (g *Gateway) Do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	ctx, span := tracer.Start(ctx, method+" "+endpoint)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("api.endpoint", endpoint),
	)

	start := time.Now()
	err := g.execute(ctx, method, endpoint, query, body, out)

	var unauth *domain.ErrUnauthenticated
	if !g.public && errors.As(err, &unauth) {
		g.endSession(ctx)
		err = domain.ErrSessionEnded
	}

	class := string(domain.Classify(err))
	if class == "" {
		class = "ok"
	}
	if g.metrics != nil {
		g.metrics.RecordGatewayCall(metricEndpoint(endpoint), class, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Debug("schedule API call failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.String("class", class),
			zap.Error(err),
		)
	}
	return err
}

func (g *Gateway) execute(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = raw
	}

	cfg := g.retry
	if method != http.MethodGet {
		cfg.MaxRetries = 0
	}

	_, err := g.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, cfg, func() error {
			return g.roundTrip(ctx, method, endpoint, query, payload, out)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: serviceName}
	}
	return err
}

func (g *Gateway) roundTrip(ctx context.Context, method, endpoint string, query url.Values, payload []byte, out any) error {
	target := g.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if !g.public && g.store != nil {
		if cred, ok := g.store.Load(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+cred.Token)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &domain.ErrTransient{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		return &domain.ErrTransient{Op: method + " " + endpoint, Err: err}
	}
	tooLarge := int64(len(raw)) > g.maxBody
	if tooLarge {
		raw = raw[:g.maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, raw)
	}
	if tooLarge {
		return fmt.Errorf("%s %s: response larger than %d bytes", method, endpoint, g.maxBody)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func (g *Gateway) endSession(ctx context.Context) {
	if g.store != nil {
		if err := g.store.Clear(ctx); err != nil {
			g.logger.Warn("failed to clear credential after 401", zap.Error(err))
		}
	}
	if g.navigator != nil {
		g.navigator.RedirectToLogin(ctx)
	}
	g.logger.Info("session ended by the schedule API")
}

// ============================================================
// Error body mapping
// ============================================================

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details"`
}

func statusError(status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = defaultMessage
	}

	switch {
	case status == http.StatusUnauthorized:
		return &domain.ErrUnauthenticated{Message: msg}
	case status == http.StatusForbidden:
		return &domain.ErrForbidden{Action: msg}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &domain.ErrValidation{Message: msg, Details: flattenDetails(body.Details)}
	case status >= 500:
		return &domain.ErrServer{Status: status, Message: msg}
	default:
		return &domain.ErrRequest{Status: status, Message: msg}
	}
}

// flattenDetails renders each detail as a string: strings verbatim, objects
// by message, then by path, else as JSON.
func flattenDetails(details []json.RawMessage) []string {
	if len(details) == 0 {
		return nil
	}
	out := make([]string, 0, len(details))
	for _, d := range details {
		var s string
		if err := json.Unmarshal(d, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Message string `json:"message"`
			Path    any    `json:"path"`
		}
		if err := json.Unmarshal(d, &obj); err == nil {
			if obj.Message != "" {
				out = append(out, obj.Message)
				continue
			}
			if p := pathString(obj.Path); p != "" {
				out = append(out, fmt.Sprintf("Campo %s: inválido", p))
				continue
			}
		}
		out = append(out, string(d))
	}
	return out
}

func pathString(p any) string {
	switch v := p.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

var idSegment = regexp.MustCompile(`/\d+(/|$)`)

// metricEndpoint collapses numeric path segments to keep label cardinality low.
func metricEndpoint(endpoint string) string {
	return idSegment.ReplaceAllString(endpoint, "/:id$1")
}
