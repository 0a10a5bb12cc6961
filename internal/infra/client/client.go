// Package client exposes the schedule API endpoints as typed calls over a
// port.Requester. Authentication, error mapping and resilience live in the
// gateway; this package only knows paths and payloads.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/port"
)

var tracer = otel.Tracer("client")

// ============================================================
// Auth
// ============================================================

// AuthClient implements port.AuthAPI. Login goes through the public
// requester because it runs before any token exists.
type AuthClient struct {
	api    port.Requester
	public port.Requester
}

// NewAuthClient creates an AuthClient.
func NewAuthClient(api, public port.Requester) *AuthClient {
	return &AuthClient{api: api, public: public}
}

func (c *AuthClient) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := tracer.Start(ctx, "AuthClient.Login")
	defer span.End()
	span.SetAttributes(attribute.String("user", req.User))

	var resp domain.LoginResponse
	if err := c.public.Do(ctx, http.MethodPost, "/auth/login", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify checks the stored token against GET /auth/verify.
func (c *AuthClient) Verify(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "AuthClient.Verify")
	defer span.End()
	return c.api.Do(ctx, http.MethodGet, "/auth/verify", nil, nil, nil)
}

func (c *AuthClient) Refresh(ctx context.Context) (*domain.RefreshResponse, error) {
	ctx, span := tracer.Start(ctx, "AuthClient.Refresh")
	defer span.End()

	var resp domain.RefreshResponse
	if err := c.api.Do(ctx, http.MethodPost, "/auth/refresh", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &domain.ErrUnauthenticated{Message: "renovação de token sem token"}
	}
	return &resp, nil
}

func (c *AuthClient) Logout(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "AuthClient.Logout")
	defer span.End()
	return c.api.Do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
}

// ============================================================
// Schedules
// ============================================================

// ScheduleClient implements port.ScheduleAPI.
type ScheduleClient struct {
	api port.Requester
}

// NewScheduleClient creates a ScheduleClient.
func NewScheduleClient(api port.Requester) *ScheduleClient {
	return &ScheduleClient{api: api}
}

// ListSchedules fetches one page. Empty filters are not sent.
func (c *ScheduleClient) ListSchedules(ctx context.Context, f domain.ScheduleFilters, page, limit int) (*domain.ScheduleListResponse, error) {
	ctx, span := tracer.Start(ctx, "ScheduleClient.ListSchedules")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("limit", limit))

	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setIf(q, "status", string(f.Status))
	setIf(q, "client", f.Client)
	setIf(q, "date_from", f.DateFrom)
	setIf(q, "date_to", f.DateTo)
	setIf(q, "nfe_number", f.NfeNumber)

	var resp domain.ScheduleListResponse
	if err := c.api.Do(ctx, http.MethodGet, "/schedules", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ScheduleClient) CreateSchedule(ctx context.Context, req *domain.CreateScheduleRequest) (*domain.Schedule, error) {
	ctx, span := tracer.Start(ctx, "ScheduleClient.CreateSchedule")
	defer span.End()
	span.SetAttributes(attribute.String("nfe.number", req.Number))

	var created domain.Schedule
	if err := c.api.Do(ctx, http.MethodPost, "/schedules", nil, req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *ScheduleClient) UpdateStatus(ctx context.Context, id int, req *domain.StatusChangeRequest) (*domain.Schedule, error) {
	ctx, span := tracer.Start(ctx, "ScheduleClient.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.Int("schedule.id", id), attribute.String("status", string(req.Status)))

	var updated domain.Schedule
	endpoint := fmt.Sprintf("/schedules/%d/status", id)
	if err := c.api.Do(ctx, http.MethodPatch, endpoint, nil, req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ============================================================
// Catalog & clients
// ============================================================

// CatalogClient implements port.CatalogChecker and port.ClientLister.
type CatalogClient struct {
	api port.Requester
}

// NewCatalogClient creates a CatalogClient.
func NewCatalogClient(api port.Requester) *CatalogClient {
	return &CatalogClient{api: api}
}

// CheckExisting runs the batched product existence lookup.
func (c *CatalogClient) CheckExisting(ctx context.Context, checks []domain.ProductCheck) ([]domain.ProductCheckResult, error) {
	ctx, span := tracer.Start(ctx, "CatalogClient.CheckExisting")
	defer span.End()
	span.SetAttributes(attribute.Int("products", len(checks)))

	var resp domain.ProductCheckResponse
	err := c.api.Do(ctx, http.MethodPost, "/products/check-existing", nil,
		&domain.ProductCheckRequest{Products: checks}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *CatalogClient) ListClients(ctx context.Context) ([]domain.Client, error) {
	ctx, span := tracer.Start(ctx, "CatalogClient.ListClients")
	defer span.End()

	var resp domain.ClientListResponse
	if err := c.api.Do(ctx, http.MethodGet, "/clients", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
