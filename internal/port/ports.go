// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the session and
// service layers from the concrete storage and HTTP adapters.
package port

import (
	"context"
	"net/url"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
)

// CredentialStore persists the bearer token and user profile across runs.
type CredentialStore interface {
	Save(ctx context.Context, token string, user domain.UserProfile) error
	// Load returns false when no usable credential is stored. A corrupted
	// profile counts as absent and wipes the store.
	Load(ctx context.Context) (domain.Credential, bool)
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error

	RememberUser(ctx context.Context, user string) error
	RememberedUser(ctx context.Context) string
	ForgetUser(ctx context.Context) error

	// Redirect target is session-scoped and never persisted.
	SetRedirect(target string)
	TakeRedirect() string
}

// Navigator performs the "go to the login view" side effect.
type Navigator interface {
	RedirectToLogin(ctx context.Context)
}

// Requester issues authenticated JSON calls against the schedule API.
type Requester interface {
	Do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error
}

// AuthAPI is the remote authentication surface.
type AuthAPI interface {
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	Verify(ctx context.Context) error
	Refresh(ctx context.Context) (*domain.RefreshResponse, error)
	Logout(ctx context.Context) error
}

// ScheduleAPI is the remote schedule collection.
type ScheduleAPI interface {
	ListSchedules(ctx context.Context, filters domain.ScheduleFilters, page, limit int) (*domain.ScheduleListResponse, error)
	CreateSchedule(ctx context.Context, req *domain.CreateScheduleRequest) (*domain.Schedule, error)
	UpdateStatus(ctx context.Context, id int, req *domain.StatusChangeRequest) (*domain.Schedule, error)
}

// CatalogChecker answers the batched product existence lookup.
type CatalogChecker interface {
	CheckExisting(ctx context.Context, checks []domain.ProductCheck) ([]domain.ProductCheckResult, error)
}

// ClientLister lists the clients visible to the caller.
type ClientLister interface {
	ListClients(ctx context.Context) ([]domain.Client, error)
}

// UserSource exposes the profile of the authenticated user.
type UserSource interface {
	CurrentUser(ctx context.Context) (*domain.UserProfile, bool)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// SessionEnder forces a logout, as done when a list load is refused.
type SessionEnder interface {
	Logout(ctx context.Context)
}
