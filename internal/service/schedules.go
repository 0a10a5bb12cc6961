package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/permission"
	"github.com/mercocamp/agenda-bfa-go/internal/port"
)

// Schedules lists and updates schedules on behalf of the signed-in user.
type Schedules struct {
	api      port.ScheduleAPI
	users    port.UserSource
	ender    port.SessionEnder
	notifier *Notifier
	pageSize int
	logger   *zap.Logger
}

// NewSchedules creates the schedules service. ender is invoked when the
// API refuses the list (401/403).
func NewSchedules(api port.ScheduleAPI, users port.UserSource, ender port.SessionEnder, notifier *Notifier, pageSize int, logger *zap.Logger) *Schedules {
	if pageSize <= 0 {
		pageSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Schedules{
		api:      api,
		users:    users,
		ender:    ender,
		notifier: notifier,
		pageSize: pageSize,
		logger:   logger,
	}
}

// PageSize is the configured list limit.
func (s *Schedules) PageSize() int {
	return s.pageSize
}

// List fetches one page. Missing pagination falls back to the page length.
func (s *Schedules) List(ctx context.Context, f domain.ScheduleFilters, page int) (*domain.SchedulePage, error) {
	ctx, span := tracer.Start(ctx, "Schedules.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	span.SetAttributes(attribute.Int("page", page), attribute.String("status", string(f.Status)))

	resp, err := s.api.ListSchedules(ctx, f, page, s.pageSize)
	if err != nil {
		return nil, s.listError(ctx, err)
	}

	out := &domain.SchedulePage{
		Schedules: resp.Schedules,
		Filters:   f,
		Pagination: domain.Pagination{
			Page:  page,
			Limit: s.pageSize,
		},
	}
	if out.Schedules == nil {
		out.Schedules = []domain.Schedule{}
	}
	if resp.Pagination != nil {
		out.Pagination.Total = resp.Pagination.Total
		out.Pagination.Pages = resp.Pagination.Pages
	}
	if out.Pagination.Total == 0 {
		out.Pagination.Total = len(out.Schedules)
	}
	if out.Pagination.Pages == 0 {
		out.Pagination.Pages = (len(out.Schedules) + s.pageSize - 1) / s.pageSize
	}
	return out, nil
}

// listError raises the notification for a failed load. A refused
// credential (401/403) forces a logout.
func (s *Schedules) listError(ctx context.Context, err error) error {
	s.logger.Warn("schedule list load failed", zap.Error(err))

	var (
		forbidden *domain.ErrForbidden
		unauth    *domain.ErrUnauthenticated
		server    *domain.ErrServer
		request   *domain.ErrRequest
	)
	switch {
	case errors.Is(err, domain.ErrSessionEnded), errors.As(err, &unauth), errors.As(err, &forbidden):
		s.notifier.Add(domain.NotifyError, "Erro de autenticação. Por favor, faça login novamente.")
		if !errors.Is(err, domain.ErrSessionEnded) && s.ender != nil {
			s.ender.Logout(ctx)
		}
		return domain.ErrSessionEnded
	case errors.As(err, &server) && server.Status == 500:
		s.notifier.Add(domain.NotifyError, "Erro interno do servidor. Verifique se o backend está funcionando corretamente.")
	case errors.As(err, &server):
		s.notifier.Add(domain.NotifyError, fmt.Sprintf("Erro ao carregar agendamentos: %d", server.Status))
	case errors.As(err, &request):
		s.notifier.Add(domain.NotifyError, fmt.Sprintf("Erro ao carregar agendamentos: %d", request.Status))
	default:
		s.notifier.Add(domain.NotifyError, "Erro ao carregar agendamentos: Erro desconhecido")
	}
	return fmt.Errorf("carregando agendamentos: %w", err)
}

// UpdateStatus moves a schedule from current to status and appends the
// audit line. current is required so a cancelled schedule stays cancelled.
func (s *Schedules) UpdateStatus(ctx context.Context, id int, current, status domain.Status, comment string) (*domain.Schedule, error) {
	ctx, span := tracer.Start(ctx, "Schedules.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.Int("schedule.id", id), attribute.String("status", string(status)))

	user, ok := s.users.CurrentUser(ctx)
	if !ok {
		return nil, &domain.ErrUnauthenticated{Message: "Usuário não autenticado. Faça login novamente."}
	}
	if err := permission.Require(user, permission.EditSchedule); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("Status inválido: %s", status)}
	}
	if !current.Valid() {
		return nil, &domain.ErrValidation{Field: "current_status", Message: "Status atual do agendamento é obrigatório."}
	}
	if current.Terminal() && status != current {
		return nil, &domain.ErrValidation{Field: "status", Message: "Agendamento cancelado não pode mudar de status."}
	}

	req := &domain.StatusChangeRequest{
		Status: status,
		HistoricEntry: domain.HistoricEntryRequest{
			User:    user.User,
			Action:  "Status alterado para " + string(status),
			Comment: strings.TrimSpace(comment),
		},
	}
	updated, err := s.api.UpdateStatus(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("alterando status do agendamento %d: %w", id, err)
	}
	s.notifier.Add(domain.NotifySuccess, "Status atualizado para "+string(status))
	return updated, nil
}

// StatusBadge is the display class of a status.
func StatusBadge(status domain.Status) string {
	return status.Badge()
}

// ============================================================
// List view state
// ============================================================

// ScheduleView is the list page state: filters and page, re-fetched on
// every change. It replaces the mount/watch hooks of a UI component.
type ScheduleView struct {
	svc *Schedules

	mu      sync.Mutex
	filters domain.ScheduleFilters
	page    int
	last    *domain.SchedulePage
}

// NewView creates a view on page 1 with no filters.
func (s *Schedules) NewView() *ScheduleView {
	return &ScheduleView{svc: s, page: 1}
}

// Load fetches the current page; call it before first render.
func (v *ScheduleView) Load(ctx context.Context) (*domain.SchedulePage, error) {
	v.mu.Lock()
	f, page := v.filters, v.page
	v.mu.Unlock()

	p, err := v.svc.List(ctx, f, page)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.last = &domain.SchedulePage{Schedules: []domain.Schedule{}, Filters: f, Pagination: domain.Pagination{Page: page, Limit: v.svc.pageSize}}
		return nil, err
	}
	v.last = p
	return p, nil
}

// ApplyFilters replaces the filters and goes back to page 1.
func (v *ScheduleView) ApplyFilters(ctx context.Context, f domain.ScheduleFilters) (*domain.SchedulePage, error) {
	v.mu.Lock()
	v.filters = f
	v.page = 1
	v.mu.Unlock()
	return v.Load(ctx)
}

// ResetFilters clears every filter and goes back to page 1.
func (v *ScheduleView) ResetFilters(ctx context.Context) (*domain.SchedulePage, error) {
	return v.ApplyFilters(ctx, domain.ScheduleFilters{})
}

// ChangePage moves to page when it is within 1..pages; otherwise the
// current page is returned unchanged.
func (v *ScheduleView) ChangePage(ctx context.Context, page int) (*domain.SchedulePage, error) {
	v.mu.Lock()
	pages := 1
	if v.last != nil && v.last.Pagination.Pages > 0 {
		pages = v.last.Pagination.Pages
	}
	if page < 1 || page > pages {
		last := v.last
		v.mu.Unlock()
		if last == nil {
			return v.Load(ctx)
		}
		return last, nil
	}
	v.page = page
	v.mu.Unlock()
	return v.Load(ctx)
}

// Page returns the page currently shown.
func (v *ScheduleView) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}
