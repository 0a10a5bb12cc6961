package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/service"
)

func schedulesN(n int) []domain.Schedule {
	out := make([]domain.Schedule, n)
	for i := range out {
		out[i] = domain.Schedule{ID: i + 1, Number: "100", Status: domain.StatusAgendado}
	}
	return out
}

func newSchedules(api *fakeScheduleAPI, user *domain.UserProfile) (*service.Schedules, *service.Notifier, *fakeEnder) {
	n := service.NewNotifier()
	ender := &fakeEnder{}
	svc := service.NewSchedules(api, &fakeUsers{user: user}, ender, n, 10, zap.NewNop())
	return svc, n, ender
}

func TestList_UsesServerPagination(t *testing.T) {
	api := &fakeScheduleAPI{
		byStatus: map[domain.Status][]domain.Schedule{"": schedulesN(10)},
		totals:   map[domain.Status]int{"": 35},
	}
	svc, _, _ := newSchedules(api, standardUser())

	page, err := svc.List(context.Background(), domain.ScheduleFilters{}, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.Pagination{Page: 2, Limit: 10, Total: 35, Pages: 4}, page.Pagination)
	assert.Len(t, page.Schedules, 10)
}

func TestList_PaginationFallsBackToPageLength(t *testing.T) {
	api := &fakeScheduleAPI{byStatus: map[domain.Status][]domain.Schedule{"": schedulesN(3)}}
	svc, _, _ := newSchedules(api, standardUser())

	page, err := svc.List(context.Background(), domain.ScheduleFilters{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.Pages)
}

func TestList_EmptyIsNotAnError(t *testing.T) {
	svc, n, _ := newSchedules(&fakeScheduleAPI{}, standardUser())

	page, err := svc.List(context.Background(), domain.ScheduleFilters{Status: domain.StatusRecusado}, 1)
	require.NoError(t, err)
	assert.True(t, page.Empty())
	assert.NotNil(t, page.Schedules)
	assert.Empty(t, n.List())
}

func TestList_RefusedCredentialForcesLogout(t *testing.T) {
	for _, refusal := range []error{
		&domain.ErrForbidden{Action: "listar"},
		&domain.ErrUnauthenticated{Message: "token inválido"},
	} {
		api := &fakeScheduleAPI{anyErr: refusal}
		svc, n, ender := newSchedules(api, standardUser())

		_, err := svc.List(context.Background(), domain.ScheduleFilters{}, 1)
		assert.ErrorIs(t, err, domain.ErrSessionEnded)
		assert.Equal(t, int32(1), ender.calls.Load())
		require.Len(t, n.List(), 1)
		assert.Equal(t, domain.NotifyError, n.List()[0].Type)
	}
}

func TestList_SessionAlreadyEndedDoesNotLogoutTwice(t *testing.T) {
	api := &fakeScheduleAPI{anyErr: domain.ErrSessionEnded}
	svc, _, ender := newSchedules(api, standardUser())

	_, err := svc.List(context.Background(), domain.ScheduleFilters{}, 1)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	assert.Zero(t, ender.calls.Load())
}

func TestList_ErrorNotifications(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"internal error", &domain.ErrServer{Status: 500, Message: "boom"}, "Erro interno do servidor. Verifique se o backend está funcionando corretamente."},
		{"bad gateway", &domain.ErrServer{Status: 502, Message: "bad"}, "Erro ao carregar agendamentos: 502"},
		{"not found", &domain.ErrRequest{Status: 404, Message: "nope"}, "Erro ao carregar agendamentos: 404"},
		{"network", &domain.ErrTransient{Op: "GET /schedules", Err: errors.New("refused")}, "Erro ao carregar agendamentos: Erro desconhecido"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, n, ender := newSchedules(&fakeScheduleAPI{anyErr: tt.err}, standardUser())

			_, err := svc.List(context.Background(), domain.ScheduleFilters{}, 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Zero(t, ender.calls.Load())

			notes := n.List()
			require.Len(t, notes, 1)
			assert.Equal(t, tt.want, notes[0].Message)
		})
	}
}

func TestUpdateStatus_SendsHistoricEntry(t *testing.T) {
	api := &fakeScheduleAPI{}
	admin := &domain.UserProfile{User: "carla", LevelAccess: domain.LevelAdministrator}
	svc, n, _ := newSchedules(api, admin)

	got, err := svc.UpdateStatus(context.Background(), 42, domain.StatusSolicitado, domain.StatusAgendado, "  doca 3 ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAgendado, got.Status)

	require.Len(t, api.updates, 1)
	assert.Equal(t, domain.HistoricEntryRequest{User: "carla", Action: "Status alterado para Agendado", Comment: "doca 3"}, api.updates[0].HistoricEntry)
	assert.Len(t, n.List(), 1)
}

func TestUpdateStatus_Rejections(t *testing.T) {
	admin := &domain.UserProfile{User: "carla", LevelAccess: domain.LevelAdministrator}

	tests := []struct {
		name    string
		user    *domain.UserProfile
		current domain.Status
		next    domain.Status
		class   domain.Class
	}{
		{"user cannot edit", standardUser(), domain.StatusSolicitado, domain.StatusAgendado, domain.ClassForbidden},
		{"unknown status", admin, domain.StatusSolicitado, domain.Status("Perdido"), domain.ClassValidation},
		{"cancelled is terminal", admin, domain.StatusCancelado, domain.StatusAgendado, domain.ClassValidation},
		{"current status omitted", admin, domain.Status(""), domain.StatusAgendado, domain.ClassValidation},
		{"current status unknown", admin, domain.Status("Entregue"), domain.StatusAgendado, domain.ClassValidation},
		{"no user", nil, domain.StatusSolicitado, domain.StatusAgendado, domain.ClassUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeScheduleAPI{}
			svc, _, _ := newSchedules(api, tt.user)

			_, err := svc.UpdateStatus(context.Background(), 1, tt.current, tt.next, "")
			assert.Equal(t, tt.class, domain.Classify(err))
			assert.Empty(t, api.updates)
		})
	}
}

func TestStatusBadge(t *testing.T) {
	assert.Equal(t, "warning", service.StatusBadge(domain.StatusSolicitado))
	assert.Equal(t, "dark", service.StatusBadge(domain.StatusRecusado))
	assert.Equal(t, "secondary", service.StatusBadge(domain.StatusCancelado))
}

func TestView_PagingAndFilters(t *testing.T) {
	api := &fakeScheduleAPI{
		byStatus: map[domain.Status][]domain.Schedule{
			"":                     schedulesN(10),
			domain.StatusTratativa: schedulesN(2),
		},
		totals: map[domain.Status]int{"": 25},
	}
	svc, _, _ := newSchedules(api, standardUser())
	view := svc.NewView()
	ctx := context.Background()

	page, err := view.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Pages)

	_, err = view.ChangePage(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Page())

	_, err = view.ChangePage(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Page(), "out of range page is ignored")

	_, err = view.ChangePage(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Page())

	page, err = view.ApplyFilters(ctx, domain.ScheduleFilters{Status: domain.StatusTratativa})
	require.NoError(t, err)
	assert.Equal(t, 1, view.Page())
	assert.Len(t, page.Schedules, 2)
	assert.Equal(t, domain.StatusTratativa, page.Filters.Status)

	page, err = view.ResetFilters(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleFilters{}, page.Filters)
}
