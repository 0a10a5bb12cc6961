package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/port"
)

const (
	recentActivityLimit = 5
	pendingLimit        = 10
)

// statCards maps each dashboard card to the status it counts.
var statCards = []struct {
	status domain.Status
	set    func(*domain.DashboardStats, int)
}{
	{domain.StatusAgendado, func(s *domain.DashboardStats, n int) { s.PendingDeliveries = n }},
	{domain.StatusRecebido, func(s *domain.DashboardStats, n int) { s.Processing = n }},
	{domain.StatusEstoque, func(s *domain.DashboardStats, n int) { s.Completed = n }},
	{domain.StatusTratativa, func(s *domain.DashboardStats, n int) { s.Divergences = n }},
}

// Dashboard loads the landing page sections.
type Dashboard struct {
	api      port.ScheduleAPI
	notifier *Notifier
	logger   *zap.Logger
}

// NewDashboard creates the dashboard service.
func NewDashboard(api port.ScheduleAPI, notifier *Notifier, logger *zap.Logger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Dashboard{api: api, notifier: notifier, logger: logger}
}

// Load fetches stats, recent activity and pending deliveries concurrently.
// The three loads are independent: one failing neither cancels the others
// nor fails Load; it only adds its own notification.
func (d *Dashboard) Load(ctx context.Context) *domain.Dashboard {
	ctx, span := tracer.Start(ctx, "Dashboard.Load")
	defer span.End()

	out := &domain.Dashboard{
		RecentActivity:    []domain.Activity{},
		PendingDeliveries: []domain.Schedule{},
	}

	// Plain group: no shared cancellation between sections.
	var g errgroup.Group

	g.Go(func() error {
		stats, err := d.stats(ctx)
		if err != nil {
			d.fail("stats", "Erro ao carregar estatísticas", err)
			return nil
		}
		out.Stats = stats
		return nil
	})

	g.Go(func() error {
		activity, err := d.recentActivity(ctx)
		if err != nil {
			d.fail("activity", "Erro ao carregar atividades recentes", err)
			return nil
		}
		out.RecentActivity = activity
		return nil
	})

	g.Go(func() error {
		resp, err := d.api.ListSchedules(ctx, domain.ScheduleFilters{Status: domain.StatusAgendado}, 1, pendingLimit)
		if err != nil {
			d.fail("pending", "Erro ao carregar entregas agendadas", err)
			return nil
		}
		if resp.Schedules != nil {
			out.PendingDeliveries = resp.Schedules
		}
		return nil
	})

	_ = g.Wait()
	out.Notifications = d.notifier.List()
	return out
}

func (d *Dashboard) fail(section, message string, err error) {
	d.logger.Warn("dashboard section failed", zap.String("section", section), zap.Error(err))
	d.notifier.Add(domain.NotifyError, message)
}

// stats counts each card's status using the list total.
func (d *Dashboard) stats(ctx context.Context) (*domain.DashboardStats, error) {
	var (
		mu    sync.Mutex
		stats domain.DashboardStats
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, card := range statCards {
		card := card
		g.Go(func() error {
			resp, err := d.api.ListSchedules(gctx, domain.ScheduleFilters{Status: card.status}, 1, 1)
			if err != nil {
				return fmt.Errorf("contando %s: %w", card.status, err)
			}
			n := len(resp.Schedules)
			if resp.Pagination != nil {
				n = resp.Pagination.Total
			}
			mu.Lock()
			card.set(&stats, n)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// recentActivity turns the latest historic entry of the newest schedules
// into feed lines, most recent first.
func (d *Dashboard) recentActivity(ctx context.Context) ([]domain.Activity, error) {
	resp, err := d.api.ListSchedules(ctx, domain.ScheduleFilters{}, 1, recentActivityLimit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Activity, 0, len(resp.Schedules))
	for i := range resp.Schedules {
		s := &resp.Schedules[i]
		h, ok := s.LatestHistoric()
		if !ok {
			continue
		}
		out = append(out, domain.Activity{
			ScheduleID: s.ID,
			Title:      h.Action,
			Detail:     fmt.Sprintf("NF-e %s - %s", s.Number, s.Supplier),
			User:       h.User,
			Status:     s.Status,
			Timestamp:  h.Timestamp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Notify raises a toast, e.g. after a schedule was created.
func (d *Dashboard) Notify(t domain.NotificationType, message string) {
	d.notifier.Add(t, message)
}
