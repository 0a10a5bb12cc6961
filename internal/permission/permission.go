// Package permission holds the single capability table of the dashboard.
// Levels are a closed enumeration; numerically lower levels are more
// privileged and Developer (0) passes every check.
package permission

import "github.com/mercocamp/agenda-bfa-go/internal/domain"

// Capability names an action gated by access level.
type Capability string

const (
	ViewSchedules  Capability = "view_schedules"
	CreateSchedule Capability = "create_schedule"
	EditSchedule   Capability = "edit_schedule"
	DeleteSchedule Capability = "delete_schedule"
	ManageUsers    Capability = "manage_users"
	ManageProducts Capability = "manage_products"
	ViewReports    Capability = "view_reports"
	SystemConfig   Capability = "system_config"
)

type capabilitySet map[Capability]struct{}

func setOf(caps ...Capability) capabilitySet {
	s := make(capabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// table is the authoritative mapping for non-developer levels.
var table = map[domain.Level]capabilitySet{
	domain.LevelUser: setOf(
		ViewSchedules,
		CreateSchedule,
	),
	domain.LevelAdministrator: setOf(
		ViewSchedules,
		CreateSchedule,
		EditSchedule,
		DeleteSchedule,
		ManageUsers,
	),
	domain.LevelManager: setOf(
		ViewSchedules,
		CreateSchedule,
		EditSchedule,
		ManageProducts,
		ViewReports,
	),
}

// HasCapability reports whether level may perform c.
func HasCapability(level domain.Level, c Capability) bool {
	if level == domain.LevelDeveloper {
		return true
	}
	caps, ok := table[level]
	if !ok {
		return false
	}
	_, ok = caps[c]
	return ok
}

// HasMinimumLevel reports whether level is at least as privileged as required.
func HasMinimumLevel(level, required domain.Level) bool {
	if !level.Valid() {
		return false
	}
	return level == domain.LevelDeveloper || level <= required
}

// Capabilities lists what level may do, in table order.
func Capabilities(level domain.Level) []Capability {
	all := []Capability{
		ViewSchedules, CreateSchedule, EditSchedule, DeleteSchedule,
		ManageUsers, ManageProducts, ViewReports, SystemConfig,
	}
	out := make([]Capability, 0, len(all))
	for _, c := range all {
		if HasCapability(level, c) {
			out = append(out, c)
		}
	}
	return out
}

// CanAccessClient reports whether user may operate on the client with the
// given tax id.
func CanAccessClient(user *domain.UserProfile, cnpj string) bool {
	if user == nil {
		return false
	}
	if user.LevelAccess == domain.LevelDeveloper {
		return true
	}
	return user.CliAccess.Granted(cnpj)
}

// Require returns ErrForbidden when user lacks c.
func Require(user *domain.UserProfile, c Capability) error {
	if user == nil {
		return &domain.ErrUnauthenticated{Message: "Usuário não autenticado. Faça login novamente."}
	}
	if !HasCapability(user.LevelAccess, c) {
		return &domain.ErrForbidden{Action: "Usuário não possui permissão para " + describe(c) + "."}
	}
	return nil
}

func describe(c Capability) string {
	switch c {
	case ViewSchedules:
		return "visualizar agendamentos"
	case CreateSchedule:
		return "criar agendamentos"
	case EditSchedule:
		return "editar agendamentos"
	case DeleteSchedule:
		return "excluir agendamentos"
	case ManageUsers:
		return "gerenciar usuários"
	case ManageProducts:
		return "gerenciar produtos"
	case ViewReports:
		return "visualizar relatórios"
	default:
		return string(c)
	}
}
