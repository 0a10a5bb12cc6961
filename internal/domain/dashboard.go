package domain

import "time"

// ============================================================
// Notifications
// ============================================================

// NotificationType drives the toast color.
type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

// Notification is a user-facing message produced by a background load.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// ============================================================
// Dashboard
// ============================================================

// DashboardStats are the counters on the dashboard cards.
type DashboardStats struct {
	PendingDeliveries int `json:"pendingDeliveries"`
	Processing        int `json:"processing"`
	Completed         int `json:"completed"`
	Divergences       int `json:"divergences"`
}

// Activity is one line of the recent activity feed.
type Activity struct {
	ScheduleID int       `json:"scheduleId"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail"`
	User       string    `json:"user"`
	Status     Status    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Dashboard is the result of the initial fan-out. Sections whose load
// failed are left empty and reported in Notifications.
type Dashboard struct {
	Stats             *DashboardStats `json:"stats,omitempty"`
	RecentActivity    []Activity      `json:"recentActivity"`
	PendingDeliveries []Schedule      `json:"pendingDeliveries"`
	Notifications     []Notification  `json:"notifications"`
}
