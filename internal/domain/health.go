package domain

// ============================================================
// Health API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of a dependency of the BFA.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Detail      string `json:"detail,omitempty"`
}

// SessionInfo is returned by GET /v1/session.
type SessionInfo struct {
	Authenticated bool         `json:"authenticated"`
	State         string       `json:"state"`
	User          *UserProfile `json:"user,omitempty"`
	Role          string       `json:"role,omitempty"`
	Redirect      string       `json:"redirect,omitempty"`
}
