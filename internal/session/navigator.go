package session

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Redirector is the port.Navigator of a headless process: there is no
// browser to move, so the redirect is logged and counted and the local HTTP
// surface answers with LoginPath.
type Redirector struct {
	LoginPath string

	logger *zap.Logger
	count  atomic.Int64
}

// NewRedirector creates a Redirector for loginPath.
func NewRedirector(loginPath string, logger *zap.Logger) *Redirector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redirector{LoginPath: loginPath, logger: logger}
}

func (r *Redirector) RedirectToLogin(ctx context.Context) {
	r.count.Add(1)
	r.logger.Info("redirecting to login", zap.String("path", r.LoginPath))
}

// Redirects returns how many times the login view was requested.
func (r *Redirector) Redirects() int64 {
	return r.count.Load()
}
