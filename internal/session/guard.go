package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
)

// State is the guard lifecycle.
type State string

const (
	StateUnchecked     State = "unchecked"
	StateVerifying     State = "verifying"
	StateAuthenticated State = "authenticated"
	StateRejected      State = "rejected"
)

// minRenewalDelay bounds how often renewal may fire for near-expired tokens.
const minRenewalDelay = time.Second

// Guard verifies the stored credential once per page load and, while
// Authenticated, keeps the token fresh in the background. Rejected is
// terminal.
type Guard struct {
	s *Session

	// checkMu serializes Check so concurrent loads share one verification.
	checkMu sync.Mutex

	mu      sync.Mutex
	state   State
	profile *domain.UserProfile
	cancel  context.CancelFunc
}

func newGuard(s *Session) *Guard {
	return &Guard{s: s, state: StateUnchecked}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Profile returns the verified profile, or false unless Authenticated.
func (g *Guard) Profile() (*domain.UserProfile, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated || g.profile == nil {
		return nil, false
	}
	p := *g.profile
	return &p, true
}

// Check runs the verification for the page at currentURL. Only the first
// call does work; later calls return the settled state.
func (g *Guard) Check(ctx context.Context, currentURL string) State {
	g.checkMu.Lock()
	defer g.checkMu.Unlock()

	if st := g.State(); st != StateUnchecked {
		return st
	}

	ctx, span := tracer.Start(ctx, "Guard.Check")
	defer span.End()

	cred, ok := g.s.store.Load(ctx)
	if !ok {
		g.setState(StateRejected)
		g.s.reject(ctx, currentURL, nil)
		return StateRejected
	}

	g.setState(StateVerifying)
	if err := g.s.auth.Verify(ctx); err != nil {
		g.s.logger.Info("stored credential rejected", zap.Error(err))
		g.setState(StateRejected)
		g.s.reject(ctx, currentURL, err)
		return StateRejected
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.mu.Lock()
	if g.state != StateVerifying {
		// Stopped while verifying.
		g.mu.Unlock()
		cancel()
		return g.State()
	}
	g.state = StateAuthenticated
	g.profile = &cred.User
	g.cancel = cancel
	g.mu.Unlock()

	go g.renewLoop(rctx)
	return StateAuthenticated
}

func (g *Guard) renewLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(g.s.nextRenewal(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := g.s.renew(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			g.s.logger.Warn("token renewal failed, ending session", zap.Error(err))
			g.stop(StateRejected)
			g.s.reject(ctx, "", err)
			return
		}
	}
}

func (g *Guard) setState(st State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = st
}

// stop cancels renewal. A non-empty st overrides the state.
func (g *Guard) stop(st State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	if st != "" {
		g.state = st
		g.profile = nil
	}
}

// nextRenewal is the configured interval, shortened to 80% of the remaining
// lifetime when the token is a JWT expiring sooner.
func (s *Session) nextRenewal(ctx context.Context) time.Duration {
	d := s.interval
	cred, ok := s.store.Load(ctx)
	if !ok {
		return d
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(cred.Token, &claims); err == nil && claims.ExpiresAt != nil {
		remaining := claims.ExpiresAt.Time.Sub(s.now())
		if early := remaining * 8 / 10; early < d {
			d = early
		}
	}
	if d < minRenewalDelay {
		d = minRenewalDelay
	}
	return d
}
