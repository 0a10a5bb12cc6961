// Package credstore persists the bearer token, the user profile and the
// remembered username between runs. The redirect target is kept in memory
// only: it is scoped to the running session.
package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
)

// Storage keys.
const (
	KeyToken          = "token"
	KeyUser           = "user"
	KeyRememberedUser = "rememberedUser"
)

// backend is the raw key/value persistence under a Store.
type backend interface {
	get(ctx context.Context, key string) (string, bool, error)
	set(ctx context.Context, key, value string) error
	del(ctx context.Context, keys ...string) error
}

// Store implements port.CredentialStore over a key/value backend.
type Store struct {
	kv     backend
	logger *zap.Logger

	mu       sync.Mutex
	redirect string
}

func newStore(kv backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger}
}

// Save writes the token and the serialized profile.
func (s *Store) Save(ctx context.Context, token string, user domain.UserProfile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding user profile: %w", err)
	}
	if err := s.kv.set(ctx, KeyToken, token); err != nil {
		return err
	}
	return s.kv.set(ctx, KeyUser, string(raw))
}

// Load returns the stored credential. A missing token or profile yields
// false; an undecodable profile wipes both keys and yields false.
func (s *Store) Load(ctx context.Context) (domain.Credential, bool) {
	token, ok, err := s.kv.get(ctx, KeyToken)
	if err != nil || !ok || token == "" {
		return domain.Credential{}, false
	}
	raw, ok, err := s.kv.get(ctx, KeyUser)
	if err != nil || !ok || raw == "" {
		return domain.Credential{}, false
	}

	var user domain.UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn("stored user profile is corrupted, clearing credential", zap.Error(err))
		_ = s.Clear(ctx)
		return domain.Credential{}, false
	}
	return domain.Credential{Token: token, User: user}, true
}

// SetToken replaces the token after a successful renewal.
func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.kv.set(ctx, KeyToken, token)
}

// Clear removes the token and the profile. The remembered username is kept.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.del(ctx, KeyToken, KeyUser)
}

func (s *Store) RememberUser(ctx context.Context, user string) error {
	return s.kv.set(ctx, KeyRememberedUser, user)
}

func (s *Store) RememberedUser(ctx context.Context) string {
	v, _, err := s.kv.get(ctx, KeyRememberedUser)
	if err != nil {
		return ""
	}
	return v
}

func (s *Store) ForgetUser(ctx context.Context) error {
	return s.kv.del(ctx, KeyRememberedUser)
}

// SetRedirect records where to return after login.
func (s *Store) SetRedirect(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirect = target
}

// TakeRedirect returns and clears the redirect target.
func (s *Store) TakeRedirect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.redirect
	s.redirect = ""
	return t
}
