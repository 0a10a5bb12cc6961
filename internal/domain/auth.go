package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ============================================================
// Access levels
// ============================================================

// Level is the closed set of user privilege tiers. Lower numbers are more
// privileged; Developer bypasses every check.
type Level int

const (
	LevelDeveloper     Level = 0
	LevelUser          Level = 1
	LevelAdministrator Level = 2
	LevelManager       Level = 3
)

// ParseLevel converts a raw level_access value into a Level.
func ParseLevel(v int) (Level, bool) {
	l := Level(v)
	return l, l.Valid()
}

// Valid reports whether l is one of the known tiers.
func (l Level) Valid() bool {
	return l >= LevelDeveloper && l <= LevelManager
}

// Name returns the role label shown next to the user name.
func (l Level) Name() string {
	switch l {
	case LevelDeveloper:
		return "Desenvolvedor"
	case LevelAdministrator:
		return "Administrador"
	case LevelManager:
		return "Gerente"
	default:
		return "Usuário"
	}
}

// ============================================================
// User profile & credential
// ============================================================

// ClientAccess maps a client CNPJ to its grant. The API sends arbitrary
// truthy values (true, 1, "S"); they are decoded to booleans.
type ClientAccess map[string]bool

// UnmarshalJSON decodes each grant with JavaScript truthiness.
func (c *ClientAccess) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ClientAccess, len(raw))
	for k, v := range raw {
		out[k] = truthy(v)
	}
	*c = out
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// Granted reports whether cnpj is granted. Keys and cnpj are compared
// digits-only, so formatted and raw tax ids match.
func (c ClientAccess) Granted(cnpj string) bool {
	if c == nil || cnpj == "" {
		return false
	}
	if c[cnpj] {
		return true
	}
	want := OnlyDigits(cnpj)
	if want == "" {
		return false
	}
	for k, ok := range c {
		if ok && OnlyDigits(k) == want {
			return true
		}
	}
	return false
}

// UserProfile is the serialized user stored next to the token.
type UserProfile struct {
	User        string       `json:"user"`
	Name        string       `json:"name"`
	LevelAccess Level        `json:"level_access"`
	CliAccess   ClientAccess `json:"cli_access,omitempty"`
}

// ErrInvalidProfile marks a user profile without a usable level_access.
var ErrInvalidProfile = errors.New("perfil de usuário inválido")

// UnmarshalJSON requires level_access to be one of the known tiers. A missing
// or null level is rejected instead of decoding to Developer.
func (u *UserProfile) UnmarshalJSON(data []byte) error {
	var raw struct {
		User        string       `json:"user"`
		Name        string       `json:"name"`
		LevelAccess *json.Number `json:"level_access"`
		CliAccess   ClientAccess `json:"cli_access"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.LevelAccess == nil {
		return fmt.Errorf("%w: level_access ausente", ErrInvalidProfile)
	}
	n, err := raw.LevelAccess.Int64()
	if err != nil {
		return fmt.Errorf("%w: level_access %q", ErrInvalidProfile, raw.LevelAccess.String())
	}
	level, ok := ParseLevel(int(n))
	if !ok || int64(int(n)) != n {
		return fmt.Errorf("%w: level_access %d", ErrInvalidProfile, n)
	}

	*u = UserProfile{User: raw.User, Name: raw.Name, LevelAccess: level, CliAccess: raw.CliAccess}
	return nil
}

// DisplayName is the name shown in the dashboard header.
func (u *UserProfile) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.User
}

// Credential is the bearer token plus the profile it was issued for.
type Credential struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// ============================================================
// Auth - Request / Response types (remote API contract)
// ============================================================

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// LoginResponse is the body for 200 from POST /auth/login.
type LoginResponse struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// RefreshResponse is the body for 200 from POST /auth/refresh.
type RefreshResponse struct {
	Token string `json:"token"`
}

// OnlyDigits strips every non-digit rune from s.
func OnlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
