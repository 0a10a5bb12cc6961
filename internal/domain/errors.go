package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for consistent error handling across the BFA.
// Every failure surfaced to the user falls in one of the classes below.

// ErrSessionEnded is returned after the gateway received a 401, cleared the
// credential and sent the user to the login view. Callers must stop the
// current operation without notifying the user again.
var ErrSessionEnded = errors.New("sessão encerrada, faça login novamente")

// ErrUnauthenticated indicates a missing, invalid or expired credential.
// It is always resolved by a forced logout; callers never retry it.
type ErrUnauthenticated struct {
	Message string
	Err     error
}

func (e *ErrUnauthenticated) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "não autenticado"
}

func (e *ErrUnauthenticated) Unwrap() error { return e.Err }

// ErrForbidden indicates the user is authenticated but lacks a capability
// or access to a client.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return e.Action
}

// ErrValidation indicates a client-side or server-side rejection of
// submitted fields. Details holds the per-field messages when the server
// supplies them.
type ErrValidation struct {
	Field   string
	Message string
	Details []string
}

func (e *ErrValidation) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg = fmt.Sprintf("%s. Detalhes: %s", msg, strings.Join(e.Details, ", "))
	}
	if e.Field == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Field, msg)
}

// ErrServer indicates a 5xx answer from the schedule API.
type ErrServer struct {
	Status  int
	Message string
}

func (e *ErrServer) Error() string {
	return fmt.Sprintf("server error [%d]: %s", e.Status, e.Message)
}

// ErrTransient indicates a network failure or timeout talking to the API.
type ErrTransient struct {
	Op  string
	Err error
}

func (e *ErrTransient) Error() string {
	return fmt.Sprintf("network error [%s]: %v", e.Op, e.Err)
}

func (e *ErrTransient) Unwrap() error {
	return e.Err
}

// ErrRequest is any other non-2xx answer.
type ErrRequest struct {
	Status  int
	Message string
}

func (e *ErrRequest) Error() string {
	return fmt.Sprintf("request failed [%d]: %s", e.Status, e.Message)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ============================================================
// Classification
// ============================================================

// Class is the user-facing error taxonomy.
type Class string

const (
	ClassNone            Class = ""
	ClassUnauthenticated Class = "unauthenticated"
	ClassForbidden       Class = "forbidden"
	ClassValidation      Class = "validation"
	ClassTransient       Class = "transient"
	ClassServer          Class = "server"
	ClassUnknown         Class = "unknown"
)

// Classify maps an error to its class. A nil error yields ClassNone.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var (
		unauth     *ErrUnauthenticated
		forbidden  *ErrForbidden
		validation *ErrValidation
		server     *ErrServer
		transient  *ErrTransient
		open       *ErrCircuitOpen
	)

	switch {
	case errors.Is(err, ErrSessionEnded), errors.As(err, &unauth):
		return ClassUnauthenticated
	case errors.As(err, &forbidden):
		return ClassForbidden
	case errors.As(err, &validation):
		return ClassValidation
	case errors.As(err, &server), errors.As(err, &open):
		return ClassServer
	case errors.As(err, &transient):
		return ClassTransient
	default:
		return ClassUnknown
	}
}
