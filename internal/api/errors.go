package api

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectivity marks transport failures such as refused connections
	// or timeouts. Its text is what the screens show.
	ErrConnectivity = errors.New("Erro de conexão. Verifique sua internet e tente novamente.")
	// ErrNoToken is returned by calls that need a session when none is stored.
	ErrNoToken = errors.New("Token de autenticação não encontrado")

	errMissingID = errors.New("missing id")
)

// Error is a non-2xx answer from the backend.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// NotFound reports whether the backend answered 404.
func (e *Error) NotFound() bool { return e.Status == 404 }

// DecodeError means the backend answered 2xx with a body that does not match
// the expected contract.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: invalid response: %v", e.Op, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

type connectivityError struct {
	op  string
	err error
}

func (e *connectivityError) Error() string { return ErrConnectivity.Error() }

func (e *connectivityError) Unwrap() []error { return []error{ErrConnectivity, e.err} }

// IsNotFound reports whether err carries a backend 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
