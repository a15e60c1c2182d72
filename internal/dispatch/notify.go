// Package dispatch delivers toast notifications to connected screens.
package dispatch

import (
	"log/slog"
	"time"

	"github.com/example/ride-client/internal/logging"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Toast is one user-visible message.
type Toast struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier is what the orchestrator uses to surface messages.
type Notifier interface {
	Notify(kind Kind, message string)
}

// LogNotifier only logs toasts; used when no screen is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(kind Kind, message string) {
	lg := logging.Or(l.Logger)
	if kind == KindError {
		lg.Warn("toast", "kind", kind, "message", message)
		return
	}
	lg.Info("toast", "kind", kind, "message", message)
}
