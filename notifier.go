package briefauth

import (
	"sync"

	"go.uber.org/zap"
)

// Notifier receives the user-facing outcome of each submission, typically
// rendered as a toast.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// NoOpNotifier discards notifications.
type NoOpNotifier struct{}

func (NoOpNotifier) Success(string) {}
func (NoOpNotifier) Error(string)   {}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Success(message string) {
	if n.Logger == nil {
		return
	}
	n.Logger.Info("notify success", zap.String("message", message))
}

func (n LogNotifier) Error(message string) {
	if n.Logger == nil {
		return
	}
	n.Logger.Warn("notify error", zap.String("message", message))
}

// Notification is one recorded notifier call.
type Notification struct {
	Success bool
	Message string
}

// RecorderNotifier keeps every notification in order. It is safe for
// concurrent use.
type RecorderNotifier struct {
	mu  sync.Mutex
	all []Notification
}

func (r *RecorderNotifier) Success(message string) {
	r.mu.Lock()
	r.all = append(r.all, Notification{Success: true, Message: message})
	r.mu.Unlock()
}

func (r *RecorderNotifier) Error(message string) {
	r.mu.Lock()
	r.all = append(r.all, Notification{Message: message})
	r.mu.Unlock()
}

// Notifications returns a copy of the recorded notifications.
func (r *RecorderNotifier) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.all...)
}
