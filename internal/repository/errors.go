package repository

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/pantry/internal/auth"
	"github.com/dukerupert/pantry/internal/cache"
	"github.com/dukerupert/pantry/internal/metrics"
)

var (
	ErrHouseholdNotFound = errors.New("household not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidDocument   = errors.New("invalid document")
)

// ErrorSlot holds the most recent user-facing error message. A new message
// overwrites an unconsumed one; consumers call Clear after displaying it.
type ErrorSlot struct {
	msg *cache.Value[string]
}

func NewErrorSlot() *ErrorSlot {
	return &ErrorSlot{msg: cache.NewValue("")}
}

func (s *ErrorSlot) Set(msg string) {
	s.msg.Store(msg)
}

// Message returns the pending message, or "" when there is none.
func (s *ErrorSlot) Message() string {
	return s.msg.Get()
}

func (s *ErrorSlot) Clear() {
	s.msg.Store("")
}

// Watch observes the slot. The watcher starts with the current message.
func (s *ErrorSlot) Watch() *cache.Watcher[string] {
	return s.msg.Watch()
}

// reporter turns remote failures into a log entry, a metric and a slot message.
type reporter struct {
	name   string
	slot   *ErrorSlot
	logger *slog.Logger
}

func (r reporter) fail(op string, err error, attrs ...any) error {
	if errors.Is(err, auth.ErrNoIdentity) {
		return err
	}
	metrics.RepositoryErrors.WithLabelValues(r.name).Inc()
	r.logger.Error(op+" failed", append(attrs, "error", err)...)
	r.slot.Set(fmt.Sprintf("Could not %s. Please try again.", op))
	return fmt.Errorf("%s: %w", op, err)
}
