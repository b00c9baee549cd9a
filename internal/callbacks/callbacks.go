// Package callbacks implements a small multi-subscriber notifier used to fan
// out feed entries, identity changes and error events to whoever registered
// interest in them. Subscribers are invoked in registration order. By default
// a failing subscriber is logged and skipped so that one bad handler cannot
// break delivery to the others; Strict lists propagate the first failure
// instead.
package callbacks

import (
	"fmt"

	"go.uber.org/zap"
)

// Handler is a single subscriber. A non-nil return value counts as a failure.
type Handler[T any] func(T) error

// List is an ordered set of subscribers for events of type T.
// The zero value is not usable; create instances with New or NewStrict.
//
// List is not safe for concurrent use; callers are expected to register and
// fire on a single goroutine (the session event loop). Handlers must not
// register new subscribers while a dispatch is in progress.
type List[T any] struct {
	handlers []Handler[T]
	strict   bool
	log      *zap.Logger
}

// New creates a List with the swallow-and-log error policy.
func New[T any](log *zap.Logger) *List[T] {
	return &List[T]{log: log}
}

// NewStrict creates a List whose Call stops at the first handler failure and
// returns it.
func NewStrict[T any](log *zap.Logger) *List[T] {
	return &List[T]{log: log, strict: true}
}

// Add appends a subscriber. Handlers are invoked in the order they were added.
func (l *List[T]) Add(h Handler[T]) {
	l.handlers = append(l.handlers, h)
}

// Len returns the number of registered subscribers.
func (l *List[T]) Len() int {
	return len(l.handlers)
}

// Call delivers ev to every subscriber. In the default mode handler errors
// and panics are logged and the remaining handlers still run; in strict mode
// the first error is returned immediately.
func (l *List[T]) Call(ev T) error {
	for _, h := range l.handlers {
		if err := l.callOne(h, ev); err != nil {
			if l.strict {
				return err
			}
			if l.log != nil {
				l.log.Error("callback failed", zap.Error(err))
			}
		}
	}
	return nil
}

func (l *List[T]) callOne(h Handler[T], ev T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callbacks: handler panicked: %v", r)
		}
	}()
	return h(ev)
}
