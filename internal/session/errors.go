package session

import (
	"fmt"
	"strings"
)

// ErrorReply makes a command handler answer with an IRC numeric. The dispatch
// shell converts it into a reply instead of treating it as an internal error.
type ErrorReply struct {
	Numeric string
	Args    []string
}

// NewErrorReply builds an ErrorReply for the given numeric.
func NewErrorReply(numeric string, args ...string) *ErrorReply {
	return &ErrorReply{Numeric: numeric, Args: args}
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("irc error reply %s: %s", e.Numeric, strings.Join(e.Args, " "))
}

// MessageTooLongError rejects posts over the remote service's length limit
// before any API call is made.
type MessageTooLongError struct {
	Length int
}

func (e *MessageTooLongError) Error() string {
	return fmt.Sprintf("message too long (%d characters)", e.Length)
}
