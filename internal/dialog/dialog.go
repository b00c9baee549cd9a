// Package dialog implements the conversational engine behind the bot user,
// the in-channel command surface and the interactive account setup. A Dialog
// matches inbound messages against an ordered pattern list; a CommandDialog
// layers a "command args" grammar with aliases, sub-dialogs and generated
// help on top of it.
package dialog

import (
	"fmt"
	"regexp"
	"strings"
)

// Handler receives the original (unstripped) message plus the regex
// submatches of the stripped text. A returned error becomes a single
// user-visible apology.
type Handler func(msg string, m []string) error

type pattern struct {
	re *regexp.Regexp
	fn Handler
}

// Dialog is a pattern-matched conversational handler. Patterns added later
// take precedence, so a running conversation can shadow earlier stages by
// registering new expectations.
type Dialog struct {
	send     func(string)
	unknown  func(msg string)
	patterns []pattern
}

// New creates a Dialog that replies through send.
func New(send func(string)) *Dialog {
	return &Dialog{send: send}
}

// SetSend replaces the reply function.
func (d *Dialog) SetSend(fn func(string)) {
	d.send = fn
}

// Message sends one reply line to the user.
func (d *Dialog) Message(text string) {
	d.send(text)
}

// Messagef is Message with formatting.
func (d *Dialog) Messagef(format string, args ...any) {
	d.send(fmt.Sprintf(format, args...))
}

// WaitFor registers a pattern. Matching is case-insensitive and unanchored;
// the newest registration is tried first.
func (d *Dialog) WaitFor(expr string, fn Handler) {
	re := regexp.MustCompile("(?i)" + expr)
	d.patterns = append([]pattern{{re: re, fn: fn}}, d.patterns...)
}

// SetUnknown replaces the handler invoked when no pattern matches.
func (d *Dialog) SetUnknown(fn func(msg string)) {
	d.unknown = fn
}

// Recv feeds one inbound message through the pattern list. The first match
// wins; a handler error produces exactly one apology reply and no further
// handler runs for this message.
func (d *Dialog) Recv(msg string) {
	stripped := strings.TrimSpace(msg)
	for _, p := range d.patterns {
		m := p.re.FindStringSubmatch(stripped)
		if m == nil {
			continue
		}
		if err := p.fn(msg, m); err != nil {
			d.Messagef("An error has occurred. Sorry. -- %v", err)
		}
		return
	}
	if d.unknown != nil {
		d.unknown(msg)
		return
	}
	d.Message("Sorry, I don't know what you mean")
}

// SplitArgs splits off the first whitespace-separated word.
func SplitArgs(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}
