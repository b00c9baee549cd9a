// Package throttle collapses repeated feed failures into a single "muted"
// notice so a flapping remote API does not spam the user's channels. Once
// muted, further errors are swallowed until the wrapped operation succeeds
// again, at which point a single "recovered" notice is emitted and normal
// forwarding resumes.
package throttle

// Default caps. A throttler mutes after forwarding more than MaxSame
// consecutive identical errors, or more than MaxDiff errors in total since
// the last success.
const (
	DefaultMaxSame = 1
	DefaultMaxDiff = 4
)

// Kind distinguishes forwarded errors from the synthetic notices, so the
// channel layer can style them differently.
type Kind int

const (
	// KindError is an error message forwarded unchanged.
	KindError Kind = iota
	// KindMutedSame is the one-shot notice emitted when the same error
	// keeps repeating.
	KindMutedSame
	// KindMutedMany is the one-shot notice emitted when too many errors
	// accumulated, identical or not.
	KindMutedMany
	// KindRecovered is emitted on the first success after a mute.
	KindRecovered
)

// Synthetic notice texts.
const (
	MutedSameText = "I keep getting the same error, so I will shut up until things get better"
	MutedManyText = "too many errors; I will shut up until things get better"
	RecoveredText = "things look better now, the errors have stopped"
)

// Notice is a single user-visible event produced by the throttler. Err holds
// the underlying failure on KindError pass-throughs so reporters can style
// specific failures; it is nil on the synthetic notices.
type Notice struct {
	Kind Kind
	Text string
	Err  error
}

// Throttler is a state machine over a stream of Error/OK events.
// It is not safe for concurrent use; it runs on the session event loop.
type Throttler struct {
	MaxSame int
	MaxDiff int

	report func(Notice)

	lastMsg string
	same    int
	total   int
	stopped bool
}

// New creates a Throttler with the default caps. report receives both
// forwarded errors and the synthetic notices.
func New(report func(Notice)) *Throttler {
	return &Throttler{
		MaxSame: DefaultMaxSame,
		MaxDiff: DefaultMaxDiff,
		report:  report,
	}
}

// Error feeds one failure into the throttler. While neither cap is exceeded
// the error is forwarded unchanged; the breaching error is replaced by the
// one-shot muted notice; once muted, errors are swallowed silently. Sameness
// is judged on the error text.
func (t *Throttler) Error(err error) {
	if t.stopped {
		return
	}

	msg := err.Error()
	if msg == t.lastMsg {
		t.same++
	} else {
		t.same = 1
		t.lastMsg = msg
	}
	t.total++

	switch {
	case t.same > t.MaxSame:
		t.stopped = true
		t.report(Notice{Kind: KindMutedSame, Text: MutedSameText})
	case t.total > t.MaxDiff:
		t.stopped = true
		t.report(Notice{Kind: KindMutedMany, Text: MutedManyText})
	default:
		t.report(Notice{Kind: KindError, Text: msg, Err: err})
	}
}

// OK feeds one success. Counters reset; if the throttler was muted, a single
// recovered notice is emitted.
func (t *Throttler) OK() {
	wasStopped := t.stopped
	t.stopped = false
	t.same = 0
	t.total = 0
	t.lastMsg = ""
	if wasStopped {
		t.report(Notice{Kind: KindRecovered, Text: RecoveredText})
	}
}
