// Package feeds implements incremental timeline polling. A Feed pulls one
// remote timeline with a since_id watermark, delivers new entries to its
// subscribers in ascending id order, and persists the watermark so a restart
// resumes where the previous process stopped. Repeated failures are collapsed
// by an error throttler so the user is not spammed.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/callbacks"
	"github.com/ehabkost/passerd/internal/throttle"
	"github.com/ehabkost/passerd/internal/twitter"
)

// QueryCount is the fixed page size requested on every refresh.
const QueryCount = 100

// Kind selects which remote timeline a feed polls.
type Kind int

const (
	KindHome Kind = iota
	KindMentions
	KindDirectMessages
	KindUser
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindHome:
		return "home"
	case KindMentions:
		return "mentions"
	case KindDirectMessages:
		return "direct_messages"
	case KindUser:
		return "user"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Vars is the persistent per-account string store the feed keeps its
// watermark in.
type Vars interface {
	Get(name string) (value string, ok bool, err error)
	Set(name, value string) error
}

// Config wires a feed into its session.
type Config struct {
	Kind Kind

	// User names the timeline owner for KindUser; Owner and List identify
	// the list for KindList. Unused otherwise.
	User  string
	Owner string
	List  string

	API  twitter.API
	Vars Vars
	Log  *zap.Logger

	// Post schedules a function on the session event loop. The feed issues
	// HTTP requests from a goroutine and delivers all results through Post,
	// so subscribers always run single-threaded.
	Post func(func())

	// Resched asks the scheduler to run this feed again on the next tick.
	// Called after every refresh, success or failure.
	Resched func()

	// OnRateLimit fires when the remote reports quota exhaustion, with the
	// remote-reported reset time.
	OnRateLimit func(reset time.Time)

	// Report receives the throttled user-visible error stream.
	Report func(throttle.Notice)

	// OnRefreshed, when set, fires after every successful refresh with the
	// number of entries delivered.
	OnRefreshed func(n int)
}

// Feed is one polled timeline. All methods must be called from the session
// event loop.
type Feed struct {
	cfg       Config
	key       string
	watermark int64
	loading   bool
	closed    bool

	entries   *callbacks.List[twitter.Entry]
	rawErrors *callbacks.List[error]
	throttler *throttle.Throttler
	log       *zap.Logger
}

// WatermarkKey derives the persistent variable name for a feed kind and its
// parameters.
func WatermarkKey(kind Kind, user, owner, list string) string {
	switch kind {
	case KindHome:
		return "home_last_status_id"
	case KindMentions:
		return "mentions_last_status_id"
	case KindDirectMessages:
		return "direct_messages_last_id"
	case KindUser:
		return "last_status_id_@" + user
	case KindList:
		return fmt.Sprintf("last_status_id_@%s/%s", owner, list)
	default:
		panic(fmt.Sprintf("feeds: unknown kind %d", int(kind)))
	}
}

// New builds a feed and loads its persisted watermark.
func New(cfg Config) (*Feed, error) {
	f := &Feed{
		cfg: cfg,
		key: WatermarkKey(cfg.Kind, cfg.User, cfg.Owner, cfg.List),
		log: cfg.Log.Named("feed").With(zap.String("kind", cfg.Kind.String())),
	}
	f.entries = callbacks.New[twitter.Entry](f.log)
	f.rawErrors = callbacks.New[error](f.log)
	report := cfg.Report
	if report == nil {
		report = func(throttle.Notice) {}
	}
	f.throttler = throttle.New(report)

	raw, ok, err := cfg.Vars.Get(f.key)
	if err != nil {
		return nil, fmt.Errorf("feeds: loading watermark %q: %w", f.key, err)
	}
	if ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// A corrupt watermark means a full refetch, nothing worse.
			f.log.Warn("ignoring unparseable watermark", zap.String("value", raw))
		} else {
			f.watermark = id
		}
	}
	return f, nil
}

// OnEntry registers a subscriber for new entries. Within one refresh,
// subscribers see entries in strictly ascending id order.
func (f *Feed) OnEntry(h callbacks.Handler[twitter.Entry]) {
	f.entries.Add(h)
}

// OnError registers a subscriber for the raw (unthrottled) error stream.
func (f *Feed) OnError(h callbacks.Handler[error]) {
	f.rawErrors.Add(h)
}

// Watermark returns the highest entry id delivered so far, 0 when none.
func (f *Feed) Watermark() int64 {
	return f.watermark
}

// ResetWatermark clears the watermark so the next refresh refetches the full
// page. The persisted value is cleared too.
func (f *Feed) ResetWatermark() error {
	f.watermark = 0
	if err := f.cfg.Vars.Set(f.key, "0"); err != nil {
		return fmt.Errorf("feeds: resetting watermark %q: %w", f.key, err)
	}
	return nil
}

// Close marks the feed stopped. Results of an in-flight refresh are
// discarded.
func (f *Feed) Close() {
	f.closed = true
}

// Refresh starts one poll of the remote timeline. A refresh already in
// flight makes this a no-op.
func (f *Feed) Refresh() {
	if f.loading || f.closed {
		return
	}
	f.loading = true

	params := twitter.Params{SinceID: f.watermark, Count: QueryCount}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
		defer cancel()
		entries, err := f.fetch(ctx, params)
		f.cfg.Post(func() { f.finish(entries, err) })
	}()
}

func (f *Feed) fetch(ctx context.Context, p twitter.Params) ([]twitter.Entry, error) {
	switch f.cfg.Kind {
	case KindHome:
		return f.cfg.API.HomeTimeline(ctx, p)
	case KindMentions:
		return f.cfg.API.Mentions(ctx, p)
	case KindDirectMessages:
		return f.cfg.API.DirectMessages(ctx, p)
	case KindUser:
		return f.cfg.API.UserTimeline(ctx, f.cfg.User, p)
	case KindList:
		return f.cfg.API.ListTimeline(ctx, f.cfg.Owner, f.cfg.List, p)
	default:
		return nil, fmt.Errorf("feeds: unknown kind %d", int(f.cfg.Kind))
	}
}

// finish runs on the session event loop with the result of one fetch.
func (f *Feed) finish(entries []twitter.Entry, err error) {
	if f.closed {
		return
	}
	f.loading = false

	if err != nil {
		f.fail(err)
	} else {
		f.dispatch(entries)
		f.throttler.OK()
		if f.cfg.OnRefreshed != nil {
			f.cfg.OnRefreshed(len(entries))
		}
	}
	if f.cfg.Resched != nil {
		f.cfg.Resched()
	}
}

// dispatch delivers entries oldest-first and advances the watermark after
// each delivery, so a crash mid-dispatch replays at most the undelivered
// tail.
func (f *Feed) dispatch(entries []twitter.Entry) {
	// The remote returns newest-first; walk backwards for ascending ids.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		f.entries.Call(e)
		if e.ID > f.watermark {
			f.watermark = e.ID
			if err := f.cfg.Vars.Set(f.key, strconv.FormatInt(e.ID, 10)); err != nil {
				f.log.Error("persisting watermark failed", zap.Error(err))
			}
		}
	}
}

// fail reports one refresh failure: through the throttler first, then to the
// raw subscribers.
func (f *Feed) fail(err error) {
	f.log.Debug("refresh failed", zap.Error(err))
	f.throttler.Error(err)
	f.rawErrors.Call(err)

	if reset, ok := f.rateLimitReset(err); ok && f.cfg.OnRateLimit != nil {
		f.cfg.OnRateLimit(reset)
	}
}

// rateLimitReset recognizes quota exhaustion: an HTTP 400 while the remote
// reports zero remaining requests.
func (f *Feed) rateLimitReset(err error) (time.Time, bool) {
	var apiErr *twitter.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return time.Time{}, false
	}
	rl := f.cfg.API.RateLimit()
	if !rl.Known() || rl.Remaining > 0 {
		return time.Time{}, false
	}
	return rl.Reset, true
}
