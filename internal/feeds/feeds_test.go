package feeds

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/throttle"
	"github.com/ehabkost/passerd/internal/twitter"
)

type fakeVars map[string]string

func (v fakeVars) Get(name string) (string, bool, error) {
	val, ok := v[name]
	return val, ok, nil
}

func (v fakeVars) Set(name, value string) error {
	v[name] = value
	return nil
}

// fakeAPI serves canned home-timeline responses and records the params of
// each request. Only the methods the tests exercise are implemented.
type fakeAPI struct {
	twitter.API

	requests []twitter.Params
	entries  []twitter.Entry
	err      error
	rate     twitter.RateLimit
}

func (a *fakeAPI) HomeTimeline(_ context.Context, p twitter.Params) ([]twitter.Entry, error) {
	a.requests = append(a.requests, p)
	return a.entries, a.err
}

func (a *fakeAPI) RateLimit() twitter.RateLimit { return a.rate }

type feedHarness struct {
	feed    *Feed
	api     *fakeAPI
	vars    fakeVars
	posts   chan func()
	resched int
	reports []throttle.Notice
	limited []time.Time
}

func newHarness(t *testing.T) *feedHarness {
	t.Helper()
	h := &feedHarness{
		api:   &fakeAPI{},
		vars:  fakeVars{},
		posts: make(chan func(), 4),
	}
	var err error
	h.feed, err = New(Config{
		Kind:        KindHome,
		API:         h.api,
		Vars:        h.vars,
		Log:         zap.NewNop(),
		Post:        func(fn func()) { h.posts <- fn },
		Resched:     func() { h.resched++ },
		OnRateLimit: func(reset time.Time) { h.limited = append(h.limited, reset) },
		Report:      func(n throttle.Notice) { h.reports = append(h.reports, n) },
	})
	require.NoError(t, err)
	return h
}

// refresh runs one full refresh cycle, pumping the posted completion back
// onto the "event loop" (the test goroutine).
func (h *feedHarness) refresh(t *testing.T) {
	t.Helper()
	h.feed.Refresh()
	select {
	case fn := <-h.posts:
		fn()
	case <-time.After(time.Second):
		t.Fatal("refresh never completed")
	}
}

func entry(id int64, screenName, text string) twitter.Entry {
	return twitter.Entry{
		ID:   id,
		Text: text,
		User: &twitter.User{ID: id * 10, ScreenName: screenName},
	}
}

func TestDispatchAscendingAndWatermark(t *testing.T) {
	h := newHarness(t)
	// newest-first, as the remote returns them
	h.api.entries = []twitter.Entry{
		entry(103, "alice", "third"),
		entry(102, "bob", "second"),
		entry(101, "alice", "first"),
	}

	var seen []int64
	h.feed.OnEntry(func(e twitter.Entry) error {
		seen = append(seen, e.ID)
		return nil
	})

	h.refresh(t)

	assert.Equal(t, []int64{101, 102, 103}, seen)
	assert.Equal(t, int64(103), h.feed.Watermark())
	assert.Equal(t, "103", h.vars["home_last_status_id"])
	assert.Equal(t, 1, h.resched)
}

func TestSinceIDFromPersistedWatermark(t *testing.T) {
	h := newHarness(t)
	h.refresh(t)
	require.Len(t, h.api.requests, 1)
	assert.Zero(t, h.api.requests[0].SinceID)
	assert.Equal(t, QueryCount, h.api.requests[0].Count)

	h.api.entries = []twitter.Entry{entry(50, "alice", "hi")}
	h.refresh(t)
	h.api.entries = nil
	h.refresh(t)
	assert.Equal(t, int64(50), h.api.requests[2].SinceID)

	// a fresh feed picks the watermark back up from the store
	reloaded, err := New(Config{
		Kind: KindHome, API: h.api, Vars: h.vars, Log: zap.NewNop(),
		Post: func(fn func()) { fn() },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), reloaded.Watermark())
}

func TestRefreshWhileLoadingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.feed.Refresh()
	h.feed.Refresh() // coalesced: still one request in flight

	fn := <-h.posts
	fn()
	select {
	case <-h.posts:
		t.Fatal("second refresh should not have started")
	default:
	}
	assert.Len(t, h.api.requests, 1)
}

func TestErrorPath(t *testing.T) {
	h := newHarness(t)
	h.api.err = &twitter.APIError{StatusCode: http.StatusInternalServerError, Body: "oops"}

	var raw []error
	h.feed.OnError(func(err error) error {
		raw = append(raw, err)
		return nil
	})

	h.refresh(t)

	require.Len(t, raw, 1)
	require.Len(t, h.reports, 1)
	assert.Equal(t, throttle.KindError, h.reports[0].Kind)
	assert.Equal(t, h.api.err, h.reports[0].Err)
	assert.Empty(t, h.limited)
	assert.Equal(t, 1, h.resched, "failed refreshes still reschedule")
}

// TestErrorDeliveryOrder pins down the failure path: throttled report first,
// then the raw subscribers, then the reschedule.
func TestErrorDeliveryOrder(t *testing.T) {
	api := &fakeAPI{err: &twitter.APIError{StatusCode: http.StatusInternalServerError}}
	posts := make(chan func(), 1)
	var order []string
	feed, err := New(Config{
		Kind:    KindHome,
		API:     api,
		Vars:    fakeVars{},
		Log:     zap.NewNop(),
		Post:    func(fn func()) { posts <- fn },
		Resched: func() { order = append(order, "resched") },
		Report:  func(throttle.Notice) { order = append(order, "throttled") },
	})
	require.NoError(t, err)
	feed.OnError(func(error) error {
		order = append(order, "raw")
		return nil
	})

	feed.Refresh()
	(<-posts)()

	assert.Equal(t, []string{"throttled", "raw", "resched"}, order)
}

func TestRateLimitExhaustion(t *testing.T) {
	h := newHarness(t)
	reset := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	h.api.err = &twitter.APIError{StatusCode: http.StatusBadRequest}
	h.api.rate = twitter.RateLimit{Limit: 150, Remaining: 0, Reset: reset}

	h.refresh(t)

	require.Len(t, h.limited, 1)
	assert.Equal(t, reset, h.limited[0])
}

func TestBadRequestWithQuotaLeftIsNotRateLimit(t *testing.T) {
	h := newHarness(t)
	h.api.err = &twitter.APIError{StatusCode: http.StatusBadRequest}
	h.api.rate = twitter.RateLimit{Limit: 150, Remaining: 10, Reset: time.Now()}

	h.refresh(t)
	assert.Empty(t, h.limited)
}

func TestClosedFeedDiscardsLateResults(t *testing.T) {
	h := newHarness(t)
	h.api.entries = []twitter.Entry{entry(1, "alice", "late")}

	var seen int
	h.feed.OnEntry(func(twitter.Entry) error { seen++; return nil })

	h.feed.Refresh()
	h.feed.Close()
	fn := <-h.posts
	fn()

	assert.Zero(t, seen)
	assert.Zero(t, h.resched)
}

func TestResetWatermark(t *testing.T) {
	h := newHarness(t)
	h.api.entries = []twitter.Entry{entry(42, "alice", "hello")}
	h.refresh(t)
	require.Equal(t, int64(42), h.feed.Watermark())

	require.NoError(t, h.feed.ResetWatermark())
	assert.Zero(t, h.feed.Watermark())
	assert.Equal(t, "0", h.vars["home_last_status_id"])
}

func TestWatermarkKeys(t *testing.T) {
	assert.Equal(t, "home_last_status_id", WatermarkKey(KindHome, "", "", ""))
	assert.Equal(t, "mentions_last_status_id", WatermarkKey(KindMentions, "", "", ""))
	assert.Equal(t, "direct_messages_last_id", WatermarkKey(KindDirectMessages, "", "", ""))
	assert.Equal(t, "last_status_id_@alice", WatermarkKey(KindUser, "alice", "", ""))
	assert.Equal(t, "last_status_id_@alice/friends", WatermarkKey(KindList, "", "alice", "friends"))
}
