package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ehabkost/passerd/internal/db"
	"github.com/ehabkost/passerd/internal/identity"
	"github.com/ehabkost/passerd/internal/throttle"
	"github.com/ehabkost/passerd/internal/twitter"
)

// fakeConn records written lines. ReadLine is never called because the tests
// feed lines straight into the event handlers.
type fakeConn struct {
	mu  sync.Mutex
	out []string
}

func (c *fakeConn) ReadLine() (string, error) { select {} }

func (c *fakeConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, line)
	return nil
}

func (c *fakeConn) Close() error       { return nil }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:52345" }

func (c *fakeConn) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.out...)
}

// fakeAPI overrides the endpoints a test cares about; anything else panics
// through the embedded nil interface.
type fakeAPI struct {
	twitter.API

	verifyFn      func() (*twitter.User, error)
	homeFn        func(p twitter.Params) ([]twitter.Entry, error)
	updateFn      func(text string, inReplyTo int64) (*twitter.Entry, error)
	retweetFn     func(id int64) (*twitter.Entry, error)
	sendDMFn      func(screenName, text string) (*twitter.Entry, error)
	showUserFn    func(screenName string) (*twitter.User, error)
	followFn      func(screenName string) (*twitter.User, error)
	unfollowFn    func(screenName string) (*twitter.User, error)
	friendsIDsFn  func(cursor string) ([]int64, string, error)
	listFriendsFn func(cursor string) ([]twitter.User, string, error)
	rate          twitter.RateLimit
}

func (a *fakeAPI) VerifyCredentials(context.Context) (*twitter.User, error) {
	return a.verifyFn()
}

func (a *fakeAPI) HomeTimeline(_ context.Context, p twitter.Params) ([]twitter.Entry, error) {
	if a.homeFn != nil {
		return a.homeFn(p)
	}
	return nil, nil
}

func (a *fakeAPI) Mentions(context.Context, twitter.Params) ([]twitter.Entry, error) {
	return nil, nil
}

func (a *fakeAPI) DirectMessages(context.Context, twitter.Params) ([]twitter.Entry, error) {
	return nil, nil
}

func (a *fakeAPI) FriendsIDs(_ context.Context, _, cursor string) ([]int64, string, error) {
	if a.friendsIDsFn != nil {
		return a.friendsIDsFn(cursor)
	}
	return nil, twitter.CursorDone, nil
}

func (a *fakeAPI) ListFriends(_ context.Context, _, cursor string) ([]twitter.User, string, error) {
	if a.listFriendsFn != nil {
		return a.listFriendsFn(cursor)
	}
	return nil, twitter.CursorDone, nil
}

func (a *fakeAPI) Update(_ context.Context, text string, inReplyTo int64) (*twitter.Entry, error) {
	if a.updateFn != nil {
		return a.updateFn(text, inReplyTo)
	}
	return &twitter.Entry{ID: 1000, Text: text}, nil
}

func (a *fakeAPI) Retweet(_ context.Context, id int64) (*twitter.Entry, error) {
	return a.retweetFn(id)
}

func (a *fakeAPI) SendDirectMessage(_ context.Context, screenName, text string) (*twitter.Entry, error) {
	return a.sendDMFn(screenName, text)
}

func (a *fakeAPI) ShowUser(_ context.Context, screenName string) (*twitter.User, error) {
	return a.showUserFn(screenName)
}

func (a *fakeAPI) FollowUser(_ context.Context, screenName string) (*twitter.User, error) {
	return a.followFn(screenName)
}

func (a *fakeAPI) UnfollowUser(_ context.Context, screenName string) (*twitter.User, error) {
	return a.unfollowFn(screenName)
}

func (a *fakeAPI) RateLimit() twitter.RateLimit { return a.rate }

type harness struct {
	t     *testing.T
	s     *Session
	conn  *fakeConn
	api   *fakeAPI
	clock *clockwork.FakeClock
	store *db.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	store := db.NewStore(database, zap.NewNop())

	h := &harness{
		t:     t,
		conn:  &fakeConn{},
		api:   &fakeAPI{},
		clock: clockwork.NewFakeClock(),
		store: store,
	}
	h.s = New(Config{
		Conn:         h.conn,
		Store:        store,
		Identity:     identity.NewCache(store, zap.NewNop()),
		Log:          zap.NewNop(),
		Clock:        h.clock,
		Version:      "test",
		BasicAuthAPI: func(string, string) twitter.API { return h.api },
		TokenAPI:     func(string, string) twitter.API { return h.api },
	})
	return h
}

// line feeds one raw IRC line into the session and runs everything it posted
// synchronously.
func (h *harness) line(raw string) {
	h.s.handleLine(raw)
	h.drain()
}

func (h *harness) drain() {
	for {
		select {
		case fn := <-h.s.events:
			fn()
		default:
			return
		}
	}
}

// waitFor pumps the event loop until some sent line contains substr.
func (h *harness) waitFor(substr string) {
	h.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if h.hasLine(substr) {
			return
		}
		select {
		case fn := <-h.s.events:
			fn()
		case <-deadline:
			h.t.Fatalf("timed out waiting for %q\nsent:\n%s", substr,
				strings.Join(h.conn.snapshot(), "\n"))
		}
	}
}

// pumpUntil pumps the event loop until cond holds.
func (h *harness) pumpUntil(cond func() bool) {
	h.t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case fn := <-h.s.events:
			fn()
		case <-deadline:
			h.t.Fatal("timed out waiting for condition")
		}
	}
}

func (h *harness) hasLine(substr string) bool {
	for _, line := range h.conn.snapshot() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// connectAnonymous registers without a PASS.
func (h *harness) connectAnonymous(nick string) {
	h.line("NICK " + nick)
	h.line(fmt.Sprintf("USER %s 0 * :%s", nick, nick))
}

// connectAuthenticated seeds a paired account with a delegated token and runs
// the full registration handshake.
func (h *harness) connectAuthenticated() {
	u, err := h.store.GetUserByRemoteID(1, "alice", true)
	require.NoError(h.t, err)
	require.NoError(h.t, h.store.SetToken(u, "tok", "sec"))
	h.api.verifyFn = func() (*twitter.User, error) {
		return &twitter.User{ID: 1, ScreenName: "alice", Name: "Alice"}, nil
	}
	h.line("PASS hunter2")
	h.line("NICK alice")
	h.line("USER alice 0 * :Alice")
	h.waitFor("End of /MOTD")
	h.waitFor("#mentions :End of /NAMES list")
}

// seedEntry pushes an entry through the home channel as if a feed delivered
// it.
func (h *harness) seedEntry(id, authorID int64, nick, text string, age time.Duration) {
	ch := h.s.channel("#twitter")
	require.NotNil(h.t, ch)
	ch.gotEntry(twitter.Entry{
		ID:        id,
		Text:      text,
		CreatedAt: twitter.Time{Time: h.clock.Now().Add(-age)},
		User:      &twitter.User{ID: authorID, ScreenName: nick, Name: nick},
	})
	h.drain()
}

func TestAnonymousRegistration(t *testing.T) {
	h := newHarness(t)
	h.connectAnonymous("newbie")

	assert.True(t, h.hasLine("001 newbie :Welcome to the Internet Relay Network newbie!newbie@127.0.0.1"))
	assert.True(t, h.hasLine("This server was created by the Flying Spaghetti Monster"))
	assert.True(t, h.hasLine("End of /MOTD"))
	assert.True(t, h.hasLine("Welcome, anonymous user!"))
	assert.True(t, h.hasLine(SetupChannelName))
}

func TestAuthenticatedRegistration(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	assert.True(t, h.hasLine("001 alice :Welcome to the Internet Relay Network alice!alice@127.0.0.1"))
	assert.True(t, h.hasLine(":alice!alice@127.0.0.1 JOIN #twitter"))
	assert.True(t, h.hasLine(":alice!alice@127.0.0.1 JOIN #mentions"))
	assert.True(t, h.hasLine("332 alice #twitter :Passerd -- Twitter home timeline channel"))
	assert.True(t, h.hasLine("332 alice #mentions :Passerd -- Twitter mentions channel"))
}

func TestNickForcedToScreenName(t *testing.T) {
	h := newHarness(t)
	u, err := h.store.GetUserByRemoteID(7, "Real_Name", true)
	require.NoError(t, err)
	require.NoError(t, h.store.SetToken(u, "tok", "sec"))
	h.api.verifyFn = func() (*twitter.User, error) {
		return &twitter.User{ID: 7, ScreenName: "Real_Name", Name: "Really"}, nil
	}

	h.line("PASS pw")
	h.line("NICK wrongnick")
	h.line("USER wrongnick 0 * :Whoever")
	h.waitFor("End of /MOTD")

	assert.True(t, h.hasLine("001 Real_Name :Welcome"))
}

func TestBadPasswordDisconnects(t *testing.T) {
	h := newHarness(t)
	h.api.verifyFn = func() (*twitter.User, error) {
		return nil, &twitter.APIError{StatusCode: 401, Body: "no"}
	}
	h.line("PASS wrong")
	h.line("NICK alice")
	h.line("USER alice 0 * :Alice")
	h.waitFor("464")

	assert.True(t, h.hasLine("464 alice :Password incorrect"))
	assert.True(t, h.hasLine("ERROR :Closing Link: authentication failed"))
}

func TestAcceptedCredentialsWithoutTokenStayAnonymous(t *testing.T) {
	h := newHarness(t)
	h.api.verifyFn = func() (*twitter.User, error) {
		return &twitter.User{ID: 3, ScreenName: "bob", Name: "Bob"}, nil
	}
	h.line("PASS pw")
	h.line("NICK bob")
	h.line("USER bob 0 * :Bob")
	h.waitFor("Welcome, anonymous user!")

	assert.True(t, h.hasLine("not authorized to talk to Twitter"))
	assert.False(t, h.hasLine("JOIN #twitter"))
}

func TestJoinGateForAnonymous(t *testing.T) {
	h := newHarness(t)
	h.connectAnonymous("newbie")

	h.line("JOIN #twitter")
	assert.True(t, h.hasLine("477 newbie #twitter :You need to be identified to join that channel"))

	h.line("JOIN " + SetupChannelName)
	assert.True(t, h.hasLine("JOIN "+SetupChannelName))
	assert.True(t, h.hasLine("Hi, welcome to Passerd!"))
}

func TestChannelPost(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	var posted string
	h.api.updateFn = func(text string, inReplyTo int64) (*twitter.Entry, error) {
		posted = text
		return &twitter.Entry{ID: 500, Text: text}, nil
	}
	h.line("PRIVMSG #twitter :hello world")
	h.waitFor("Twitter update posted!")

	assert.Equal(t, "hello world", posted)
}

func TestPostTooLong(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	long := strings.Repeat("x", 150)
	h.line("PRIVMSG #twitter :" + long)

	assert.True(t, h.hasLine("404 alice #twitter :message too long (150 characters)"))
}

func TestReplyThreading(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.seedEntry(42, 9, "bob", "look at this", 10*time.Second)

	var posted string
	var repliedTo int64
	h.api.updateFn = func(text string, inReplyTo int64) (*twitter.Entry, error) {
		posted, repliedTo = text, inReplyTo
		return &twitter.Entry{ID: 501, Text: text}, nil
	}

	// "nick: text" threads and gets the @ prepended
	h.line("PRIVMSG #twitter :bob: nice one")
	h.pumpUntil(func() bool { return posted == "@bob: nice one" })
	assert.Equal(t, int64(42), repliedTo)

	// a bare "nick text" is ordinary prose
	repliedTo = -1
	h.line("PRIVMSG #twitter :bob is a great guy")
	h.pumpUntil(func() bool { return posted == "bob is a great guy" })
	assert.Equal(t, int64(0), repliedTo)
}

func TestCTCPActionPosts(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	var posted string
	h.api.updateFn = func(text string, inReplyTo int64) (*twitter.Entry, error) {
		posted = text
		return &twitter.Entry{ID: 502, Text: text}, nil
	}
	h.line("PRIVMSG #twitter :\x01ACTION waves\x01")
	h.waitFor("Twitter update posted!")

	assert.Equal(t, "/me waves", posted)
}

func TestCarefulMode(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.line("PRIVMSG #twitter :!be careful")
	assert.True(t, h.hasLine("OK, I will be careful."))

	called := false
	h.api.updateFn = func(string, int64) (*twitter.Entry, error) {
		called = true
		return nil, nil
	}
	h.line("PRIVMSG #twitter :oops didn't mean to post this")
	assert.True(t, h.hasLine("I Can't Hear You!"))
	assert.False(t, called)

	// explicit commands still work
	h.line("PRIVMSG #twitter :!tw for real this time")
	h.waitFor("Twitter update posted!")
	assert.True(t, called)
}

func TestRetweetCommand(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.seedEntry(77, 9, "bob", "retweet me", 10*time.Second)

	var retweeted int64
	h.api.retweetFn = func(id int64) (*twitter.Entry, error) {
		retweeted = id
		return &twitter.Entry{ID: 900}, nil
	}
	h.line("PRIVMSG #twitter :!rt bob")
	h.waitFor("Retweeted!")
	assert.Equal(t, int64(77), retweeted)
}

func TestRetweetTooRecent(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.seedEntry(78, 9, "bob", "just posted", time.Second)

	h.line("PRIVMSG #twitter :!rt bob")
	assert.True(t, h.hasLine("too recent"))
}

func TestRetweetSubstringDisambiguation(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.seedEntry(80, 9, "bob", "first post about cats", 30*time.Second)
	h.seedEntry(81, 9, "bob", "second post about cats", 20*time.Second)

	h.line("PRIVMSG #twitter :!rt bob cats")
	assert.True(t, h.hasLine("multiple matches for [cats] on posts by bob"))

	var retweeted int64
	h.api.retweetFn = func(id int64) (*twitter.Entry, error) {
		retweeted = id
		return &twitter.Entry{ID: 901}, nil
	}
	h.line("PRIVMSG #twitter :!rt bob first")
	h.waitFor("Retweeted!")
	assert.Equal(t, int64(80), retweeted)
}

// seedRetweet pushes bob's retweet of carol's post through the home channel.
func (h *harness) seedRetweet(outerID, innerID int64) {
	ch := h.s.channel("#twitter")
	require.NotNil(h.t, ch)
	ch.gotEntry(twitter.Entry{
		ID:        outerID,
		Text:      "RT @carol: the original",
		CreatedAt: twitter.Time{Time: h.clock.Now().Add(-time.Hour)},
		User:      &twitter.User{ID: 11, ScreenName: "bob", Name: "Bob"},
		RetweetedStatus: &twitter.Entry{
			ID:        innerID,
			Text:      "the original",
			CreatedAt: twitter.Time{Time: h.clock.Now().Add(-2 * time.Hour)},
			User:      &twitter.User{ID: 12, ScreenName: "carol", Name: "Carol"},
		},
	})
	h.drain()
}

func TestInlineRetweetDisplay(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.line("PRIVMSG #twitter :!config set rt_inline on")
	assert.True(t, h.hasLine("rt_inline = on"))

	h.seedRetweet(90, 89)

	assert.True(t, h.hasLine(":carol!carol@twitter.com PRIVMSG #twitter :the original \x02[RT by @bob]\x02"))
}

func TestRetweetNoticeDisplay(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.seedRetweet(90, 89)

	assert.True(t, h.hasLine(":carol!carol@twitter.com PRIVMSG #twitter :the original"))
	assert.True(t, h.hasLine("(@carol retweeted by @bob)"))
	assert.False(t, h.hasLine("[RT by"))
}

func TestRetweetKeepsBothPostsInHistory(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.seedRetweet(500, 499)

	var retweeted int64
	h.api.retweetFn = func(id int64) (*twitter.Entry, error) {
		retweeted = id
		return &twitter.Entry{ID: 900}, nil
	}
	h.line("PRIVMSG #twitter :!rt bob")
	h.pumpUntil(func() bool { return retweeted == 500 })

	h.line("PRIVMSG #twitter :!rt carol")
	h.pumpUntil(func() bool { return retweeted == 499 })
}

func TestEntryCollapsesToSingleLineByDefault(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.seedEntry(95, 9, "bob", "aei óú\nfoo bar\nüber yeah!", 10*time.Second)

	assert.True(t, h.hasLine(":bob!bob@twitter.com PRIVMSG #twitter :aei óú foo bar über yeah!"))
	assert.False(t, h.hasLine("[...]"))
}

func TestMultilineEntryDisplay(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.line("PRIVMSG #twitter :!config set multiline on")
	assert.True(t, h.hasLine("multiline = on"))

	h.seedEntry(95, 9, "bob", "first line\nsecond line", 10*time.Second)

	assert.True(t, h.hasLine(":bob!bob@twitter.com PRIVMSG #twitter :first line"))
	assert.True(t, h.hasLine(":bob!bob@twitter.com PRIVMSG #twitter :[...] second line"))
}

func TestBeVerboseEnablesMultiline(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.line("PRIVMSG #twitter :!be verbose")
	assert.True(t, h.hasLine("OK, I will be verbose."))

	h.seedEntry(96, 9, "bob", "one\ntwo", 10*time.Second)
	assert.True(t, h.hasLine("[...] two"))
}

func TestOverCapacityNoticeStyling(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	ch := h.s.channel("#twitter")
	require.NotNil(t, ch)
	apiErr := &twitter.APIError{StatusCode: http.StatusServiceUnavailable, Body: "over capacity"}
	ch.feedNotice(throttle.Notice{Kind: throttle.KindError, Text: apiErr.Error(), Err: apiErr})
	h.drain()

	assert.True(t, h.hasLine("Look! A flying whale! -- twitter: HTTP 503: over capacity"))
}

func TestConfigTruthyAliases(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.line("PRIVMSG #twitter :!config set careful t")
	called := false
	h.api.updateFn = func(string, int64) (*twitter.Entry, error) {
		called = true
		return nil, nil
	}
	h.line("PRIVMSG #twitter :just chatting")
	assert.True(t, h.hasLine("I Can't Hear You!"))
	assert.False(t, called)

	h.line("PRIVMSG #twitter :!config set multiline y")
	h.seedEntry(97, 9, "bob", "up\ndown", 10*time.Second)
	assert.True(t, h.hasLine("[...] down"))
}

func TestDirectMessageSend(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	var sentTo, sentText string
	h.api.sendDMFn = func(screenName, text string) (*twitter.Entry, error) {
		sentTo, sentText = screenName, text
		return &twitter.Entry{ID: 321}, nil
	}
	h.line("PRIVMSG bob :psst, over here")
	h.waitFor("Direct Message to bob sent. ID: 321")

	assert.Equal(t, "bob", sentTo)
	assert.Equal(t, "psst, over here", sentText)
}

func TestDirectMessageReceive(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.s.dmReceived(twitter.Entry{
		ID:     1234,
		Text:   "hello from afar",
		Sender: &twitter.User{ID: 20, ScreenName: "dave", Name: "Dave"},
	})
	h.drain()

	assert.True(t, h.hasLine(":dave!dave@twitter.com PRIVMSG alice :hello from afar"))
}

func TestWhois(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.api.showUserFn = func(screenName string) (*twitter.User, error) {
		return &twitter.User{
			ID:          9,
			ScreenName:  "bob",
			Name:        "Bob Bobson",
			Location:    "Brazil",
			URL:         "http://bob.example",
			Description: "I am Bob",
			Status:      &twitter.Entry{ID: 70, Text: "latest thing"},
		}, nil
	}
	h.line("WHOIS bob")
	h.waitFor("End of /WHOIS list")

	assert.True(t, h.hasLine("311 alice bob bob twitter.com * :Bob Bobson"))
	assert.True(t, h.hasLine("301 alice bob :Location: Brazil"))
	assert.True(t, h.hasLine("301 alice bob :Bio: I am Bob"))
	assert.True(t, h.hasLine("301 alice bob :Last update: latest thing"))
	assert.True(t, h.hasLine("301 alice bob :Twitter URL: http://twitter.com/bob"))
}

func TestInviteFollows(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.api.followFn = func(screenName string) (*twitter.User, error) {
		return &twitter.User{ID: 30, ScreenName: screenName, Name: "Dave"}, nil
	}
	h.line("INVITE dave #twitter")
	h.waitFor("341 alice dave #twitter")

	assert.True(t, h.hasLine(":dave!dave@twitter.com JOIN #twitter"))
}

func TestKickUnfollows(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.api.unfollowFn = func(screenName string) (*twitter.User, error) {
		return &twitter.User{ID: 30, ScreenName: screenName, Name: "Dave"}, nil
	}
	h.line("KICK #twitter dave :bye then")
	h.waitFor(":alice!alice@127.0.0.1 KICK #twitter dave :bye then")
}

func TestForceRefreshQuiet(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.line("PRIVMSG #twitter :!")
	h.waitFor("people are quiet...")
}

func TestHomeMembersListing(t *testing.T) {
	h := newHarness(t)
	h.api.friendsIDsFn = func(cursor string) ([]int64, string, error) {
		return []int64{9, 555}, twitter.CursorDone, nil
	}
	h.api.listFriendsFn = func(cursor string) ([]twitter.User, string, error) {
		return []twitter.User{{ID: 9, ScreenName: "bob", Name: "Bob"}}, twitter.CursorDone, nil
	}
	h.connectAuthenticated()
	h.waitFor("#twitter :End of /NAMES list")

	assert.True(t, h.hasLine("353 alice = #twitter :@alice @passerd-bot"))
	assert.True(t, h.hasLine("353 alice = #twitter :bob user-id-555"))
}

func TestRemoteRenameEmitsNick(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()
	h.seedEntry(60, 9, "bob", "old name", 10*time.Second)
	h.seedEntry(61, 9, "bobby", "new name", 5*time.Second)

	assert.True(t, h.hasLine(":bob!bob@twitter.com NICK bobby"))
}

func TestMiscReplies(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.line("MODE #twitter")
	assert.True(t, h.hasLine("324 alice #twitter +"))

	h.line("MODE #twitter +b")
	assert.True(t, h.hasLine("368 alice #twitter :End of channel ban list"))

	h.line("MODE #twitter +o alice")
	assert.True(t, h.hasLine("472 alice o :is unknown mode char to me"))

	h.line("AWAY :brb")
	assert.True(t, h.hasLine("306 alice :You have been marked as being away"))
	h.line("AWAY")
	assert.True(t, h.hasLine("305 alice :You are no longer marked as being away"))

	h.line("USERHOST alice " + BotNick)
	assert.True(t, h.hasLine("302 alice :alice=+alice@127.0.0.1 passerd-bot=+passerd@passerd.server"))

	h.line("BLORP")
	assert.True(t, h.hasLine("421 alice BLORP :Unknown command"))

	h.line("NICK other")
	assert.True(t, h.hasLine("437 alice other :Your nick is your Twitter screen name"))
}

func TestHelpListing(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.line("PRIVMSG #twitter :!help")
	assert.True(t, h.hasLine("Passerd commands:"))
	assert.True(t, h.hasLine("!POST - post an update"))
	assert.True(t, h.hasLine("!RT - retweet somebody's recent post"))
	assert.True(t, h.hasLine("Other commands:"))
	assert.True(t, h.hasLine("!RATE - show the remaining API request quota"))
}

func TestSetupFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/request_token":
			fmt.Fprint(w, "oauth_token=rtok&oauth_token_secret=rsec&oauth_callback_confirmed=true")
		case "/oauth/access_token":
			fmt.Fprint(w, "oauth_token=atok&oauth_token_secret=asec")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newHarness(t)
	h.s.cfg.NewOAuthFlow = func() *twitter.OAuthFlow {
		return twitter.NewOAuthFlow("ckey", "csecret", twitter.OAuthEndpoints{
			RequestTokenURL: srv.URL + "/oauth/request_token",
			AuthorizeURL:    srv.URL + "/oauth/authorize",
			AccessTokenURL:  srv.URL + "/oauth/access_token",
		})
	}
	h.api.verifyFn = func() (*twitter.User, error) {
		return &twitter.User{ID: 44, ScreenName: "carol", Name: "Carol"}, nil
	}

	h.connectAnonymous("carol")
	h.line("JOIN " + SetupChannelName)
	assert.True(t, h.hasLine("Hi, welcome to Passerd!"))

	h.line("PRIVMSG " + SetupChannelName + " :ready")
	h.waitFor("Please open this URL")
	assert.True(t, h.hasLine(srv.URL+"/oauth/authorize"))

	h.line("PRIVMSG " + SetupChannelName + " :12345")
	h.waitFor("Hello, @carol! Your authorization worked.")

	// short password asks for confirmation first
	h.line("PRIVMSG " + SetupChannelName + " :password abc")
	h.waitFor("That password is quite short.")
	h.line("PRIVMSG " + SetupChannelName + " :yes")
	h.waitFor("Password saved!")
	h.waitFor("You are now logged in as carol. Enjoy!")

	account, err := h.store.GetUserByRemoteID(44, "", false)
	require.NoError(t, err)
	assert.Equal(t, "atok", account.Token)
	assert.Equal(t, "asec", account.TokenSecret)
	assert.NotEmpty(t, account.PasswordHash)

	// the session is live now
	h.waitFor(":carol!carol@127.0.0.1 JOIN #twitter")
}

func TestLoginCommand(t *testing.T) {
	h := newHarness(t)
	u, err := h.store.GetUserByRemoteID(1, "alice", true)
	require.NoError(t, err)
	require.NoError(t, h.store.SetToken(u, "tok", "sec"))
	h.api.verifyFn = func() (*twitter.User, error) {
		return &twitter.User{ID: 1, ScreenName: "alice", Name: "Alice"}, nil
	}

	h.connectAnonymous("alice")
	assert.False(t, h.hasLine("JOIN #twitter"))

	h.line("PRIVMSG " + BotNick + " :login alice hunter2")
	h.waitFor("Authentication successful. Welcome, alice!")
	h.waitFor(":alice!alice@127.0.0.1 JOIN #twitter")
}

func TestQuitTearsDown(t *testing.T) {
	h := newHarness(t)
	h.connectAuthenticated()

	h.line("QUIT :see ya")
	assert.True(t, h.hasLine("ERROR :Closing Link: see ya"))
	assert.False(t, h.s.sched.Running())
}
