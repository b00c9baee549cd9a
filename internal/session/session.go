// Package session implements one IRC client connection: registration and
// authentication, the channel surface over remote timelines, the in-channel
// command dialogs and the interactive account setup.
//
// Each session runs a single event-loop goroutine. Network reads, timer
// expirations and HTTP results are marshalled onto it through post, so all
// session state is touched from exactly one goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/db"
	"github.com/ehabkost/passerd/internal/dialog"
	"github.com/ehabkost/passerd/internal/feeds"
	"github.com/ehabkost/passerd/internal/identity"
	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/scheduler"
	"github.com/ehabkost/passerd/internal/textenc"
	"github.com/ehabkost/passerd/internal/twitter"
)

const (
	// DefaultServerName is the IRC server name when none is configured.
	DefaultServerName = "passerd.server"

	// BotNick is the service bot present on every channel.
	BotNick = "passerd-bot"

	// LengthLimit is the remote service's message length cap, enforced
	// locally before any API call.
	LengthLimit = 140

	// ReplyHistorySize bounds each channel's recent-posts ring.
	ReplyHistorySize = 100

	// MinLatestPostAge guards !rt and reply detection against racing a post
	// that just scrolled by.
	MinLatestPostAge = 2 * time.Second

	// MaxFriendPageReqs caps the profile pages fetched to backfill unknown
	// members of the home channel.
	MaxFriendPageReqs = 10

	namesChunkSize = 30
)

// SetupChannelName is where anonymous users create their account.
const SetupChannelName = "#new-user-setup"

// Config wires a session to the rest of the daemon.
type Config struct {
	Conn     irc.LineConn
	Store    *db.Store
	Identity *identity.Cache
	Log      *zap.Logger

	// Clock is real in production and fake under test.
	Clock clockwork.Clock

	ServerName string
	Version    string
	ProjectURL string

	// BasicAuthAPI builds a client for the credential check during login;
	// TokenAPI builds the delegated-token client used afterwards.
	BasicAuthAPI func(username, password string) twitter.API
	TokenAPI     func(token, secret string) twitter.API

	// NewOAuthFlow starts a fresh delegated-authorization handshake for the
	// setup dialog. Nil when the daemon has no consumer credentials.
	NewOAuthFlow func() *twitter.OAuthFlow

	// OnClose runs once when the session shuts down.
	OnClose func()
}

// Session is one connected IRC client.
type Session struct {
	cfg   Config
	log   *zap.Logger
	clock clockwork.Clock
	conn  irc.LineConn

	events chan func()
	quit   chan struct{}
	mu     sync.Mutex
	closed bool

	serverPrefix irc.Prefix
	bot          userInfo
	user         userInfo

	password    string
	hasPassword bool
	gotNick     bool
	gotUser     bool
	welcomed    bool
	quitDone    bool

	// api and remote are set once authentication succeeds; account may also
	// exist for anonymous sessions mid-setup.
	api     twitter.API
	account *db.User
	remote  *twitter.User

	sched    *scheduler.Scheduler
	channels map[string]*Channel
	joined   []*Channel

	dmFeed *feeds.Feed
	dmSlot *scheduler.Handle

	botDialog *dialog.CommandDialog

	// watched maps remote ids to the nick last shown for them, so a remote
	// rename turns into an IRC NICK message.
	watched map[int64]string
}

// New builds a session over an accepted connection. Run must be called to
// start it.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultServerName
	}
	log := cfg.Log.Named("session").With(zap.String("remote", cfg.Conn.RemoteAddr()))

	s := &Session{
		cfg:      cfg,
		log:      log,
		clock:    cfg.Clock,
		conn:     cfg.Conn,
		events:   make(chan func(), 256),
		quit:     make(chan struct{}),
		channels: map[string]*Channel{},
		watched:  map[int64]string{},
	}
	s.serverPrefix = irc.Prefix{Name: cfg.ServerName}
	s.bot = userInfo{
		nick:     BotNick,
		username: "passerd",
		realName: "Passerd Bot",
		host:     cfg.ServerName,
	}
	s.user = userInfo{host: remoteHost(cfg.Conn.RemoteAddr())}
	s.sched = scheduler.New(s.clock, func(fn func()) { s.post(fn) }, log)
	s.botDialog = newBotDialog(s)

	s.addChannel(newChannel(s, chanHome, "#twitter"))
	s.addChannel(newChannel(s, chanMentions, "#mentions"))
	s.addChannel(newChannel(s, chanSetup, SetupChannelName))
	return s
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Run drives the event loop until the connection closes. It blocks; callers
// run it on its own goroutine.
func (s *Session) Run() {
	s.log.Info("client connected")
	go s.readLoop()
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post schedules fn on the event loop. Posts against a closed session are
// silently dropped, so late HTTP results and timer shots cannot touch dead
// state.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- fn:
	case <-s.quit:
	}
}

func (s *Session) readLoop() {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			s.post(func() { s.connectionLost(err) })
			return
		}
		s.post(func() { s.handleLine(line) })
	}
}

func (s *Session) connectionLost(err error) {
	s.log.Info("connection lost", zap.Error(err))
	s.userQuit("Connection lost")
	s.shutdown()
}

// userQuit tears down all live activity: feeds stop, channels are left, the
// scheduler is cancelled. Idempotent.
func (s *Session) userQuit(reason string) {
	if s.quitDone {
		return
	}
	s.quitDone = true

	if s.dmFeed != nil {
		s.dmFeed.Close()
	}
	if s.dmSlot != nil {
		s.dmSlot.Destroy()
		s.dmSlot = nil
	}
	for _, ch := range append([]*Channel(nil), s.joined...) {
		ch.stop()
	}
	s.joined = nil
	s.sched.Stop()
	s.log.Info("session ended", zap.String("reason", reason))
}

func (s *Session) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quit)
	s.conn.Close()
	if s.cfg.OnClose != nil {
		s.cfg.OnClose()
	}
}

func (s *Session) handleLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	msg := irc.ParseMessage(line)
	if msg.Command == "" {
		return
	}
	s.dispatch(msg)
}

// dispatch runs one command behind the error shell: ErrorReply values become
// numeric replies, anything else is logged and reported as an internal error
// without killing the connection.
func (s *Session) dispatch(msg irc.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in command handler",
				zap.String("command", msg.Command), zap.Any("panic", r))
			s.internalError(fmt.Errorf("%v", r))
		}
	}()

	err := s.handleCommand(msg)
	if err == nil {
		return
	}
	var numeric *ErrorReply
	if errors.As(err, &numeric) {
		s.reply(numeric.Numeric, numeric.Args...)
		return
	}
	s.log.Error("command failed", zap.String("command", msg.Command), zap.Error(err))
	s.internalError(err)
}

func (s *Session) internalError(err error) {
	s.notice(fmt.Sprintf("*** An internal error has occurred. Sorry. -- %v", err))
}

func (s *Session) handleCommand(msg irc.Message) error {
	switch msg.Command {
	case irc.CmdPing:
		s.serverMessage(irc.CmdPong, msg.Param(0))
		return nil
	case irc.CmdPong:
		return nil
	case irc.CmdPass:
		return s.handlePass(msg)
	case irc.CmdNick:
		return s.handleNick(msg)
	case irc.CmdUser:
		return s.handleUser(msg)
	case irc.CmdQuit:
		return s.handleQuit(msg)
	}

	if !s.welcomed {
		return NewErrorReply(irc.ERR_NOTREGISTERED, "You have not registered")
	}

	switch msg.Command {
	case irc.CmdJoin:
		return s.handleJoin(msg)
	case irc.CmdPart:
		return s.handlePart(msg)
	case irc.CmdPrivmsg:
		return s.handlePrivmsg(msg)
	case irc.CmdNotice:
		return nil
	case irc.CmdMode:
		return s.handleMode(msg)
	case irc.CmdTopic:
		return s.handleTopic(msg)
	case irc.CmdNames:
		return s.handleNames(msg)
	case irc.CmdWho:
		return s.handleWho(msg)
	case irc.CmdWhois:
		return s.handleWhois(msg)
	case irc.CmdUserhost:
		return s.handleUserhost(msg)
	case irc.CmdInvite:
		return s.handleInvite(msg)
	case irc.CmdKick:
		return s.handleKick(msg)
	case irc.CmdAway:
		return s.handleAway(msg)
	case irc.CmdMotd:
		s.sendMOTD()
		return nil
	default:
		return NewErrorReply(irc.ERR_UNKNOWNCOMMAND, msg.Command, "Unknown command")
	}
}

// ---- output helpers ----

func (s *Session) sendMessage(prefix irc.Prefix, cmd string, params ...string) {
	line := irc.Message{Prefix: prefix, Command: cmd, Params: params}.String()
	if err := s.conn.WriteLine(line); err != nil {
		s.log.Debug("write failed", zap.Error(err))
	}
}

func (s *Session) serverMessage(cmd string, params ...string) {
	s.sendMessage(s.serverPrefix, cmd, params...)
}

func (s *Session) nickOrStar() string {
	if s.user.nick == "" {
		return "*"
	}
	return s.user.nick
}

// reply sends a numeric with the user's nick as the first parameter.
func (s *Session) reply(numeric string, params ...string) {
	s.serverMessage(numeric, append([]string{s.nickOrStar()}, params...)...)
}

// notice is a server-originated NOTICE to the user.
func (s *Session) notice(text string) {
	s.serverMessage(irc.CmdNotice, s.nickOrStar(), textenc.OneLine(text))
}

func (s *Session) sendFrom(from userInfo, cmd string, params ...string) {
	s.sendMessage(from.prefix(), cmd, params...)
}

func (s *Session) privmsgFrom(from userInfo, target, text string) {
	s.sendFrom(from, irc.CmdPrivmsg, target, textenc.OneLine(text))
}

func (s *Session) noticeFrom(from userInfo, target, text string) {
	s.sendFrom(from, irc.CmdNotice, target, textenc.OneLine(text))
}

// ---- state helpers ----

// authenticated reports whether the session holds working API credentials.
func (s *Session) authenticated() bool {
	return s.api != nil && s.remote != nil
}

func (s *Session) requireAuth(cmd string) error {
	if s.authenticated() {
		return nil
	}
	return NewErrorReply(irc.ERR_NOPRIVILEGES,
		fmt.Sprintf("You must be authenticated to use %s", cmd))
}

// vars exposes the account's persistent variables to the feeds package.
// Anonymous sessions read nothing and write nowhere.
func (s *Session) vars() feeds.Vars {
	return accountVars{s}
}

type accountVars struct{ s *Session }

func (v accountVars) Get(name string) (string, bool, error) {
	if v.s.account == nil {
		return "", false, nil
	}
	return v.s.cfg.Store.GetVar(v.s.account, name)
}

func (v accountVars) Set(name, value string) error {
	if v.s.account == nil {
		return nil
	}
	return v.s.cfg.Store.SetVar(v.s.account, name, value)
}

// cacheUser refreshes the process-global identity cache from a remote user
// seen on this session, and emits a NICK message when a user already shown on
// a channel changed screen name.
func (s *Session) cacheUser(u *twitter.User) {
	if u == nil || u.ID == 0 {
		return
	}
	if old, ok := s.watched[u.ID]; ok && old != u.ScreenName {
		s.sendFrom(twitterUser(old, ""), irc.CmdNick, u.ScreenName)
	}
	s.watched[u.ID] = u.ScreenName

	if err := s.cfg.Identity.Update(u.ID, u.ScreenName, u.Name); err != nil {
		s.log.Warn("identity cache update failed", zap.Error(err))
	}
}

// lookupUser resolves a nick to a cached remote identity.
func (s *Session) lookupUser(nick string) (int64, *identity.Info) {
	id, info, err := s.cfg.Identity.LookupByScreenName(nick)
	if err != nil {
		s.log.Warn("identity lookup failed", zap.String("nick", nick), zap.Error(err))
		return 0, nil
	}
	return id, info
}

// apiCall runs fn against the remote API on its own goroutine and posts the
// result back to the event loop.
func apiCall[T any](s *Session, fn func(ctx context.Context) (T, error), done func(T, error)) {
	api := s.api
	if api == nil {
		var zero T
		done(zero, errors.New("not authenticated"))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
		defer cancel()
		v, err := fn(ctx)
		s.post(func() { done(v, err) })
	}()
}

// ---- channel registry ----

func (s *Session) addChannel(ch *Channel) {
	s.channels[strings.ToLower(ch.name)] = ch
}

func (s *Session) channel(name string) *Channel {
	return s.channels[strings.ToLower(name)]
}

// getOrCreateChannel resolves a channel name, materializing user channels
// (#@nick) and list channels (#@owner/list) on first reference.
func (s *Session) getOrCreateChannel(name string) (*Channel, error) {
	if ch := s.channel(name); ch != nil {
		return ch, nil
	}
	if !strings.HasPrefix(name, "#@") {
		return nil, NewErrorReply(irc.ERR_NOSUCHCHANNEL, name, "No such channel")
	}
	spec := name[len("#@"):]
	var ch *Channel
	if owner, list, ok := strings.Cut(spec, "/"); ok {
		if owner == "" || list == "" {
			return nil, NewErrorReply(irc.ERR_NOSUCHCHANNEL, name, "No such channel")
		}
		ch = newListChannel(s, name, owner, list)
	} else {
		ch = newUserChannel(s, name, spec)
	}
	s.addChannel(ch)
	return ch, nil
}

func (s *Session) channelJoined(ch *Channel) {
	s.joined = append(s.joined, ch)
}

func (s *Session) channelLeft(ch *Channel) {
	for i, other := range s.joined {
		if other == ch {
			s.joined = append(s.joined[:i], s.joined[i+1:]...)
			return
		}
	}
}
