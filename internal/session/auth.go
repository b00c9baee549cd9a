package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/auth"
	"github.com/ehabkost/passerd/internal/db"
	"github.com/ehabkost/passerd/internal/feeds"
	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/throttle"
	"github.com/ehabkost/passerd/internal/twitter"
)

func (s *Session) handlePass(msg irc.Message) error {
	if s.welcomed {
		return NewErrorReply(irc.ERR_ALREADYREGISTRED, "You may not reregister")
	}
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdPass, "Not enough parameters")
	}
	s.password = msg.Param(0)
	s.hasPassword = true
	return nil
}

func (s *Session) handleNick(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdNick, "Not enough parameters")
	}
	nick := msg.Param(0)
	if s.welcomed {
		if s.user.nick == nick {
			return nil
		}
		return NewErrorReply(irc.ERR_UNAVAILRESOURCE, nick,
			"Your nick is your Twitter screen name; it cannot be changed here")
	}
	s.user.nick = nick
	s.gotNick = true
	s.tryRegister()
	return nil
}

func (s *Session) handleUser(msg irc.Message) error {
	if s.welcomed {
		return NewErrorReply(irc.ERR_ALREADYREGISTRED, "You may not reregister")
	}
	if len(msg.Params) < 4 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdUser, "Not enough parameters")
	}
	s.user.username = msg.Param(0)
	s.user.realName = msg.Trailing()
	s.gotUser = true
	s.tryRegister()
	return nil
}

// tryRegister fires once NICK and USER have both arrived. With a PASS in hand
// the credential chain runs first; otherwise the session is welcomed as
// anonymous and pointed at the setup channel.
func (s *Session) tryRegister() {
	if s.welcomed || !s.gotNick || !s.gotUser {
		return
	}
	if !s.hasPassword {
		s.welcomeAnonymous(false)
		return
	}
	s.authenticate(s.user.nick, s.password, func(r authResult) {
		switch {
		case r.err != nil:
			s.reply(irc.ERR_PASSWDMISMATCH, "Password incorrect")
			s.serverMessage("ERROR", "Closing Link: authentication failed")
			s.userQuit("authentication failed")
			s.shutdown()
		case r.missing:
			if r.account != nil {
				s.account = r.account
			}
			s.welcomeAnonymous(true)
		default:
			s.applyAuth(r)
			s.welcomeUser()
		}
	})
}

// authResult is the outcome of one run of the credential chain.
type authResult struct {
	account *db.User
	remote  *twitter.User
	api     twitter.API

	// missing means the credentials were accepted but no usable delegated
	// token exists; the session stays anonymous.
	missing bool
	err     error
}

// authenticate runs the credential chain: the local password hash first, then
// the remote service's basic auth, and finally a probe of the stored
// delegated token. done always runs on the event loop.
func (s *Session) authenticate(username, password string, done func(authResult)) {
	account, err := s.cfg.Store.GetUserByScreenName(username, false)
	if err != nil && !errors.Is(err, db.ErrUserNotFound) {
		done(authResult{err: err})
		return
	}

	if account != nil && account.PasswordHash != "" {
		hash := account.PasswordHash
		go func() {
			ok := auth.VerifyPassword(password, hash)
			s.post(func() {
				if ok {
					s.probeToken(account, done)
				} else {
					s.basicAuth(account, username, password, done)
				}
			})
		}()
		return
	}
	s.basicAuth(account, username, password, done)
}

// basicAuth verifies the credentials against the remote service, then moves
// on to the delegated-token probe.
func (s *Session) basicAuth(account *db.User, username, password string, done func(authResult)) {
	api := s.cfg.BasicAuthAPI(username, password)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
		defer cancel()
		u, err := api.VerifyCredentials(ctx)
		s.post(func() {
			if err != nil {
				s.log.Info("basic auth failed", zap.String("username", username), zap.Error(err))
				done(authResult{err: err})
				return
			}
			acct := account
			if acct == nil || acct.RemoteID == nil {
				acct, err = s.cfg.Store.GetUserByRemoteID(u.ID, u.ScreenName, true)
				if err != nil {
					done(authResult{err: err})
					return
				}
			}
			s.probeToken(acct, done)
		})
	}()
}

// probeToken verifies the stored delegated token and resolves the remote
// identity from it.
func (s *Session) probeToken(account *db.User, done func(authResult)) {
	if !account.HasToken() {
		done(authResult{account: account, missing: true})
		return
	}
	api := s.cfg.TokenAPI(account.Token, account.TokenSecret)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
		defer cancel()
		u, err := api.VerifyCredentials(ctx)
		s.post(func() {
			switch {
			case err == nil:
				done(authResult{account: account, remote: u, api: api})
			case twitter.IsUnauthorized(err):
				// token revoked; the user has to redo the setup
				done(authResult{account: account, missing: true})
			default:
				done(authResult{err: err})
			}
		})
	}()
}

func (s *Session) applyAuth(r authResult) {
	s.account = r.account
	s.remote = r.remote
	s.api = r.api
	s.cacheUser(r.remote)
}

// ---- welcome ----

func (s *Session) version() string {
	if s.cfg.Version == "" {
		return "dev"
	}
	return s.cfg.Version
}

func (s *Session) sendWelcome() {
	s.welcomed = true
	version := "passerd-" + s.version()
	s.reply(irc.RPL_WELCOME,
		fmt.Sprintf("Welcome to the Internet Relay Network %s", s.user.fullID()))
	s.reply(irc.RPL_YOURHOST,
		fmt.Sprintf("Your host is %s, running version %s", s.cfg.ServerName, version))
	s.reply(irc.RPL_CREATED, "This server was created by the Flying Spaghetti Monster")
	s.reply(irc.RPL_MYINFO, s.cfg.ServerName, version, "0", "b")
	s.sendMOTD()
}

func (s *Session) welcomeUser() {
	s.forceNick(s.remote.ScreenName)
	s.sendWelcome()
	s.activateUser()
}

// activateUser starts the live machinery of an authenticated session: the
// direct-message feed, the automatic channels and the refresh scheduler.
func (s *Session) activateUser() {
	s.startDMFeed()
	for _, name := range []string{"#twitter", "#mentions"} {
		ch := s.channel(name)
		if ch == nil {
			continue
		}
		if err := ch.join(); err != nil {
			s.log.Warn("autojoin failed", zap.String("channel", name), zap.Error(err))
		}
	}
	s.sched.Start()
}

func (s *Session) welcomeAnonymous(hadCredentials bool) {
	s.sendWelcome()
	hello := func(text string) {
		s.noticeFrom(s.bot, s.user.nick, text)
	}
	hello("Welcome, anonymous user!")
	if hadCredentials {
		hello("Your password was accepted, but Passerd is not authorized to talk to Twitter on your behalf yet.")
	}
	hello("You need to set up your account before using Passerd.")
	hello("Join the " + SetupChannelName + " channel to set up your account.")
	hello("If you finished the setup already, authenticate with: /MSG " + BotNick + " LOGIN <username> <password>")
}

// forceNick renames the connected user server-side. Before the welcome the
// rename is silent; afterwards the client is told with a NICK message.
func (s *Session) forceNick(nick string) {
	if nick == "" || s.user.nick == nick {
		return
	}
	old := s.user
	s.user.nick = nick
	if s.welcomed && old.nick != "" {
		s.sendFrom(old, irc.CmdNick, nick)
	}
}

// loginCommand serves /MSG passerd-bot LOGIN for sessions that connected
// without a PASS, or whose setup just finished.
func (s *Session) loginCommand(username, password string, say func(string)) {
	if s.authenticated() {
		say(fmt.Sprintf("You are already logged in as %s", s.remote.ScreenName))
		return
	}
	say("Checking your credentials...")
	s.authenticate(username, password, func(r authResult) {
		switch {
		case r.err != nil:
			say(fmt.Sprintf("Authentication failed: %v", r.err))
		case r.missing:
			if r.account != nil {
				s.account = r.account
			}
			say("Your credentials are fine, but Passerd is not authorized to talk to Twitter on your behalf yet.")
			say("Join the " + SetupChannelName + " channel to finish the setup.")
		default:
			s.applyAuth(r)
			s.forceNick(s.remote.ScreenName)
			say(fmt.Sprintf("Authentication successful. Welcome, %s!", s.remote.ScreenName))
			s.activateUser()
		}
	})
}

// ---- direct messages ----

func (s *Session) startDMFeed() {
	if s.dmFeed != nil {
		return
	}
	f, err := feeds.New(feeds.Config{
		Kind: feeds.KindDirectMessages,
		API:  s.api,
		Vars: s.vars(),
		Log:  s.log,
		Post: s.post,
		Resched: func() {
			if s.dmSlot != nil {
				s.dmSlot.Resched()
			}
		},
		OnRateLimit: s.waitRateLimit,
		Report: func(n throttle.Notice) {
			s.notice("direct messages: " + n.Text)
		},
	})
	if err != nil {
		s.log.Error("creating direct-message feed failed", zap.Error(err))
		return
	}
	f.OnEntry(func(e twitter.Entry) error {
		s.dmReceived(e)
		return nil
	})
	s.dmFeed = f
	s.dmSlot = s.sched.Register(f.Refresh)
}

func (s *Session) dmReceived(e twitter.Entry) {
	sender := e.Author()
	if sender == nil {
		return
	}
	s.cacheUser(sender)
	from := twitterUser(sender.ScreenName, sender.Name)
	for _, line := range entryLines(e.Text, s.configBool("multiline", false)) {
		s.privmsgFrom(from, s.user.nick, line)
	}
}

// waitRateLimit pushes the whole refresh schedule out to the remote-reported
// reset time.
func (s *Session) waitRateLimit(reset time.Time) {
	s.sched.WaitRateLimit(reset)
}
