package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/dialog"
	"github.com/ehabkost/passerd/internal/twitter"
)

// knownConfigKeys are the settings accepted by !config set.
var knownConfigKeys = []string{"careful", "multiline", "rt_inline"}

func (s *Session) configGet(name string) (string, bool) {
	if s.account == nil {
		return "", false
	}
	v, ok, err := s.cfg.Store.GetVar(s.account, "config:"+name)
	if err != nil {
		s.log.Warn("reading setting failed", zap.String("name", name), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (s *Session) configSet(name, value string) error {
	if s.account == nil {
		return errors.New("you need an account before changing settings")
	}
	return s.cfg.Store.SetVar(s.account, "config:"+name, value)
}

func (s *Session) configBool(name string, def bool) bool {
	v, ok := s.configGet(name)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}

// threadMaxHops bounds how far !thread walks a reply chain.
const threadMaxHops = 5

// newChannelCommands builds the "!" command table of a timeline channel.
func newChannelCommands(s *Session, ch *Channel) *dialog.CommandDialog {
	d := dialog.NewCommandDialog(ch.botMsg)
	d.SetPrefix("!")
	d.SetHeader("Passerd commands:")

	d.Register("post", dialog.Command{
		ShortHelp:  "post an update",
		Syntax:     "text",
		Importance: dialog.ImportanceCommon,
		Handler: func(args string) error {
			if args == "" {
				d.CmdSyntax("post", "text")
				return nil
			}
			return ch.doSendPost(args)
		},
	})
	d.AddAlias("s", "post")
	d.AddAlias("tw", "post")
	d.AddAlias("twit", "post")
	d.AddAlias("update", "post")

	d.Register("rt", dialog.Command{
		ShortHelp:  "retweet somebody's recent post",
		Syntax:     "nick [substring]",
		Importance: dialog.ImportanceCommon,
		Handler: func(args string) error {
			nick, substring := dialog.SplitArgs(args)
			if nick == "" {
				d.CmdSyntax("rt", "nick [substring]")
				return nil
			}
			e, err := ch.recentPostFor(nick, substring, MinLatestPostAge)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("I can't find a recent post by %s here", nick)
			}
			apiCall(s, func(ctx context.Context) (*twitter.Entry, error) {
				return s.api.Retweet(ctx, e.ID)
			}, func(_ *twitter.Entry, err error) {
				if err != nil {
					ch.botMsg(fmt.Sprintf("error retweeting: %v", err))
					return
				}
				ch.botNotice("Retweeted!")
			})
			return nil
		},
	})

	d.Register("re", dialog.Command{
		ShortHelp:  "reply to somebody's recent post",
		Syntax:     "nick text",
		Importance: dialog.ImportanceCommon,
		Handler: func(args string) error {
			nick, text := dialog.SplitArgs(args)
			if nick == "" || text == "" {
				d.CmdSyntax("re", "nick text")
				return nil
			}
			e, err := ch.recentPostFor(nick, "", 0)
			if err != nil {
				return err
			}
			var replyTo int64
			if e != nil {
				replyTo = e.ID
			}
			return ch.postUpdate(fmt.Sprintf("@%s %s", nick, text), replyTo)
		},
	})

	d.Register("thread", dialog.Command{
		ShortHelp:  "show the conversation behind somebody's recent post",
		Syntax:     "nick [substring]",
		Importance: dialog.ImportanceInteresting,
		Handler: func(args string) error {
			nick, substring := dialog.SplitArgs(args)
			if nick == "" {
				d.CmdSyntax("thread", "nick [substring]")
				return nil
			}
			e, err := ch.recentPostFor(nick, substring, 0)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("I can't find a recent post by %s here", nick)
			}
			ch.showThread(*e)
			return nil
		},
	})

	d.Register("spam", dialog.Command{
		ShortHelp:  "report a user as spammer and unfollow them",
		Syntax:     "nick",
		Importance: dialog.ImportanceInteresting,
		Handler: func(args string) error {
			nick, _ := dialog.SplitArgs(args)
			if nick == "" {
				d.CmdSyntax("spam", "nick")
				return nil
			}
			apiCall(s, func(ctx context.Context) (*twitter.User, error) {
				return s.api.ReportSpam(ctx, nick)
			}, func(u *twitter.User, err error) {
				if err != nil {
					ch.botMsg(fmt.Sprintf("error reporting %s: %v", nick, err))
					return
				}
				ch.botNotice(fmt.Sprintf("%s was reported as a spammer", u.ScreenName))
			})
			return nil
		},
	})

	d.Register("rate", dialog.Command{
		ShortHelp:  "show the remaining API request quota",
		Importance: dialog.ImportanceAdvanced,
		Handler: func(string) error {
			if !s.authenticated() {
				return errors.New("you are not authenticated")
			}
			rl := s.api.RateLimit()
			if !rl.Known() {
				ch.botMsg("no rate limit information yet")
				return nil
			}
			ch.botMsg(fmt.Sprintf("API requests: %d of %d remaining. Reset at %s.",
				rl.Remaining, rl.Limit, rl.Reset.Format("15:04:05")))
			return nil
		},
	})

	d.Register("login", dialog.Command{
		ShortHelp:  "authenticate without reconnecting",
		Syntax:     "username password",
		Importance: dialog.ImportanceAdvanced,
		Handler: func(args string) error {
			username, password := dialog.SplitArgs(args)
			if username == "" || password == "" {
				d.CmdSyntax("login", "username password")
				return nil
			}
			s.loginCommand(username, password, ch.botMsg)
			return nil
		},
	})

	d.AddSubdialog("be", newBeDialog(s, ch.botMsg), "change how I behave, e.g.: !be careful")
	d.AddSubdialog("config", newConfigDialog(s, ch.botMsg), "")
	d.AddSubdialog("debug", newDebugDialog(ch), "")
	return d
}

// newBeDialog maps personality requests onto settings.
func newBeDialog(s *Session, say func(string)) *dialog.CommandDialog {
	d := dialog.NewCommandDialog(say)
	setAndSay := func(key, value, reply string) func(string) error {
		return func(string) error {
			if err := s.configSet(key, value); err != nil {
				return err
			}
			d.Message(reply)
			return nil
		}
	}
	d.Register("careful", dialog.Command{
		ShortHelp: "only accept explicit commands on channels",
		Handler:   setAndSay("careful", "1", "OK, I will be careful. Use !tw to post updates."),
	})
	d.AddAlias("paranoid", "careful")
	d.Register("brave", dialog.Command{
		ShortHelp: "post everything said on channels",
		Handler:   setAndSay("careful", "0", "OK, I will post everything you say on this channel."),
	})
	setPair := func(reply string, settings map[string]string) func(string) error {
		return func(string) error {
			for key, value := range settings {
				if err := s.configSet(key, value); err != nil {
					return err
				}
			}
			d.Message(reply)
			return nil
		}
	}
	d.Register("verbose", dialog.Command{
		ShortHelp: "show multi-line posts as multiple lines, retweet info as separate messages",
		Handler: setPair("OK, I will be verbose.",
			map[string]string{"multiline": "1", "rt_inline": "0"}),
	})
	d.Register("concise", dialog.Command{
		ShortHelp: "show every post as a single IRC message",
		Handler: setPair("OK, I will be concise.",
			map[string]string{"multiline": "0", "rt_inline": "1"}),
	})
	d.Register("happy", dialog.Command{
		ShortHelp: ":D",
		Handler: func(string) error {
			d.Message(":D")
			return nil
		},
	})
	d.SetUnknown(func(cmd, _ string) {
		d.Messagef("Be what? I don't know how to be %s", cmd)
	})
	return d
}

func newConfigDialog(s *Session, say func(string)) *dialog.CommandDialog {
	d := dialog.NewCommandDialog(say)
	d.Register("set", dialog.Command{
		ShortHelp: "change a setting",
		Syntax:    "name value",
		Handler: func(args string) error {
			name, value := dialog.SplitArgs(args)
			if name == "" || value == "" {
				d.CmdSyntax("set", "name value")
				return nil
			}
			if !validConfigKey(name) {
				return fmt.Errorf("unknown setting: %s", name)
			}
			if err := s.configSet(name, value); err != nil {
				return err
			}
			d.Messagef("%s = %s", name, value)
			return nil
		},
	})
	d.Register("show", dialog.Command{
		ShortHelp: "show current settings",
		Syntax:    "[name]",
		Handler: func(args string) error {
			name, _ := dialog.SplitArgs(args)
			if name != "" {
				if !validConfigKey(name) {
					return fmt.Errorf("unknown setting: %s", name)
				}
				d.Message(configLine(s, name))
				return nil
			}
			for _, key := range knownConfigKeys {
				d.Message(configLine(s, key))
			}
			return nil
		},
	})
	return d
}

func validConfigKey(name string) bool {
	for _, key := range knownConfigKeys {
		if key == name {
			return true
		}
	}
	return false
}

func configLine(s *Session, name string) string {
	if v, ok := s.configGet(name); ok {
		return fmt.Sprintf("%s = %s", name, v)
	}
	return fmt.Sprintf("%s = (default)", name)
}

func newDebugDialog(ch *Channel) *dialog.CommandDialog {
	d := dialog.NewCommandDialog(ch.botMsg)
	d.Register("gc", dialog.Command{
		ShortHelp:  "force a garbage collection and report memory usage",
		Importance: dialog.ImportanceDebugging,
		Handler: func(string) error {
			runtime.GC()
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			d.Messagef("heap in use: %d KiB, goroutines: %d",
				m.HeapInuse/1024, runtime.NumGoroutine())
			return nil
		},
	})
	d.Register("recent", dialog.Command{
		ShortHelp:  "inspect the recent-posts history",
		Syntax:     "[nick [substring]]",
		Importance: dialog.ImportanceDebugging,
		Handler: func(args string) error {
			nick, substring := dialog.SplitArgs(args)
			if nick == "" {
				d.Messagef("%d posts in the history of %s", ch.ring.Len(), ch.name)
				return nil
			}
			e, err := ch.recentPostFor(nick, substring, 0)
			if err != nil {
				return err
			}
			if e == nil {
				d.Messagef("no recent post by %s here", nick)
				return nil
			}
			d.Messagef("post %d by %s: %s", e.ID, nick, e.Text)
			return nil
		},
	})
	return d
}

// newBotDialog is the command table behind /MSG passerd-bot.
func newBotDialog(s *Session) *dialog.CommandDialog {
	say := func(text string) {
		s.privmsgFrom(s.bot, s.nickOrStar(), text)
	}
	d := dialog.NewCommandDialog(say)
	d.SetHeader("Passerd commands:")

	d.Register("login", dialog.Command{
		ShortHelp:  "authenticate with your username and password",
		Syntax:     "username password",
		Importance: dialog.ImportanceCommon,
		Handler: func(args string) error {
			username, password := dialog.SplitArgs(args)
			if username == "" || password == "" {
				d.CmdSyntax("login", "username password")
				return nil
			}
			s.loginCommand(username, password, say)
			return nil
		},
	})
	d.Register("setup", dialog.Command{
		ShortHelp:  "where to create your account",
		Importance: dialog.ImportanceCommon,
		Handler: func(string) error {
			say("Join the " + SetupChannelName + " channel and follow the instructions.")
			return nil
		},
	})
	return d
}

// showThread walks a reply chain backwards and replays it oldest-first.
func (ch *Channel) showThread(start twitter.Entry) {
	api := ch.s.api
	go func() {
		chain := []twitter.Entry{start}
		next := start.InReplyToStatusID
		for hop := 0; next > 0 && hop < threadMaxHops; hop++ {
			ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
			e, err := api.StatusGet(ctx, next)
			cancel()
			if err != nil {
				break
			}
			chain = append(chain, *e)
			next = e.InReplyToStatusID
		}
		ch.s.post(func() {
			if len(chain) == 1 && start.InReplyToStatusID == 0 {
				ch.botMsg("that post is not a reply to anything")
				return
			}
			for i := len(chain) - 1; i >= 0; i-- {
				e := chain[i]
				if a := e.Author(); a != nil {
					ch.s.cacheUser(a)
				}
				ch.printEntry(entryAuthor(&e), e.Text)
			}
		})
	}()
}
