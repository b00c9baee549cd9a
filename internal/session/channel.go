package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ehabkost/passerd/internal/dialog"
	"github.com/ehabkost/passerd/internal/feeds"
	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/scheduler"
	"github.com/ehabkost/passerd/internal/throttle"
	"github.com/ehabkost/passerd/internal/twitter"
)

type chanKind int

const (
	chanHome chanKind = iota
	chanMentions
	chanList
	chanUser
	chanSetup
)

type feedSlot struct {
	feed *feeds.Feed
	slot *scheduler.Handle
}

// Channel presents one remote timeline (or the setup flow) as an IRC channel.
type Channel struct {
	s    *Session
	kind chanKind
	name string

	owner string // chanList
	list  string // chanList
	user  string // chanUser

	joined bool
	ring   *recentRing
	slots  []*feedSlot
	cmds   *dialog.CommandDialog
	setup  *setupDialog

	// forced marks a user-requested refresh so a quiet result is reported.
	forced bool
}

func newChannel(s *Session, kind chanKind, name string) *Channel {
	ch := &Channel{
		s:    s,
		kind: kind,
		name: name,
		ring: newRecentRing(ReplyHistorySize),
	}
	if kind == chanSetup {
		ch.setup = newSetupDialog(s, ch)
	} else {
		ch.cmds = newChannelCommands(s, ch)
	}
	return ch
}

func newUserChannel(s *Session, name, user string) *Channel {
	ch := newChannel(s, chanUser, name)
	ch.user = user
	return ch
}

func newListChannel(s *Session, name, owner, list string) *Channel {
	ch := newChannel(s, chanList, name)
	ch.owner = owner
	ch.list = list
	return ch
}

func (ch *Channel) topic() string {
	switch ch.kind {
	case chanHome:
		return "Passerd -- Twitter home timeline channel"
	case chanMentions:
		return "Passerd -- Twitter mentions channel"
	case chanUser:
		return fmt.Sprintf("Passerd -- @%s timeline channel", ch.user)
	case chanList:
		return fmt.Sprintf("Passerd -- @%s/%s list channel", ch.owner, ch.list)
	case chanSetup:
		return "Passerd -- New user setup channel. Just follow the instructions from the bot"
	default:
		return ""
	}
}

// join admits the user. Timeline channels are gated on authentication; the
// setup channel is always open.
func (ch *Channel) join() error {
	if ch.joined {
		return nil
	}
	if ch.kind != chanSetup && !ch.s.authenticated() {
		return NewErrorReply(irc.ERR_NEEDREGGEDNICK, ch.name,
			"You need to be identified to join that channel")
	}
	ch.joined = true
	ch.s.channelJoined(ch)
	ch.s.sendFrom(ch.s.user, irc.CmdJoin, ch.name)
	ch.sendTopic()
	ch.sendNames()
	ch.start()
	return nil
}

func (ch *Channel) part(reason string) {
	if !ch.joined {
		return
	}
	if reason == "" {
		ch.s.sendFrom(ch.s.user, irc.CmdPart, ch.name)
	} else {
		ch.s.sendFrom(ch.s.user, irc.CmdPart, ch.name, reason)
	}
	ch.stop()
}

// stop halts refreshing and drops the channel from the joined set. Feeds stay
// around with their watermarks so a re-join resumes incrementally.
func (ch *Channel) stop() {
	ch.joined = false
	ch.s.channelLeft(ch)
	for _, fs := range ch.slots {
		if fs.slot != nil {
			fs.slot.Destroy()
			fs.slot = nil
		}
	}
}

func (ch *Channel) start() {
	if ch.kind == chanSetup {
		ch.setup.begin()
		return
	}
	if len(ch.slots) == 0 {
		ch.createFeeds()
	}
	for _, fs := range ch.slots {
		if fs.slot == nil {
			fs.slot = ch.s.sched.Register(fs.feed.Refresh)
		}
	}
}

func (ch *Channel) createFeeds() {
	switch ch.kind {
	case chanHome:
		ch.addFeed(feeds.KindHome)
	case chanMentions:
		ch.addFeed(feeds.KindMentions)
	case chanUser:
		ch.addFeed(feeds.KindUser)
	case chanList:
		ch.addFeed(feeds.KindList)
	}
}

func (ch *Channel) addFeed(kind feeds.Kind) {
	fs := &feedSlot{}
	f, err := feeds.New(feeds.Config{
		Kind:  kind,
		User:  ch.user,
		Owner: ch.owner,
		List:  ch.list,
		API:   ch.s.api,
		Vars:  ch.s.vars(),
		Log:   ch.s.log,
		Post:  ch.s.post,
		Resched: func() {
			if fs.slot != nil {
				fs.slot.Resched()
			}
		},
		OnRateLimit: ch.waitRateLimit,
		Report:      ch.feedNotice,
		OnRefreshed: ch.refreshed,
	})
	if err != nil {
		ch.s.log.Error("creating feed failed", zap.String("channel", ch.name), zap.Error(err))
		ch.botNotice(fmt.Sprintf("error setting up this channel's feed: %v", err))
		return
	}
	f.OnEntry(func(e twitter.Entry) error {
		ch.gotEntry(e)
		return nil
	})
	fs.feed = f
	ch.slots = append(ch.slots, fs)
}

// feedNotice styles the throttled error stream for the channel.
func (ch *Channel) feedNotice(n throttle.Notice) {
	if n.Kind != throttle.KindError {
		ch.botNotice(n.Text)
		return
	}
	if twitter.IsOverCapacity(n.Err) {
		ch.botNotice(fmt.Sprintf("Look! A flying whale! -- %s", n.Text))
		return
	}
	ch.botNotice("error refreshing feed: " + n.Text)
}

func (ch *Channel) waitRateLimit(reset time.Time) {
	ch.botMsg(fmt.Sprintf(
		"Ouch, the limit of requests per hour has been reached. I will wait until %s to refresh this feed again.",
		reset.Format("15:04:05")))
	ch.s.waitRateLimit(reset)
}

func (ch *Channel) refreshed(n int) {
	if !ch.forced {
		return
	}
	ch.forced = false
	if n == 0 {
		ch.botMsg("people are quiet...")
	}
}

// ---- entry display ----

// gotEntry handles one new feed entry: both the entry and, for retweets, the
// wrapped original go into the recent ring, so commands can reference either
// the retweeter's or the original author's post.
func (ch *Channel) gotEntry(e twitter.Entry) {
	if a := e.Author(); a != nil {
		ch.s.cacheUser(a)
	}
	ch.ring.Add(e)
	if e.RetweetedStatus != nil {
		ch.printRetweet(e)
		return
	}
	ch.printEntry(entryAuthor(&e), e.Text)
}

func (ch *Channel) printRetweet(e twitter.Entry) {
	rt := *e.RetweetedStatus
	if a := rt.Author(); a != nil {
		ch.s.cacheUser(a)
	}
	ch.ring.Add(rt)

	orig := entryAuthor(&rt)
	retweeter := entryAuthor(&e)
	if ch.s.configBool("rt_inline", false) {
		ch.printEntry(orig, formatInlineRetweet(rt.Text, retweeter.nick))
		return
	}
	ch.printEntry(orig, rt.Text)
	ch.botMsg(formatRetweetNotice("@"+orig.nick, "@"+retweeter.nick))
}

func (ch *Channel) printEntry(from userInfo, text string) {
	for _, line := range entryLines(text, ch.s.configBool("multiline", false)) {
		ch.s.privmsgFrom(from, ch.name, line)
	}
}

func (ch *Channel) botMsg(text string) {
	ch.s.privmsgFrom(ch.s.bot, ch.name, text)
}

func (ch *Channel) botNotice(text string) {
	ch.s.noticeFrom(ch.s.bot, ch.name, text)
}

// ---- inbound messages ----

func (ch *Channel) messageReceived(text string) error {
	if ch.kind == chanSetup {
		ch.setup.recv(text)
		return nil
	}
	if strings.HasPrefix(text, "!") {
		ch.commandReceived(text[1:])
		return nil
	}
	if ch.s.configBool("careful", false) {
		if handled, _ := ch.cmds.TryMsg(text); handled {
			return nil
		}
		ch.botNotice("I Can't Hear You! Use !tw to post, or disable careful mode using `!be brave`")
		return nil
	}
	return ch.doSendPost(text)
}

// actionReceived posts a CTCP ACTION as "/me text". Actions are deliberate
// enough to bypass careful mode.
func (ch *Channel) actionReceived(payload string) error {
	if ch.kind == chanSetup {
		return nil
	}
	return ch.postUpdate("/me "+payload, 0)
}

// commandReceived handles everything after the "!" marker. A bare "!" forces
// a refresh; "!!" also resets the watermarks so the full page is refetched.
func (ch *Channel) commandReceived(cmd string) {
	switch strings.TrimSpace(cmd) {
	case "":
		ch.forceRefresh(false)
	case "!":
		ch.forceRefresh(true)
	default:
		ch.cmds.Recv(cmd)
	}
}

func (ch *Channel) forceRefresh(reset bool) {
	if len(ch.slots) == 0 {
		ch.botNotice("nothing to refresh here")
		return
	}
	ch.forced = true
	for _, fs := range ch.slots {
		if reset {
			if err := fs.feed.ResetWatermark(); err != nil {
				ch.s.log.Warn("watermark reset failed", zap.Error(err))
			}
		}
		fs.feed.Refresh()
	}
}

// ---- posting ----

// doSendPost publishes channel text as a status update, threading it as a
// reply when it starts with someone's nick and that someone posted recently.
func (ch *Channel) doSendPost(text string) error {
	text = strings.TrimSpace(text)
	var inReplyTo int64
	if nick, normalized, ok := parseReplyTarget(text); ok {
		text = normalized
		if e, err := ch.recentPostFor(nick, "", MinLatestPostAge); err == nil && e != nil {
			inReplyTo = e.ID
		}
	}
	return ch.postUpdate(text, inReplyTo)
}

func (ch *Channel) postUpdate(text string, inReplyTo int64) error {
	if n := len([]rune(text)); n > LengthLimit {
		return NewErrorReply(irc.ERR_CANNOTSENDTOCHAN, ch.name,
			(&MessageTooLongError{Length: n}).Error())
	}
	if err := ch.s.requireAuth("posting"); err != nil {
		return err
	}
	nick := ch.s.user.nick
	apiCall(ch.s, func(ctx context.Context) (*twitter.Entry, error) {
		return ch.s.api.Update(ctx, text, inReplyTo)
	}, func(e *twitter.Entry, err error) {
		if err != nil {
			ch.botMsg(fmt.Sprintf("%s: error while posting: %v", nick, err))
			return
		}
		ch.botNotice("Twitter update posted!")
	})
	return nil
}

// recentPostFor finds the post a user command refers to: the author's newest
// ring entry, or the single one matching a substring. Ambiguity and
// too-recent posts are errors the dialogs relay verbatim.
func (ch *Channel) recentPostFor(nick, substring string, minAge time.Duration) (*twitter.Entry, error) {
	id, _ := ch.s.lookupUser(nick)
	if id == 0 {
		return nil, nil
	}
	if substring != "" {
		matches := ch.ring.Match(id, substring)
		switch len(matches) {
		case 0:
			return nil, nil
		case 1:
			e := matches[0]
			return &e, nil
		default:
			return nil, fmt.Errorf("multiple matches for [%s] on posts by %s", substring, nick)
		}
	}
	e := ch.ring.Latest(id)
	if e == nil {
		return nil, nil
	}
	if minAge > 0 && !e.CreatedAt.IsZero() {
		if ch.s.clock.Now().Sub(e.CreatedAt.Time) < minAge {
			return nil, fmt.Errorf(
				"the latest post by %s is too recent; use a substring to identify the post", nick)
		}
	}
	return e, nil
}

func (ch *Channel) sendTopic() {
	t := ch.topic()
	if t == "" {
		ch.s.reply(irc.RPL_NOTOPIC, ch.name, "No topic is set")
		return
	}
	ch.s.reply(irc.RPL_TOPIC, ch.name, t)
}

// ---- membership ----

// sendNames announces the channel membership. The connected user and the bot
// go out immediately; the follow graph of the home channel and the roster of
// list channels arrive asynchronously, chunked to keep lines short.
func (ch *Channel) sendNames() {
	base := []string{"@" + ch.s.user.nick, "@" + ch.s.bot.nick}
	switch ch.kind {
	case chanHome:
		ch.sendNamesChunks(base, false)
		ch.fetchHomeMembers()
	case chanList:
		ch.sendNamesChunks(base, false)
		ch.fetchListMembers()
	case chanUser:
		ch.sendNamesChunks(append(base, ch.user), true)
	default:
		ch.sendNamesChunks(base, true)
	}
}

func (ch *Channel) sendNamesChunks(names []string, end bool) {
	for start := 0; start < len(names); start += namesChunkSize {
		stop := min(start+namesChunkSize, len(names))
		ch.s.reply(irc.RPL_NAMREPLY, "=", ch.name, strings.Join(names[start:stop], " "))
	}
	if end {
		ch.s.reply(irc.RPL_ENDOFNAMES, ch.name, "End of /NAMES list")
	}
}

func (ch *Channel) endNamesWithError(err error) {
	ch.botNotice(fmt.Sprintf("error fetching the member list: %v", err))
	ch.s.reply(irc.RPL_ENDOFNAMES, ch.name, "End of /NAMES list")
}

// fetchHomeMembers walks the full friends-ids listing, then resolves ids to
// nicks through the identity cache.
func (ch *Channel) fetchHomeMembers() {
	api := ch.s.api
	screenName := ch.s.remote.ScreenName
	go func() {
		var ids []int64
		cursor := "-1"
		for {
			page, next, err := friendsIDsPage(api, screenName, cursor)
			if err != nil {
				ch.s.post(func() { ch.endNamesWithError(err) })
				return
			}
			ids = append(ids, page...)
			if next == "" || next == twitter.CursorDone {
				break
			}
			cursor = next
		}
		ch.s.post(func() { ch.resolveMembers(ids) })
	}()
}

func friendsIDsPage(api twitter.API, screenName, cursor string) ([]int64, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
	defer cancel()
	return api.FriendsIDs(ctx, screenName, cursor)
}

// resolveMembers maps friend ids to nicks. Ids the cache has never seen are
// backfilled from the profile listing, within a request cap; whatever is
// still unknown gets a placeholder nick.
func (ch *Channel) resolveMembers(ids []int64) {
	var known []string
	var unknown []int64
	for _, id := range ids {
		info, err := ch.s.cfg.Identity.LookupByID(id)
		if err != nil || info == nil {
			unknown = append(unknown, id)
			continue
		}
		known = append(known, info.ScreenName)
	}
	if len(unknown) == 0 {
		ch.sendNamesChunks(known, true)
		return
	}
	ch.backfillMembers(known, unknown)
}

func (ch *Channel) backfillMembers(known []string, unknown []int64) {
	api := ch.s.api
	screenName := ch.s.remote.ScreenName
	go func() {
		fetched := map[int64]twitter.User{}
		cursor := "-1"
		for page := 0; page < MaxFriendPageReqs; page++ {
			ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
			users, next, err := api.ListFriends(ctx, screenName, cursor)
			cancel()
			if err != nil {
				break
			}
			for _, u := range users {
				fetched[u.ID] = u
			}
			if next == "" || next == twitter.CursorDone {
				break
			}
			cursor = next
		}
		ch.s.post(func() {
			names := known
			for _, id := range unknown {
				u, ok := fetched[id]
				if !ok {
					names = append(names, userByRemoteID(id).nick)
					continue
				}
				ch.s.cacheUser(&u)
				names = append(names, u.ScreenName)
			}
			ch.sendNamesChunks(names, true)
		})
	}()
}

// fetchListMembers pages through the list roster, which carries full user
// objects.
func (ch *Channel) fetchListMembers() {
	api := ch.s.api
	owner, list := ch.owner, ch.list
	go func() {
		var members []twitter.User
		cursor := "-1"
		for page := 0; page < MaxFriendPageReqs; page++ {
			ctx, cancel := context.WithTimeout(context.Background(), twitter.APITimeout)
			users, next, err := api.ListMembers(ctx, owner, list, cursor)
			cancel()
			if err != nil {
				ch.s.post(func() { ch.endNamesWithError(err) })
				return
			}
			members = append(members, users...)
			if next == "" || next == twitter.CursorDone {
				break
			}
			cursor = next
		}
		ch.s.post(func() {
			names := make([]string, 0, len(members))
			for i := range members {
				ch.s.cacheUser(&members[i])
				names = append(names, members[i].ScreenName)
			}
			ch.sendNamesChunks(names, true)
		})
	}()
}
