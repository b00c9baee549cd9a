package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/textenc"
	"github.com/ehabkost/passerd/internal/twitter"
)

func (s *Session) handleQuit(msg irc.Message) error {
	reason := msg.Trailing()
	if reason == "" {
		reason = "Client quit"
	}
	s.userQuit(reason)
	s.serverMessage("ERROR", "Closing Link: "+reason)
	s.shutdown()
	return nil
}

func (s *Session) handleJoin(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdJoin, "Not enough parameters")
	}
	for _, name := range strings.Split(msg.Param(0), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ch, err := s.getOrCreateChannel(name)
		if err != nil {
			return err
		}
		if err := ch.join(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handlePart(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdPart, "Not enough parameters")
	}
	reason := msg.Param(1)
	for _, name := range strings.Split(msg.Param(0), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ch := s.channel(name)
		if ch == nil {
			return NewErrorReply(irc.ERR_NOSUCHCHANNEL, name, "No such channel")
		}
		if !ch.joined {
			return NewErrorReply(irc.ERR_NOTONCHANNEL, name, "You're not on that channel")
		}
		ch.part(reason)
	}
	return nil
}

func (s *Session) handlePrivmsg(msg irc.Message) error {
	if len(msg.Params) < 2 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdPrivmsg, "Not enough parameters")
	}
	target, text := msg.Param(0), msg.Param(1)

	if strings.HasPrefix(target, "#") {
		ch := s.channel(target)
		if ch == nil {
			return NewErrorReply(irc.ERR_NOSUCHCHANNEL, target, "No such channel")
		}
		if !ch.joined {
			return NewErrorReply(irc.ERR_NOTONCHANNEL, target, "You're not on that channel")
		}
		if tag, payload, ok := irc.DecodeCTCP(text); ok {
			if tag == irc.CTCPAction {
				return ch.actionReceived(payload)
			}
			return nil
		}
		return ch.messageReceived(text)
	}

	if strings.EqualFold(target, s.bot.nick) {
		if _, _, ok := irc.DecodeCTCP(text); ok {
			return nil
		}
		s.botDialog.Recv(text)
		return nil
	}

	return s.sendDirectMessage(target, text)
}

// sendDirectMessage delivers a private message to a remote user. Errors come
// back as RPL_AWAY lines so clients show them in the query window.
func (s *Session) sendDirectMessage(nick, text string) error {
	if !s.authenticated() {
		return NewErrorReply(irc.ERR_NOSUCHNICK, nick, "No such nick/channel")
	}
	if len([]rune(text)) > LengthLimit {
		s.reply(irc.RPL_AWAY, nick, fmt.Sprintf("Error sending Direct Message: %v",
			&MessageTooLongError{Length: len([]rune(text))}))
		return nil
	}
	apiCall(s, func(ctx context.Context) (*twitter.Entry, error) {
		return s.api.SendDirectMessage(ctx, nick, text)
	}, func(e *twitter.Entry, err error) {
		if err != nil {
			s.reply(irc.RPL_AWAY, nick, fmt.Sprintf("Error sending Direct Message: %v", err))
			return
		}
		s.notice(fmt.Sprintf("Direct Message to %s sent. ID: %d", nick, e.ID))
	})
	return nil
}

func (s *Session) handleMode(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdMode, "Not enough parameters")
	}
	target := msg.Param(0)

	if !strings.HasPrefix(target, "#") {
		// the user has no settable modes
		if msg.Param(1) != "" {
			return NewErrorReply(irc.ERR_UNKNOWNMODE, msg.Param(1), "is unknown mode char to me")
		}
		return nil
	}

	ch := s.channel(target)
	if ch == nil {
		return NewErrorReply(irc.ERR_NOSUCHCHANNEL, target, "No such channel")
	}
	flags := msg.Param(1)
	if flags == "" {
		s.reply(irc.RPL_CHANNELMODEIS, ch.name, "+")
		return nil
	}
	for _, f := range strings.TrimLeft(flags, "+-") {
		if f != 'b' {
			return NewErrorReply(irc.ERR_UNKNOWNMODE, string(f), "is unknown mode char to me")
		}
	}
	// ban list queries always come back empty
	s.reply(irc.RPL_ENDOFBANLIST, ch.name, "End of channel ban list")
	return nil
}

func (s *Session) handleTopic(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdTopic, "Not enough parameters")
	}
	ch := s.channel(msg.Param(0))
	if ch == nil {
		return NewErrorReply(irc.ERR_NOSUCHCHANNEL, msg.Param(0), "No such channel")
	}
	if len(msg.Params) > 1 {
		return NewErrorReply(irc.ERR_NOPRIVILEGES, "Channel topics are fixed")
	}
	ch.sendTopic()
	return nil
}

func (s *Session) handleNames(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdNames, "Not enough parameters")
	}
	ch := s.channel(msg.Param(0))
	if ch == nil {
		return NewErrorReply(irc.ERR_NOSUCHCHANNEL, msg.Param(0), "No such channel")
	}
	ch.sendNames()
	return nil
}

func (s *Session) handleWho(msg irc.Message) error {
	mask := msg.Param(0)
	for _, u := range s.whoMatches(mask) {
		s.reply(irc.RPL_WHOREPLY, "*", u.username, u.host, s.cfg.ServerName,
			u.nick, "H", "0 "+u.realName)
	}
	s.reply(irc.RPL_ENDOFWHO, mask, "End of /WHO list")
	return nil
}

func (s *Session) whoMatches(mask string) []userInfo {
	if strings.HasPrefix(mask, "#") {
		ch := s.channel(mask)
		if ch == nil || !ch.joined {
			return nil
		}
		return []userInfo{s.user, s.bot}
	}
	switch {
	case strings.EqualFold(mask, s.user.nick):
		return []userInfo{s.user}
	case strings.EqualFold(mask, s.bot.nick):
		return []userInfo{s.bot}
	case s.authenticated():
		if _, info := s.lookupUser(mask); info != nil {
			return []userInfo{twitterUser(info.ScreenName, info.DisplayName)}
		}
		return []userInfo{unknownTwitterUser(mask)}
	default:
		return nil
	}
}

// handleWhois answers with the remote profile: the standard 311/318 pair plus
// RPL_AWAY lines carrying the profile fields, which every client renders in
// the WHOIS output.
func (s *Session) handleWhois(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdWhois, "Not enough parameters")
	}
	if err := s.requireAuth(irc.CmdWhois); err != nil {
		return err
	}
	nick := msg.Param(0)
	apiCall(s, func(ctx context.Context) (*twitter.User, error) {
		return s.api.ShowUser(ctx, nick)
	}, func(u *twitter.User, err error) {
		if err != nil {
			s.reply(irc.ERR_NOSUCHNICK, nick, "No such nick/channel")
			return
		}
		s.cacheUser(u)
		s.reply(irc.RPL_WHOISUSER, u.ScreenName, u.ScreenName, TwitterUsersHost, "*", u.Name)
		whoisLine := func(format string, args ...any) {
			s.reply(irc.RPL_AWAY, u.ScreenName, fmt.Sprintf(format, args...))
		}
		if u.Location != "" {
			whoisLine("Location: %s", u.Location)
		}
		if u.URL != "" {
			whoisLine("URL: %s", u.URL)
		}
		if u.Description != "" {
			whoisLine("Bio: %s", textenc.FullEntityDecode(u.Description))
		}
		if u.Status != nil {
			whoisLine("Last update: %s", textenc.FullEntityDecode(u.Status.Text))
		}
		whoisLine("Twitter URL: http://twitter.com/%s", u.ScreenName)
		s.reply(irc.RPL_ENDOFWHOIS, u.ScreenName, "End of /WHOIS list")
	})
	return nil
}

func (s *Session) handleUserhost(msg irc.Message) error {
	if len(msg.Params) < 1 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdUserhost, "Not enough parameters")
	}
	nicks := msg.Params
	if len(nicks) > 5 {
		nicks = nicks[:5]
	}
	var out []string
	for _, nick := range nicks {
		var u userInfo
		switch {
		case strings.EqualFold(nick, s.user.nick):
			u = s.user
		case strings.EqualFold(nick, s.bot.nick):
			u = s.bot
		default:
			continue
		}
		out = append(out, fmt.Sprintf("%s=+%s@%s", u.nick, u.username, u.host))
	}
	s.reply(irc.RPL_USERHOST, strings.Join(out, " "))
	return nil
}

// handleInvite follows a user: inviting someone to the home channel is the
// IRC spelling of following them.
func (s *Session) handleInvite(msg irc.Message) error {
	if len(msg.Params) < 2 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdInvite, "Not enough parameters")
	}
	if err := s.requireAuth(irc.CmdInvite); err != nil {
		return err
	}
	nick, chName := msg.Param(0), msg.Param(1)
	ch := s.channel(chName)
	if ch == nil || ch.kind != chanHome {
		return NewErrorReply(irc.ERR_NOSUCHCHANNEL, chName, "No such channel")
	}
	apiCall(s, func(ctx context.Context) (*twitter.User, error) {
		return s.api.FollowUser(ctx, nick)
	}, func(u *twitter.User, err error) {
		if err != nil {
			s.reply(irc.ERR_UNAVAILRESOURCE, nick,
				fmt.Sprintf("Error following %s: %v", nick, err))
			return
		}
		s.cacheUser(u)
		s.reply(irc.RPL_INVITING, u.ScreenName, ch.name)
		if ch.joined {
			s.sendFrom(twitterUser(u.ScreenName, u.Name), irc.CmdJoin, ch.name)
		}
	})
	return nil
}

// handleKick unfollows a user and echoes the kick back once the API call
// succeeds.
func (s *Session) handleKick(msg irc.Message) error {
	if len(msg.Params) < 2 {
		return NewErrorReply(irc.ERR_NEEDMOREPARAMS, irc.CmdKick, "Not enough parameters")
	}
	if err := s.requireAuth(irc.CmdKick); err != nil {
		return err
	}
	chName, nick, reason := msg.Param(0), msg.Param(1), msg.Param(2)
	ch := s.channel(chName)
	if ch == nil || ch.kind != chanHome {
		return NewErrorReply(irc.ERR_NOSUCHCHANNEL, chName, "No such channel")
	}
	if reason == "" {
		reason = nick
	}
	apiCall(s, func(ctx context.Context) (*twitter.User, error) {
		return s.api.UnfollowUser(ctx, nick)
	}, func(u *twitter.User, err error) {
		if err != nil {
			s.reply(irc.ERR_UNAVAILRESOURCE, nick,
				fmt.Sprintf("Error unfollowing %s: %v", nick, err))
			return
		}
		s.cacheUser(u)
		if ch.joined {
			s.sendFrom(s.user, irc.CmdKick, ch.name, u.ScreenName, reason)
		}
	})
	return nil
}

func (s *Session) handleAway(msg irc.Message) error {
	if msg.Trailing() == "" {
		s.reply(irc.RPL_UNAWAY, "You are no longer marked as being away")
	} else {
		s.reply(irc.RPL_NOWAWAY, "You have been marked as being away")
	}
	return nil
}

func (s *Session) sendMOTD() {
	s.reply(irc.RPL_MOTDSTART, fmt.Sprintf("- %s Message of the day - ", s.cfg.ServerName))
	url := s.cfg.ProjectURL
	if url == "" {
		url = "https://github.com/ehabkost/passerd"
	}
	for _, line := range []string{
		"Welcome to Passerd, the IRC gateway to your Twitter timelines.",
		"Join #twitter for your home timeline and #mentions for replies.",
		"Message " + BotNick + " or type !help on a channel for commands.",
		"Project page: " + url,
	} {
		s.reply(irc.RPL_MOTD, "- "+line)
	}
	s.reply(irc.RPL_ENDOFMOTD, "End of /MOTD command")
}
