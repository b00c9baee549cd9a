package session

import (
	"fmt"

	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/twitter"
)

// TwitterUsersHost is the hostname shown for remote-service users on the IRC
// side.
const TwitterUsersHost = "twitter.com"

// userInfo is the IRC-visible identity of one participant: the connected
// user, the bot, or a remote-service user presented as a channel member.
type userInfo struct {
	nick     string
	username string
	realName string
	host     string
}

func (u userInfo) prefix() irc.Prefix {
	return irc.Prefix{Name: u.nick, User: u.username, Host: u.host}
}

// fullID renders the nick!user@host form.
func (u userInfo) fullID() string {
	return u.prefix().String()
}

// twitterUser presents a remote user as an IRC participant. The display name
// becomes the IRC real name.
func twitterUser(screenName, displayName string) userInfo {
	return userInfo{
		nick:     screenName,
		username: screenName,
		realName: displayName,
		host:     TwitterUsersHost,
	}
}

// unknownTwitterUser stands in for a screen name nothing is cached about yet.
func unknownTwitterUser(screenName string) userInfo {
	return userInfo{
		nick:     screenName,
		username: screenName,
		realName: "Unknown User",
		host:     TwitterUsersHost,
	}
}

// userByRemoteID presents a remote user known only by id. The placeholder
// nick is replaced as soon as a feed entry or member listing carries the real
// screen name.
func userByRemoteID(id int64) userInfo {
	nick := fmt.Sprintf("user-id-%d", id)
	return userInfo{
		nick:     nick,
		username: nick,
		realName: "Twitter User (info not fetched yet)",
		host:     TwitterUsersHost,
	}
}

// entryAuthor presents an entry's author as an IRC participant.
func entryAuthor(e *twitter.Entry) userInfo {
	a := e.Author()
	if a == nil {
		return unknownTwitterUser("unknown")
	}
	return twitterUser(a.ScreenName, a.Name)
}
