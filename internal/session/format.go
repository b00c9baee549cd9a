package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ehabkost/passerd/internal/textenc"
)

// replyRE matches the conversational reply markers at the start of a channel
// message: "@nick ...", "nick: ..." or "nick, ...". A bare "nick " without
// the @ is ordinary prose, not a reply.
var replyRE = regexp.MustCompile(`^(@?)([a-zA-Z0-9_]+)([:, ])`)

// parseReplyTarget extracts the reply target from message text. normalized
// always carries the leading @, since that is what the remote service threads
// on.
func parseReplyTarget(text string) (nick, normalized string, ok bool) {
	m := replyRE.FindStringSubmatch(text)
	if m == nil {
		return "", text, false
	}
	if m[1] == "" && m[3] == " " {
		return "", text, false
	}
	normalized = text
	if m[1] == "" {
		normalized = "@" + text
	}
	return m[2], normalized, true
}

// entryLines decodes entry text for display. With multiline set, newlines
// split the text into several IRC lines with continuations marked; otherwise
// everything collapses onto one line.
func entryLines(text string, multiline bool) []string {
	text = textenc.FullEntityDecode(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if !multiline {
		return []string{strings.ReplaceAll(text, "\n", " ")}
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(out) > 0 {
			line = "[...] " + line
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

// formatInlineRetweet renders a retweet in the original author's voice with
// a bold attribution tag.
func formatInlineRetweet(text, retweeter string) string {
	return fmt.Sprintf("%s \x02[RT by @%s]\x02", text, retweeter)
}

// formatRetweetNotice is the non-inline rendition, spoken by the bot.
func formatRetweetNotice(author, retweeter string) string {
	return fmt.Sprintf("(%s retweeted by %s)", author, retweeter)
}
