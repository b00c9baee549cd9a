package irc

import "strings"

// ctcpDelim wraps CTCP payloads inside PRIVMSG/NOTICE text.
const ctcpDelim = "\x01"

// CTCPAction is the only CTCP tag the daemon interprets.
const CTCPAction = "ACTION"

// DecodeCTCP extracts a CTCP tag and payload from PRIVMSG text. ok is false
// when the text is not a CTCP message.
func DecodeCTCP(text string) (tag, payload string, ok bool) {
	if len(text) < 2 || !strings.HasPrefix(text, ctcpDelim) {
		return "", "", false
	}
	body := strings.TrimPrefix(text, ctcpDelim)
	body = strings.TrimSuffix(body, ctcpDelim)
	tag, payload = body, ""
	if i := strings.IndexByte(body, ' '); i >= 0 {
		tag, payload = body[:i], body[i+1:]
	}
	if tag == "" {
		return "", "", false
	}
	return strings.ToUpper(tag), payload, true
}

// EncodeCTCP wraps a tag and payload in CTCP delimiters.
func EncodeCTCP(tag, payload string) string {
	if payload == "" {
		return ctcpDelim + tag + ctcpDelim
	}
	return ctcpDelim + tag + " " + payload + ctcpDelim
}
