package twitter

import (
	"strconv"
	"time"
)

// createdAtFormat is the timestamp layout used by the remote API, e.g.
// "Wed Sep 01 12:34:56 +0000 2010".
const createdAtFormat = "Mon Jan 02 15:04:05 -0700 2006"

// User is the remote identity attached to entries and follow lists. Status
// carries the user's latest entry on profile lookups.
type User struct {
	ID          int64  `json:"id"`
	ScreenName  string `json:"screen_name"`
	Name        string `json:"name"`
	Protected   bool   `json:"protected"`
	Location    string `json:"location"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Status      *Entry `json:"status,omitempty"`
}

// Time wraps time.Time with the remote API's timestamp layout.
type Time struct {
	time.Time
}

// UnmarshalJSON parses the quoted created_at layout. Empty and null values
// leave the zero time in place.
func (t *Time) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil || s == "" {
		return nil
	}
	parsed, err := time.Parse(createdAtFormat, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Entry is one timeline status or direct message. Entries are immutable once
// decoded; formatting and entity decoding happen downstream.
type Entry struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	CreatedAt Time   `json:"created_at"`

	// User is set on timeline statuses, Sender on direct messages. Author
	// returns whichever applies.
	User   *User `json:"user,omitempty"`
	Sender *User `json:"sender,omitempty"`

	RetweetedStatus   *Entry `json:"retweeted_status,omitempty"`
	InReplyToStatusID int64  `json:"in_reply_to_status_id,omitempty"`
}

// Author returns the entry's author, whether it arrived as a status or as a
// direct message.
func (e *Entry) Author() *User {
	if e.User != nil {
		return e.User
	}
	return e.Sender
}

// Params narrows a timeline request. Zero values are omitted from the query.
type Params struct {
	SinceID int64
	Count   int
	Page    int
}

// RateLimit is the remote API quota snapshot, refreshed from response headers
// on every call.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Known reports whether at least one response has carried quota headers.
func (r RateLimit) Known() bool {
	return !r.Reset.IsZero()
}

// cursorPage is the wire shape of one page of a cursored user listing.
type cursorPage struct {
	IDs        []int64 `json:"ids"`
	Users      []User  `json:"users"`
	NextCursor string  `json:"next_cursor_str"`
	PrevCursor string  `json:"previous_cursor_str"`
}

// CursorDone is the cursor value marking the final page of a paginated
// listing.
const CursorDone = "0"
