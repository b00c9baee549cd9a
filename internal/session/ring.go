package session

import (
	"strings"

	"github.com/ehabkost/passerd/internal/textenc"
	"github.com/ehabkost/passerd/internal/twitter"
)

// recentRing remembers the last entries shown on a channel so replies,
// retweets and !re can reference them by author. The ring holds at most max
// entries; the per-author index is kept consistent as old entries fall off.
type recentRing struct {
	max      int
	posts    []twitter.Entry
	byAuthor map[int64][]twitter.Entry
}

func newRecentRing(max int) *recentRing {
	return &recentRing{
		max:      max,
		byAuthor: map[int64][]twitter.Entry{},
	}
}

// Add records one displayed entry. Entries without an author are not indexed
// but still occupy a ring slot.
func (r *recentRing) Add(e twitter.Entry) {
	r.posts = append(r.posts, e)
	if len(r.posts) > r.max {
		dropped := r.posts[0]
		r.posts = r.posts[1:]
		r.dropFromIndex(dropped)
	}
	if a := e.Author(); a != nil {
		r.byAuthor[a.ID] = append(r.byAuthor[a.ID], e)
	}
}

func (r *recentRing) dropFromIndex(e twitter.Entry) {
	a := e.Author()
	if a == nil {
		return
	}
	list := r.byAuthor[a.ID]
	if len(list) > 0 && list[0].ID == e.ID {
		list = list[1:]
	}
	if len(list) == 0 {
		delete(r.byAuthor, a.ID)
	} else {
		r.byAuthor[a.ID] = list
	}
}

// Len returns the number of entries currently held.
func (r *recentRing) Len() int {
	return len(r.posts)
}

// Latest returns the author's newest entry in the ring, or nil.
func (r *recentRing) Latest(authorID int64) *twitter.Entry {
	list := r.byAuthor[authorID]
	if len(list) == 0 {
		return nil
	}
	e := list[len(list)-1]
	return &e
}

// Match returns the author's entries whose display text contains substring,
// case-insensitively, newest first.
func (r *recentRing) Match(authorID int64, substring string) []twitter.Entry {
	needle := strings.ToLower(substring)
	var out []twitter.Entry
	list := r.byAuthor[authorID]
	for i := len(list) - 1; i >= 0; i-- {
		text := strings.ToLower(textenc.FullEntityDecode(list[i].Text))
		if strings.Contains(text, needle) {
			out = append(out, list[i])
		}
	}
	return out
}
