// Package twitter implements the HTTP client for the remote microblogging
// API: timelines, direct messages, the follow graph, status updates and the
// delegated-authorization handshake. Sessions drive it from goroutines off
// their event loop; the client itself is safe for concurrent use.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/oauth1"
)

// DefaultBaseURL is the API root used when none is configured.
const DefaultBaseURL = "https://api.twitter.com/1"

// APITimeout bounds every request to the remote service. A timed-out request
// surfaces as an ordinary error.
const APITimeout = 60 * time.Second

// API is the surface the rest of the daemon programs against. Cursored
// listings return the next cursor; CursorDone marks the final page.
type API interface {
	HomeTimeline(ctx context.Context, p Params) ([]Entry, error)
	Mentions(ctx context.Context, p Params) ([]Entry, error)
	DirectMessages(ctx context.Context, p Params) ([]Entry, error)
	UserTimeline(ctx context.Context, screenName string, p Params) ([]Entry, error)
	ListTimeline(ctx context.Context, owner, list string, p Params) ([]Entry, error)

	FriendsIDs(ctx context.Context, screenName, cursor string) ([]int64, string, error)
	ListFriends(ctx context.Context, screenName, cursor string) ([]User, string, error)
	ListMembers(ctx context.Context, owner, list, cursor string) ([]User, string, error)

	FollowUser(ctx context.Context, screenName string) (*User, error)
	UnfollowUser(ctx context.Context, screenName string) (*User, error)
	ShowUser(ctx context.Context, screenName string) (*User, error)
	ReportSpam(ctx context.Context, screenName string) (*User, error)

	StatusGet(ctx context.Context, id int64) (*Entry, error)
	Update(ctx context.Context, text string, inReplyTo int64) (*Entry, error)
	Retweet(ctx context.Context, id int64) (*Entry, error)
	SendDirectMessage(ctx context.Context, screenName, text string) (*Entry, error)

	VerifyCredentials(ctx context.Context) (*User, error)
	RateLimit() RateLimit
}

// Client talks to the remote API over HTTP. Build one with
// NewBasicAuthClient or NewTokenClient.
type Client struct {
	baseURL string
	http    *http.Client

	// basic-auth credentials; empty when the client signs with OAuth.
	username string
	password string

	// observe, when set, sees the outcome of every request.
	observe func(err error)

	mu   sync.Mutex
	rate RateLimit
}

// SetObserver installs a callback receiving the outcome of every request.
// Must be called before the client is used.
func (c *Client) SetObserver(fn func(err error)) {
	c.observe = fn
}

// NewBasicAuthClient builds a client that authenticates every request with
// HTTP basic auth. Used only during login to verify credentials before a
// delegated token exists.
func NewBasicAuthClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: APITimeout},
		username: username,
		password: password,
	}
}

// NewTokenClient builds a client that signs every request with the given
// delegated token pair (OAuth 1.0a, HMAC-SHA1).
func NewTokenClient(baseURL string, consumer *oauth1.Config, token, tokenSecret string) *Client {
	httpClient := consumer.Client(oauth1.NoContext, oauth1.NewToken(token, tokenSecret))
	httpClient.Timeout = APITimeout
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// RateLimit returns the quota snapshot from the most recent response.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

func (p Params) values() url.Values {
	v := url.Values{}
	if p.SinceID > 0 {
		v.Set("since_id", strconv.FormatInt(p.SinceID, 10))
	}
	if p.Count > 0 {
		v.Set("count", strconv.Itoa(p.Count))
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	return v
}

func (c *Client) HomeTimeline(ctx context.Context, p Params) ([]Entry, error) {
	return c.timeline(ctx, "/statuses/home_timeline.json", p.values())
}

func (c *Client) Mentions(ctx context.Context, p Params) ([]Entry, error) {
	return c.timeline(ctx, "/statuses/mentions.json", p.values())
}

func (c *Client) DirectMessages(ctx context.Context, p Params) ([]Entry, error) {
	return c.timeline(ctx, "/direct_messages.json", p.values())
}

func (c *Client) UserTimeline(ctx context.Context, screenName string, p Params) ([]Entry, error) {
	v := p.values()
	v.Set("screen_name", screenName)
	return c.timeline(ctx, "/statuses/user_timeline.json", v)
}

func (c *Client) ListTimeline(ctx context.Context, owner, list string, p Params) ([]Entry, error) {
	path := fmt.Sprintf("/%s/lists/%s/statuses.json", url.PathEscape(owner), url.PathEscape(list))
	return c.timeline(ctx, path, p.values())
}

func (c *Client) timeline(ctx context.Context, path string, v url.Values) ([]Entry, error) {
	var entries []Entry
	if err := c.get(ctx, path, v, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) FriendsIDs(ctx context.Context, screenName, cursor string) ([]int64, string, error) {
	v := url.Values{}
	v.Set("screen_name", screenName)
	v.Set("cursor", cursor)
	var page cursorPage
	if err := c.get(ctx, "/friends/ids.json", v, &page); err != nil {
		return nil, "", err
	}
	return page.IDs, page.NextCursor, nil
}

func (c *Client) ListFriends(ctx context.Context, screenName, cursor string) ([]User, string, error) {
	v := url.Values{}
	v.Set("cursor", cursor)
	path := fmt.Sprintf("/statuses/friends/%s.json", url.PathEscape(screenName))
	var page cursorPage
	if err := c.get(ctx, path, v, &page); err != nil {
		return nil, "", err
	}
	return page.Users, page.NextCursor, nil
}

func (c *Client) ListMembers(ctx context.Context, owner, list, cursor string) ([]User, string, error) {
	v := url.Values{}
	v.Set("cursor", cursor)
	path := fmt.Sprintf("/%s/%s/members.json", url.PathEscape(owner), url.PathEscape(list))
	var page cursorPage
	if err := c.get(ctx, path, v, &page); err != nil {
		return nil, "", err
	}
	return page.Users, page.NextCursor, nil
}

func (c *Client) FollowUser(ctx context.Context, screenName string) (*User, error) {
	return c.userPost(ctx, fmt.Sprintf("/friendships/create/%s.json", url.PathEscape(screenName)), nil)
}

func (c *Client) UnfollowUser(ctx context.Context, screenName string) (*User, error) {
	return c.userPost(ctx, fmt.Sprintf("/friendships/destroy/%s.json", url.PathEscape(screenName)), nil)
}

func (c *Client) ShowUser(ctx context.Context, screenName string) (*User, error) {
	var u User
	path := fmt.Sprintf("/users/show/%s.json", url.PathEscape(screenName))
	if err := c.get(ctx, path, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) ReportSpam(ctx context.Context, screenName string) (*User, error) {
	v := url.Values{}
	v.Set("screen_name", screenName)
	return c.userPost(ctx, "/report_spam.json", v)
}

func (c *Client) userPost(ctx context.Context, path string, v url.Values) (*User, error) {
	var u User
	if err := c.post(ctx, path, v, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) StatusGet(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	path := fmt.Sprintf("/statuses/show/%d.json", id)
	if err := c.get(ctx, path, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) Update(ctx context.Context, text string, inReplyTo int64) (*Entry, error) {
	v := url.Values{}
	v.Set("status", text)
	if inReplyTo > 0 {
		v.Set("in_reply_to_status_id", strconv.FormatInt(inReplyTo, 10))
	}
	var e Entry
	if err := c.post(ctx, "/statuses/update.json", v, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) Retweet(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	path := fmt.Sprintf("/statuses/retweet/%d.json", id)
	if err := c.post(ctx, path, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, screenName, text string) (*Entry, error) {
	v := url.Values{}
	v.Set("screen_name", screenName)
	v.Set("text", text)
	var e Entry
	if err := c.post(ctx, "/direct_messages/new.json", v, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) VerifyCredentials(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "/account/verify_credentials.json", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) get(ctx context.Context, path string, v url.Values, out any) error {
	u := c.baseURL + path
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("twitter: building request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, v url.Values, out any) error {
	body := ""
	if v != nil {
		body = v.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("twitter: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	err := c.doRequest(req, out)
	if c.observe != nil {
		c.observe(err)
	}
	return err
}

func (c *Client) doRequest(req *http.Request, out any) error {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twitter: request failed: %w", err)
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("twitter: decoding response: %w", err)
	}
	return nil
}

// updateRateLimit refreshes the quota snapshot from the X-RateLimit response
// headers. Responses without them leave the previous snapshot untouched.
func (c *Client) updateRateLimit(h http.Header) {
	limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err != nil {
		return
	}
	remaining, _ := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	resetUnix, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)

	c.mu.Lock()
	c.rate = RateLimit{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(resetUnix, 0),
	}
	c.mu.Unlock()
}
