package twitter

import (
	"fmt"
	"strings"

	"github.com/dghubble/oauth1"
)

// OAuthEndpoints are the three URLs of the delegated-authorization handshake.
type OAuthEndpoints struct {
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
}

// DefaultOAuthEndpoints returns the endpoint set rooted at the given API base
// URL.
func DefaultOAuthEndpoints(baseURL string) OAuthEndpoints {
	base := strings.TrimRight(baseURL, "/")
	// The handshake endpoints live one level above the versioned API root.
	if i := strings.LastIndex(base, "/"); i > len("https://") {
		base = base[:i]
	}
	return OAuthEndpoints{
		RequestTokenURL: base + "/oauth/request_token",
		AuthorizeURL:    base + "/oauth/authorize",
		AccessTokenURL:  base + "/oauth/access_token",
	}
}

// OAuthFlow runs the three-legged handshake for one user: fetch a request
// token, send the user to the authorize URL, then trade the PIN they bring
// back for the permanent token pair. One flow instance serves one handshake.
type OAuthFlow struct {
	config *oauth1.Config

	requestToken  string
	requestSecret string
}

// NewOAuthFlow builds a flow from the application's consumer credentials and
// the endpoint set. The out-of-band flavor is used: the authorize page shows
// the user a PIN instead of redirecting anywhere.
func NewOAuthFlow(consumerKey, consumerSecret string, ep OAuthEndpoints) *OAuthFlow {
	return &OAuthFlow{
		config: &oauth1.Config{
			ConsumerKey:    consumerKey,
			ConsumerSecret: consumerSecret,
			CallbackURL:    "oob",
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: ep.RequestTokenURL,
				AuthorizeURL:    ep.AuthorizeURL,
				AccessTokenURL:  ep.AccessTokenURL,
			},
		},
	}
}

// Start fetches a request token and returns the URL the user must visit to
// authorize the application and obtain a PIN.
func (f *OAuthFlow) Start() (authorizeURL string, err error) {
	f.requestToken, f.requestSecret, err = f.config.RequestToken()
	if err != nil {
		return "", fmt.Errorf("twitter: fetching request token: %w", err)
	}
	u, err := f.config.AuthorizationURL(f.requestToken)
	if err != nil {
		return "", fmt.Errorf("twitter: building authorize URL: %w", err)
	}
	return u.String(), nil
}

// Finish trades the PIN the user typed for the permanent token pair.
func (f *OAuthFlow) Finish(pin string) (token, secret string, err error) {
	if f.requestToken == "" {
		return "", "", fmt.Errorf("twitter: handshake not started")
	}
	token, secret, err = f.config.AccessToken(f.requestToken, f.requestSecret, strings.TrimSpace(pin))
	if err != nil {
		return "", "", fmt.Errorf("twitter: trading PIN for access token: %w", err)
	}
	return token, secret, nil
}

// ConsumerConfig returns the oauth1 configuration used to sign API requests
// with a token obtained from this flow's consumer credentials.
func (f *OAuthFlow) ConsumerConfig() *oauth1.Config {
	return f.config
}
