package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"golang.org/x/oauth2"
)

// Refresher runs the OAuth refresh-token grant for a principal's credential.
type Refresher struct {
	tokenURL     string
	clientID     string
	clientSecret string
	http         *http.Client
}

var _ goSession.CredentialRefresher = (*Refresher)(nil)

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) RefresherOption {
	return func(r *Refresher) { r.tokenURL = u }
}

// WithDefaultClient sets the client credentials used when a principal's credential
// does not carry its own.
func WithDefaultClient(id, secret string) RefresherOption {
	return func(r *Refresher) {
		r.clientID = id
		r.clientSecret = secret
	}
}

// WithRefreshHTTPClient sets the HTTP client used for token requests.
func WithRefreshHTTPClient(c *http.Client) RefresherOption {
	return func(r *Refresher) {
		if c != nil {
			r.http = c
		}
	}
}

func NewRefresher(opts ...RefresherOption) *Refresher {
	r := &Refresher{
		tokenURL: DefaultTokenURL,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh returns a new access token and its expiry. A rejected grant wraps
// ErrUpstreamCredential; anything else wraps ErrUpstreamUnavailable.
func (r *Refresher) Refresh(ctx context.Context, cred goSession.ExternalCredential) (string, time.Time, error) {
	if cred.RefreshToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: no refresh token", goSession.ErrUpstreamCredential)
	}

	clientID, clientSecret := cred.ClientID, cred.ClientSecret
	if clientID == "" {
		clientID, clientSecret = r.clientID, r.clientSecret
	}

	cfg := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.http)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return "", time.Time{}, fmt.Errorf("%w: %v", goSession.ErrUpstreamCredential, err)
		}
		return "", time.Time{}, fmt.Errorf("%w: %v", goSession.ErrUpstreamUnavailable, err)
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty access token", goSession.ErrUpstreamUnavailable)
	}
	return tok.AccessToken, tok.Expiry, nil
}
