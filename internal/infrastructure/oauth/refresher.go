// Package oauth performs the upstream OAuth2 grants with golang.org/x/oauth2.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wulinbill/loyverse-api/internal/domain/credential"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	"golang.org/x/oauth2"
)

type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// Refresher implements the refresh-token and authorization-code grants.
type Refresher struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

type Option func(*Refresher)

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Refresher) { r.httpClient = hc }
}

func New(cfg Config, opts ...Option) *Refresher {
	r := &Refresher{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AuthCodeURL is the consent page an operator opens to re-authorize.
func (r *Refresher) AuthCodeURL(state string) string {
	return r.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Refresh trades refreshToken for a new credential.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (credential.Credential, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return credential.Credential{}, fault.Auth("oauth: refresh", errors.New("no refresh token"))
	}
	tok, err := r.conf.TokenSource(r.context(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return credential.Credential{}, classify("oauth: refresh", err)
	}
	return toCredential(tok), nil
}

// Exchange trades an authorization code for a credential.
func (r *Refresher) Exchange(ctx context.Context, code string) (credential.Credential, error) {
	tok, err := r.conf.Exchange(r.context(ctx), code)
	if err != nil {
		return credential.Credential{}, classify("oauth: exchange", err)
	}
	return toCredential(tok), nil
}

func (r *Refresher) context(ctx context.Context) context.Context {
	if r.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
}

// classify maps a 4xx answer from the token endpoint to fault.ErrAuth. Any
// other failure is transient.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return fault.Auth(op, fmt.Errorf("status %d: %s", status, errorCode(re)))
		}
	}
	return fault.Upstream(op, err)
}

func errorCode(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	return strings.TrimSpace(string(re.Body))
}

func toCredential(tok *oauth2.Token) credential.Credential {
	return credential.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}
