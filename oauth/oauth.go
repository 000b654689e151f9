// Package oauth implements tahan.Authenticator against an OAuth 2.0
// authorization server using the resource owner password grant for login,
// the refresh token grant for renewal and RFC 7009 for revocation.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/oauth2"

	"github.com/ambiyansyah-risyal/tahan"
)

// Config describes the authorization server and the client registered with
// it.
type Config struct {
	ClientID     string   `yaml:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" envconfig:"CLIENT_SECRET"`
	TokenURL     string   `yaml:"token_url" envconfig:"TOKEN_URL"`
	RevokeURL    string   `yaml:"revoke_url" envconfig:"REVOKE_URL"`
	Scopes       []string `yaml:"scopes" envconfig:"SCOPES"`

	// HTTPClient is used for every call to the server. nil means
	// http.DefaultClient.
	HTTPClient *http.Client `yaml:"-" ignored:"true"`
}

// LoadConfig reads Config from <prefix>_OAUTH_* environment variables.
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = tahan.EnvPrefix
	}
	var cfg Config
	if err := envconfig.Process(prefix+"_OAUTH", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process oauth env config: %w", err)
	}
	return cfg, nil
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.TokenURL == "" {
		missing = append(missing, "token_url")
	}
	if len(missing) > 0 {
		return tahan.NewClientError(tahan.ErrorTypeValidation,
			"oauth configuration incomplete: missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Authenticator talks to the authorization server described by Config.
type Authenticator struct {
	conf       *oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

var _ tahan.Authenticator = (*Authenticator)(nil)

// New creates an Authenticator. Client credentials are sent with HTTP basic
// authentication.
func New(cfg Config) *Authenticator {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Authenticator{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL:  cfg.RevokeURL,
		httpClient: httpClient,
	}
}

func (a *Authenticator) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// Login exchanges a username and password for a token. Scopes in creds
// replace the configured ones for this call.
func (a *Authenticator) Login(ctx context.Context, creds tahan.Credentials) (*tahan.Token, error) {
	conf := a.conf
	if len(creds.Scopes) > 0 {
		scoped := *a.conf
		scoped.Scopes = creds.Scopes
		conf = &scoped
	}

	tok, err := conf.PasswordCredentialsToken(a.context(ctx), creds.Username, creds.Password)
	if err != nil {
		return nil, mapError("login failed", err)
	}
	return fromOAuth2(tok), nil
}

// Refresh redeems refreshToken for a new token.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*tahan.Token, error) {
	src := a.conf.TokenSource(a.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapError("refresh failed", err)
	}
	return fromOAuth2(tok), nil
}

// Revoke asks the server to invalidate token. The refresh token is revoked
// when present since that also ends the access token on compliant servers.
// It is a no-op when no revocation endpoint is configured.
func (a *Authenticator) Revoke(ctx context.Context, token *tahan.Token) error {
	if a.revokeURL == "" || token.IsZero() {
		return nil
	}

	form := url.Values{}
	if token.RefreshToken != "" {
		form.Set("token", token.RefreshToken)
		form.Set("token_type_hint", "refresh_token")
	} else {
		form.Set("token", token.AccessToken)
		form.Set("token_type_hint", "access_token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tahan.NewClientError(tahan.ErrorTypeValidation, "invalid revocation request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(a.conf.ClientID), url.QueryEscape(a.conf.ClientSecret))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return tahan.NewClientError(tahan.Classify(err), "revocation failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if errorType := tahan.ClassifyStatus(resp.StatusCode); errorType != "" {
		clientErr := tahan.NewClientError(errorType, "revocation rejected", nil)
		clientErr.StatusCode = resp.StatusCode
		clientErr.Method = http.MethodPost
		clientErr.URL = a.revokeURL
		return clientErr
	}
	return nil
}

func fromOAuth2(tok *oauth2.Token) *tahan.Token {
	return &tahan.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
	}
}

// mapError classifies a token endpoint failure. 400 and 401 mean the grant
// or the client was rejected; 429 and 5xx keep their HTTP classification so
// the token manager treats them as transient.
func mapError(message string, err error) *tahan.ClientError {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) || retrieveErr.Response == nil {
		return tahan.NewClientError(tahan.Classify(err), message, err)
	}

	status := retrieveErr.Response.StatusCode
	detail := message
	if retrieveErr.ErrorCode != "" {
		detail = message + ": " + retrieveErr.ErrorCode
	}

	var clientErr *tahan.ClientError
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		clientErr = tahan.NewClientError(tahan.ErrorTypeAuthentication, detail, err)
	default:
		errorType := tahan.ClassifyStatus(status)
		if errorType == "" {
			errorType = tahan.ErrorTypeNetwork
		}
		clientErr = tahan.NewClientError(errorType, detail, err)
	}
	clientErr.StatusCode = status
	return clientErr
}
