package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"yachtlog-go/internal/metrics"
)

// maxTokenResponse caps how much of a token response is buffered.
const maxTokenResponse = 1 << 20

// TokenPair is the result of a successful code exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// oauth2Config maps Config onto x/oauth2. client_id travels in the form
// body since this is a public client without a secret.
func (c Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthorizationEndpoint,
			TokenURL:  c.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: c.RedirectURI,
		Scopes:      c.Scopes,
	}
}

// authCodeURL builds the authorization request for one attempt.
func (c Config) authCodeURL(state, challenge string) string {
	return c.oauth2Config().AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethod),
	)
}

// recordingTransport keeps the last response so failures can be reported
// with the payload the token endpoint actually sent.
type recordingTransport struct {
	base http.RoundTripper

	mu     sync.Mutex
	status int
	body   []byte
	seen   bool
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.status, t.body, t.seen = resp.StatusCode, body, true
	t.mu.Unlock()

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (t *recordingTransport) last() (int, []byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.body, t.seen
}

// exchange trades code for tokens, attaching the attempt's verifier.
func (c *Controller) exchange(ctx context.Context, code, verifier string) (TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.exchangeTimeout())
	defer cancel()

	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rec := &recordingTransport{base: base}
	client := *c.httpClient
	client.Transport = rec
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &client)

	start := time.Now()
	tok, err := c.cfg.oauth2Config().Exchange(ctx, code, oauth2.VerifierOption(verifier))
	metrics.TokenExchangeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return TokenPair{}, classifyExchangeError(err, rec)
	}

	return TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

func classifyExchangeError(err error, rec *recordingTransport) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		e := newError(KindTransport, fmt.Sprintf("token exchange failed: status %d: %s", status, strings.TrimSpace(string(rErr.Body))), nil)
		e.Payload = string(rErr.Body)
		return e
	}

	// A 2xx that x/oauth2 still rejected means the payload carried no usable
	// access token.
	if status, body, ok := rec.last(); ok && status >= 200 && status < 300 {
		e := newError(KindTokenMissing, "failed to get access token: "+strings.TrimSpace(string(body)), err)
		e.Payload = string(body)
		return e
	}

	return newError(KindTransport, "token exchange failed", err)
}
