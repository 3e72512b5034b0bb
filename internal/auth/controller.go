// Package auth implements the OAuth2 Authorization Code flow with PKCE for
// a public client and owns the process-wide authentication state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"yachtlog-go/internal/browser"
	"yachtlog-go/internal/logger"
	"yachtlog-go/internal/metrics"
	"yachtlog-go/internal/storage"
)

// Credential store keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyCodeVerifier = "code_verifier"
)

// CredentialStore is the secure key/value store the controller persists
// tokens into. Get returns an error wrapping storage.ErrNotFound for
// absent keys.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// AuthSessionOpener sends the user through the authorization page and
// blocks until the redirect arrives or the session is abandoned.
type AuthSessionOpener interface {
	OpenAuthSession(ctx context.Context, authURL, redirectPrefix string) (browser.Result, error)
}

// Controller drives login attempts and is the only writer of the
// authentication State.
type Controller struct {
	cfg        Config
	store      CredentialStore
	opener     AuthSessionOpener
	httpClient *http.Client
	state      *StateHolder
	logger     *logger.Logger

	inFlight atomic.Bool
}

// NewController creates a new Controller. A nil httpClient uses a default
// client; a nil state starts unauthenticated.
func NewController(cfg Config, store CredentialStore, opener AuthSessionOpener, httpClient *http.Client, state *StateHolder, log *logger.Logger) *Controller {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if state == nil {
		state = NewStateHolder()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{
		cfg:        cfg,
		store:      store,
		opener:     opener,
		httpClient: httpClient,
		state:      state,
		logger:     log,
	}
}

// State returns the current authentication snapshot.
func (c *Controller) State() State {
	return c.state.State()
}

// Subscribe streams State changes until ctx is done.
func (c *Controller) Subscribe(ctx context.Context) <-chan State {
	return c.state.Subscribe(ctx)
}

// Login runs one complete authorization attempt. Only one attempt may run at
// a time; a failed attempt leaves the published State untouched.
func (c *Controller) Login(ctx context.Context) (TokenPair, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		metrics.LoginAttempts.WithLabelValues(KindInProgress.String()).Inc()
		return TokenPair{}, newError(KindInProgress, "a login attempt is already in progress", nil)
	}
	defer c.inFlight.Store(false)

	tokens, err := c.login(ctx)
	if err != nil {
		c.logFailure(err)
		return TokenPair{}, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	c.logger.Info("login succeeded", "refresh_token", tokens.RefreshToken != "")
	return tokens, nil
}

func (c *Controller) login(ctx context.Context) (TokenPair, error) {
	if err := c.cfg.Validate(); err != nil {
		return TokenPair{}, err
	}

	verifier, err := GenerateVerifier(c.cfg.verifierLength())
	if err != nil {
		return TokenPair{}, newError(KindConfiguration, "failed to generate code verifier", err)
	}
	challenge := DeriveChallenge(verifier)
	state, err := generateState()
	if err != nil {
		return TokenPair{}, newError(KindConfiguration, "failed to generate state", err)
	}

	if err := c.store.Set(ctx, KeyCodeVerifier, verifier); err != nil {
		return TokenPair{}, newError(KindStorage, "failed to persist code verifier", err)
	}
	defer c.clearVerifier(ctx)

	authURL := c.cfg.authCodeURL(state, challenge)
	c.logger.Debug("opening authorization session", "endpoint", c.cfg.AuthorizationEndpoint)

	res, err := c.opener.OpenAuthSession(ctx, authURL, c.cfg.RedirectURI)
	if err != nil {
		return TokenPair{}, newError(KindBrowser, "failed to open authorization session", err)
	}
	if res.Outcome != browser.OutcomeSuccess {
		return TokenPair{}, newError(KindUserCancelled, fmt.Sprintf("authentication failed: %s", res.Outcome), nil)
	}

	code, err := codeFromRedirect(res.RedirectURL, state)
	if err != nil {
		return TokenPair{}, err
	}

	tokens, err := c.exchange(ctx, code, verifier)
	if err != nil {
		return TokenPair{}, err
	}

	if err := c.persist(ctx, tokens); err != nil {
		return TokenPair{}, err
	}
	c.publish(NewState(tokens.AccessToken))
	return tokens, nil
}

// codeFromRedirect extracts the authorization code. A success redirect must
// echo the state sent with the request.
func codeFromRedirect(redirectURL, state string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", newError(KindProtocol, "invalid redirect URL", err)
	}
	q := u.Query()

	if e := q.Get("error"); e != "" {
		msg := "authorization denied: " + e
		if desc := q.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		return "", newError(KindProtocol, msg, nil)
	}
	switch got := q.Get("state"); {
	case got == "":
		return "", newError(KindProtocol, "redirect is missing the state parameter", nil)
	case got != state:
		return "", newError(KindProtocol, "state mismatch in redirect", nil)
	}

	code := q.Get("code")
	if code == "" {
		return "", newError(KindProtocol, "no authorization code received", nil)
	}
	return code, nil
}

// persist writes the refresh token first so a published access token always
// has its companion stored. If the access token cannot be written the
// previous refresh token is put back, keeping the stored pair consistent.
func (c *Controller) persist(ctx context.Context, tokens TokenPair) error {
	if tokens.RefreshToken == "" {
		if err := c.store.Set(ctx, KeyAccessToken, tokens.AccessToken); err != nil {
			return newError(KindStorage, "failed to persist tokens", err)
		}
		return nil
	}

	prev, prevErr := c.store.Get(ctx, KeyRefreshToken)
	if err := c.store.Set(ctx, KeyRefreshToken, tokens.RefreshToken); err != nil {
		return newError(KindStorage, "failed to persist tokens", err)
	}
	if err := c.store.Set(ctx, KeyAccessToken, tokens.AccessToken); err != nil {
		c.restoreRefreshToken(ctx, prev, prevErr == nil)
		return newError(KindStorage, "failed to persist tokens", err)
	}
	return nil
}

func (c *Controller) restoreRefreshToken(ctx context.Context, prev string, found bool) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if found {
		err = c.store.Set(ctx, KeyRefreshToken, prev)
	} else {
		err = c.store.Delete(ctx, KeyRefreshToken)
	}
	if err != nil {
		c.logger.Warn("failed to restore previous refresh token", "error", err)
	}
}

func (c *Controller) clearVerifier(ctx context.Context) {
	if err := c.store.Delete(context.WithoutCancel(ctx), KeyCodeVerifier); err != nil {
		c.logger.Warn("failed to clear code verifier", "error", err)
	}
}

// CheckAuth reloads the access token from the store and publishes the
// result. A store that cannot be read counts as holding no token.
func (c *Controller) CheckAuth(ctx context.Context) State {
	token, err := c.store.Get(ctx, KeyAccessToken)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("failed to read access token, treating as signed out", "error", err)
		}
		token = ""
	}

	s := NewState(token)
	c.publish(s)
	return s
}

// Logout removes both tokens and publishes the signed-out State. The State
// is reset even when the store fails.
func (c *Controller) Logout(ctx context.Context) error {
	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken} {
		if err := c.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", key, err))
		}
	}
	c.publish(NewState(""))

	if err := errors.Join(errs...); err != nil {
		return newError(KindStorage, "failed to remove tokens", err)
	}
	c.logger.Info("logged out")
	return nil
}

func (c *Controller) publish(s State) {
	c.state.publish(s)
	if s.IsAuthenticated {
		metrics.Authenticated.Set(1)
	} else {
		metrics.Authenticated.Set(0)
	}
}

func (c *Controller) logFailure(err error) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		c.logger.Error("login failed", "error", err)
		return
	}

	metrics.LoginAttempts.WithLabelValues(authErr.Kind.String()).Inc()
	switch authErr.Kind {
	case KindUserCancelled:
		c.logger.Info("login cancelled", "reason", authErr.Msg)
	case KindConfiguration:
		c.logger.Warn("login not started", "error", err)
	default:
		c.logger.Error("login failed", "kind", authErr.Kind.String(), "error", err)
	}
}
