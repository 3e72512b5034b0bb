// Package browser implements the browser-redirect step of an OAuth
// authorization-code flow for a local client: the system browser is pointed
// at the authorization URL and a loopback listener waits for the redirect.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/browser"

	"yachtlog-go/internal/logger"
)

// Outcome is how an auth session ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeCancel  Outcome = "cancel"
	OutcomeDismiss Outcome = "dismiss"
)

// Result is the resolution of one auth session. RedirectURL is only set on
// OutcomeSuccess.
type Result struct {
	Outcome     Outcome
	RedirectURL string
}

// ErrUnsupportedRedirect is returned for redirect URIs a loopback listener
// cannot serve.
var ErrUnsupportedRedirect = errors.New("redirect URI must be an http URL on a loopback host")

const (
	// DefaultTimeout bounds how long a session waits for the user.
	DefaultTimeout = 5 * time.Minute

	shutdownTimeout = 5 * time.Second
	closePage       = `<!doctype html><html><body><p>%s You can close this window.</p></body></html>`
)

// LoopbackSession opens the system browser and receives the redirect on a
// local HTTP listener bound to the redirect URI's host and port.
type LoopbackSession struct {
	// Open launches the browser on a URL.
	Open func(url string) error
	// Timeout bounds the wait for the redirect; expiry resolves as dismiss.
	Timeout time.Duration

	logger *logger.Logger
}

// NewLoopbackSession creates a session that uses the system browser.
func NewLoopbackSession(timeout time.Duration, log *logger.Logger) *LoopbackSession {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LoopbackSession{
		Open:    browser.OpenURL,
		Timeout: timeout,
		logger:  log,
	}
}

// OpenAuthSession sends the user to authURL and blocks until the browser is
// redirected to redirectPrefix, ctx is cancelled (cancel) or the timeout
// expires (dismiss).
func (s *LoopbackSession) OpenAuthSession(ctx context.Context, authURL, redirectPrefix string) (Result, error) {
	redirect, err := parseLoopback(redirectPrefix)
	if err != nil {
		return Result{}, err
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return Result{}, fmt.Errorf("listening for redirect on %s: %w", redirect.Host, err)
	}

	results := make(chan Result, 1)
	router := chi.NewRouter()
	router.Get(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		// Prefetches and stray hits carry neither a code nor an error.
		if q := r.URL.Query(); !q.Has("code") && !q.Has("error") {
			http.Error(w, "waiting for the authorization redirect", http.StatusBadRequest)
			return
		}

		callback := *r.URL
		callback.Scheme = redirect.Scheme
		callback.Host = redirect.Host

		res := Result{Outcome: OutcomeSuccess, RedirectURL: callback.String()}
		message := "Authentication complete."
		if r.URL.Query().Get("error") == "access_denied" {
			res = Result{Outcome: OutcomeCancel}
			message = "Authentication was cancelled."
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, closePage, message)

		// Only the first redirect resolves the session.
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Warn("redirect listener stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log().Warn("redirect listener shutdown", "error", err)
		}
	}()

	if err := s.Open(authURL); err != nil {
		return Result{}, fmt.Errorf("opening browser: %w", err)
	}
	s.log().Info("waiting for browser redirect", "redirect_uri", redirectPrefix)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		return Result{Outcome: OutcomeCancel}, nil
	case <-timer.C:
		return Result{Outcome: OutcomeDismiss}, nil
	}
}

func (s *LoopbackSession) log() *logger.Logger {
	if s.logger == nil {
		return logger.NewNop()
	}
	return s.logger
}

func parseLoopback(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRedirect, err)
	}
	if u.Scheme != "http" || u.Port() == "" {
		return nil, ErrUnsupportedRedirect
	}

	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, ErrUnsupportedRedirect
		}
	}

	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}
