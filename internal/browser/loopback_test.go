package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeRedirect returns a loopback redirect URI on a port that was free a
// moment ago.
func freeRedirect(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return fmt.Sprintf("http://%s/callback", addr)
}

// visit simulates the browser following the provider's redirect.
func visit(t *testing.T, target string) func(string) error {
	return func(string) error {
		go func() {
			resp, err := http.Get(target)
			if err != nil {
				t.Logf("redirect request failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func TestLoopbackSession_Success(t *testing.T) {
	redirect := freeRedirect(t)
	session := NewLoopbackSession(5*time.Second, nil)
	session.Open = visit(t, redirect+"?code=abc123&state=xyz")

	res, err := session.OpenAuthSession(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	callback, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "abc123", callback.Query().Get("code"))
	assert.Equal(t, "xyz", callback.Query().Get("state"))
	assert.Equal(t, "/callback", callback.Path)
}

func TestLoopbackSession_IgnoresStrayCallback(t *testing.T) {
	redirect := freeRedirect(t)
	session := NewLoopbackSession(5*time.Second, nil)

	strayStatus := make(chan int, 1)
	session.Open = func(string) error {
		go func() {
			resp, err := http.Get(redirect + "?foo=bar")
			if err != nil {
				t.Logf("stray request failed: %v", err)
				strayStatus <- 0
				return
			}
			resp.Body.Close()
			strayStatus <- resp.StatusCode

			resp, err = http.Get(redirect + "?code=abc123&state=xyz")
			if err != nil {
				t.Logf("redirect request failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}

	res, err := session.OpenAuthSession(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, <-strayStatus)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	callback, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "abc123", callback.Query().Get("code"))
}

func TestLoopbackSession_AccessDenied(t *testing.T) {
	redirect := freeRedirect(t)
	session := NewLoopbackSession(5*time.Second, nil)
	session.Open = visit(t, redirect+"?error=access_denied")

	res, err := session.OpenAuthSession(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancel, res.Outcome)
	assert.Empty(t, res.RedirectURL)
}

func TestLoopbackSession_ContextCancelled(t *testing.T) {
	redirect := freeRedirect(t)
	session := NewLoopbackSession(time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	session.Open = func(string) error {
		cancel()
		return nil
	}

	res, err := session.OpenAuthSession(ctx, "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancel, res.Outcome)
}

func TestLoopbackSession_Timeout(t *testing.T) {
	redirect := freeRedirect(t)
	session := NewLoopbackSession(50*time.Millisecond, nil)
	session.Open = func(string) error { return nil }

	res, err := session.OpenAuthSession(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDismiss, res.Outcome)
}

func TestLoopbackSession_ReleasesListener(t *testing.T) {
	redirect := freeRedirect(t)
	session := NewLoopbackSession(50*time.Millisecond, nil)
	session.Open = func(string) error { return nil }

	_, err := session.OpenAuthSession(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)

	// A second session can bind the same address.
	_, err = session.OpenAuthSession(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)
}

func TestLoopbackSession_OpenFails(t *testing.T) {
	redirect := freeRedirect(t)
	session := NewLoopbackSession(time.Second, nil)
	session.Open = func(string) error { return errors.New("no display") }

	_, err := session.OpenAuthSession(context.Background(), "https://auth.example.com/authorize", redirect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
}

func TestParseLoopback(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		wantErr  bool
		wantPath string
	}{
		{name: "ipv4 loopback", redirect: "http://127.0.0.1:8765/callback", wantPath: "/callback"},
		{name: "localhost", redirect: "http://localhost:8765", wantPath: "/"},
		{name: "ipv6 loopback", redirect: "http://[::1]:8765/cb", wantPath: "/cb"},
		{name: "https", redirect: "https://127.0.0.1:8765/callback", wantErr: true},
		{name: "custom scheme", redirect: "yachtlog://redirect", wantErr: true},
		{name: "remote host", redirect: "http://app.example.com:8765/callback", wantErr: true},
		{name: "missing port", redirect: "http://127.0.0.1/callback", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := parseLoopback(tt.redirect)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedRedirect)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, u.Path)
		})
	}
}
