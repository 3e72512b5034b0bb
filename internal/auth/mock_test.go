package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"yachtlog-go/internal/browser"
	"yachtlog-go/internal/storage"
)

// Mock credential store
type mockStore struct {
	mu     sync.Mutex
	values map[string]string
	// writes records every key passed to Set, in order.
	writes []string

	getErr    error
	setErr    map[string]error
	deleteErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		values: make(map[string]string),
		setErr: make(map[string]error),
	}
}

func (m *mockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("%w: credential %s", storage.ErrNotFound, key)
	}
	return v, nil
}

func (m *mockStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setErr[key]; err != nil {
		return err
	}
	m.values[key] = value
	m.writes = append(m.writes, key)
	return nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.values, key)
	return nil
}

func (m *mockStore) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Mock auth session opener
type mockOpener struct {
	mu      sync.Mutex
	authURL string
	calls   int

	// respond builds the session result from the authorization URL.
	respond func(ctx context.Context, authURL *url.URL) (browser.Result, error)
}

func (m *mockOpener) OpenAuthSession(ctx context.Context, authURL, redirectPrefix string) (browser.Result, error) {
	m.mu.Lock()
	m.authURL = authURL
	m.calls++
	m.mu.Unlock()

	u, err := url.Parse(authURL)
	if err != nil {
		return browser.Result{}, err
	}
	return m.respond(ctx, u)
}

func (m *mockOpener) lastAuthURL() *url.URL {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ := url.Parse(m.authURL)
	return u
}

// redirectWith returns an opener that lands on redirect with the given
// query, echoing the request's state.
func redirectWith(redirect string, query url.Values) *mockOpener {
	return &mockOpener{
		respond: func(ctx context.Context, authURL *url.URL) (browser.Result, error) {
			q := url.Values{}
			for k, v := range query {
				q[k] = v
			}
			if _, ok := q["state"]; !ok {
				q.Set("state", authURL.Query().Get("state"))
			}
			return browser.Result{Outcome: browser.OutcomeSuccess, RedirectURL: redirect + "?" + q.Encode()}, nil
		},
	}
}

func outcome(o browser.Outcome) *mockOpener {
	return &mockOpener{
		respond: func(ctx context.Context, authURL *url.URL) (browser.Result, error) {
			return browser.Result{Outcome: o}, nil
		},
	}
}

// tokenServer is a fake token endpoint that records the forms it receives.
type tokenServer struct {
	*httptest.Server

	mu    sync.Mutex
	forms []url.Values
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) requests() []url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]url.Values(nil), ts.forms...)
}
