package auth

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the process-wide authentication snapshot. IsAuthenticated is true
// exactly when AccessToken is non-empty.
type State struct {
	AccessToken     string `json:"-"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// NewState builds a State that satisfies the token/flag invariant.
func NewState(accessToken string) State {
	return State{AccessToken: accessToken, IsAuthenticated: accessToken != ""}
}

// StateReader is the read side handed to API-calling features.
type StateReader interface {
	State() State
}

// StateHolder publishes State snapshots. Readers never observe a
// half-written value: each publish swaps one immutable snapshot.
// Only the Controller writes to it.
type StateHolder struct {
	current atomic.Pointer[State]

	mu   sync.Mutex
	subs map[chan State]struct{}
}

// NewStateHolder creates a holder in the unauthenticated state.
func NewStateHolder() *StateHolder {
	h := &StateHolder{subs: make(map[chan State]struct{})}
	initial := NewState("")
	h.current.Store(&initial)
	return h
}

// State returns the current snapshot.
func (h *StateHolder) State() State {
	return *h.current.Load()
}

// Subscribe returns a channel that immediately yields the current State and
// then every later one. A slow reader only ever sees the newest value. The
// channel is closed once ctx is done.
func (h *StateHolder) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	h.mu.Lock()
	ch <- h.State()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *StateHolder) publish(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current.Store(&s)
	for ch := range h.subs {
		// Senders only run under mu, so after draining there is room.
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
