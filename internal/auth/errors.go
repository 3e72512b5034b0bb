package auth

import (
	"fmt"
)

// Kind classifies why a login attempt failed.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindUserCancelled
	KindProtocol
	KindTransport
	KindTokenMissing
	KindStorage
	KindInProgress
	KindBrowser
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindUserCancelled:
		return "user_cancelled"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindTokenMissing:
		return "token_missing"
	case KindStorage:
		return "storage"
	case KindInProgress:
		return "in_progress"
	case KindBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

// Error is returned by every failed login attempt. Payload carries the raw
// token endpoint response when there is one.
type Error struct {
	Kind    Kind
	Msg     string
	Payload string
	Err     error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrUserCancelled   = &Error{Kind: KindUserCancelled}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrTransport       = &Error{Kind: KindTransport}
	ErrTokenMissing    = &Error{Kind: KindTokenMissing}
	ErrStorage         = &Error{Kind: KindStorage}
	ErrLoginInProgress = &Error{Kind: KindInProgress}
	ErrBrowser         = &Error{Kind: KindBrowser}
)

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
