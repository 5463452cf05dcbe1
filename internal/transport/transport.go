// Package transport isolates all direct contact with the signaling
// network behind a small capability surface. Everything above it deals
// only in Client, Handlers and typed Errors.
package transport

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrCodeLoginFailed      ErrorCode = "login_failed"
	ErrCodeAlreadyLoggedIn  ErrorCode = "already_logged_in"
	ErrCodeLoginTooFrequent ErrorCode = "login_too_frequent"
	ErrCodeNotLoggedIn      ErrorCode = "not_logged_in"
	ErrCodeNotSubscribed    ErrorCode = "not_subscribed"
	ErrCodeRateLimited      ErrorCode = "rate_limited"
	ErrCodeBadFrame         ErrorCode = "bad_frame"
	ErrCodeTimeout          ErrorCode = "timeout"
	ErrCodeClosed           ErrorCode = "connection_closed"
	ErrCodeInternal         ErrorCode = "internal"
)

// Error is the one error type that crosses the transport boundary.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the transport error code, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

type ConnState string

const (
	StateConnected    ConnState = "CONNECTED"
	StateDisconnected ConnState = "DISCONNECTED"
)

type PresenceKind string

const (
	PresenceSnapshot           PresenceKind = "SNAPSHOT"
	PresenceRemoteJoin         PresenceKind = "REMOTE_JOIN"
	PresenceRemoteLeave        PresenceKind = "REMOTE_LEAVE"
	PresenceRemoteStateChanged PresenceKind = "REMOTE_STATE_CHANGED"
)

type PresenceMember struct {
	UserID string            `json:"userId"`
	State  map[string]string `json:"state,omitempty"`
}

type MessageEvent struct {
	Channel   string
	Publisher string
	Payload   []byte
}

type PresenceEvent struct {
	Channel   string
	Kind      PresenceKind
	Publisher string
	State     map[string]string
	Snapshot  []PresenceMember
}

// Handlers must be bound before Login so nothing emitted in the
// handshake window is lost. Nil funcs are allowed and skipped.
type Handlers struct {
	OnStatus   func(ConnState)
	OnMessage  func(MessageEvent)
	OnPresence func(PresenceEvent)
}

// Client is the pub/sub signaling capability. Login and Subscribe are
// idempotent: a second call while already connected resolves
// successfully without touching the network.
type Client interface {
	Bind(h Handlers)
	Login(ctx context.Context, token string) error
	Logout(ctx context.Context) error
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	SetPresenceState(ctx context.Context, channel string, state map[string]string) error
	SetChannelMetadata(ctx context.Context, channel, key string, value []byte) error
	GetChannelMetadata(ctx context.Context, channel string) (map[string][]byte, error)
	RemoveChannelMetadata(ctx context.Context, channel, key string) error
}
