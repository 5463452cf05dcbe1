// Package signaling owns the per-session connection to the signaling
// network: login lifecycle, message dispatch, the presence cache and
// the publish surface every feature above it shares.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/domain"
	"github.com/lumastream/signalcore/internal/events"
	"github.com/lumastream/signalcore/internal/retry"
	"github.com/lumastream/signalcore/internal/transport"
)

var (
	ErrNoTransport  = errors.New("transport is nil")
	ErrNotReady     = errors.New("manager not ready for messages")
	ErrLoggedOut    = errors.New("manager is logged out")
	ErrLoginFailed  = errors.New("login failed")
	ErrNotPublished = errors.New("message publish failed")
)

type Config struct {
	Identity  domain.SessionIdentity
	Transport transport.Client
	// RetryPolicy only governs presence writes; everything else the
	// manager does is fail-fast.
	RetryPolicy retry.Policy
}

type Manager struct {
	identity domain.SessionIdentity
	tr       transport.Client
	policy   retry.Policy
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	presence map[domain.UserID]domain.PresenceRecord

	messages   events.Emitter[domain.SignalingMessage]
	chat       events.Emitter[domain.ChatPayload]
	presenceEv events.Emitter[domain.PresenceRecord]
	connEv     events.Emitter[transport.ConnState]
}

// NewManager binds transport handlers immediately, before any login,
// so nothing emitted in the handshake window is lost.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if _, err := domain.NewSessionIdentity(cfg.Identity.UserID, cfg.Identity.Channel, cfg.Identity.Role); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		identity: cfg.Identity,
		tr:       cfg.Transport,
		policy:   cfg.RetryPolicy,
		logger: log.With().Str("module", "signaling").
			Str("channel", string(cfg.Identity.Channel)).
			Str("uid", string(cfg.Identity.UserID)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateUninitialized,
		presence: make(map[domain.UserID]domain.PresenceRecord),
	}
	m.tr.Bind(transport.Handlers{
		OnStatus:   m.handleStatus,
		OnMessage:  m.handleMessage,
		OnPresence: m.handlePresence,
	})
	return m, nil
}

func (m *Manager) Identity() domain.SessionIdentity { return m.identity }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Login connects and subscribes to the session channel. Re-entrant:
// a second call while one is in flight, or after success, resolves
// without touching the transport. The two benign duplicate-login
// transport codes count as success.
func (m *Manager) Login(ctx context.Context, token string) error {
	m.mu.Lock()
	switch m.state {
	case StateLoggedOut:
		m.mu.Unlock()
		return ErrLoggedOut
	case StateLoggingIn, StateJoined, StateDisconnected:
		m.mu.Unlock()
		return nil
	}
	m.state = StateLoggingIn
	m.mu.Unlock()

	if err := m.tr.Login(ctx, token); err != nil && !isBenignLoginError(err) {
		m.revertLogin()
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if err := m.tr.Subscribe(ctx, string(m.identity.Channel)); err != nil {
		m.revertLogin()
		return fmt.Errorf("%w: subscribe: %v", ErrLoginFailed, err)
	}

	m.transition(StateJoined)
	m.logger.Info().Msg("joined channel")
	return nil
}

func (m *Manager) revertLogin() {
	m.mu.Lock()
	if m.state == StateLoggingIn {
		m.state = StateUninitialized
	}
	m.mu.Unlock()
}

func isBenignLoginError(err error) bool {
	switch transport.CodeOf(err) {
	case transport.ErrCodeAlreadyLoggedIn, transport.ErrCodeLoginTooFrequent:
		return true
	}
	return false
}

// SendMessage publishes one signaling message to the channel. Illegal
// before the first login and after logout; while logging in or
// disconnected it warns and still tries, since the transport may
// accept publishes in the post-login window.
func (m *Manager) SendMessage(ctx context.Context, msg domain.SignalingMessage) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateUninitialized:
		return fmt.Errorf("%w: state %s", ErrNotReady, state)
	case StateLoggedOut:
		return ErrLoggedOut
	case StateLoggingIn, StateDisconnected:
		m.logger.Warn().Str("state", state.String()).Str("type", string(msg.Type)).
			Msg("sending before joined")
	}

	payload, err := domain.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err = m.tr.Publish(ctx, string(m.identity.Channel), payload); err != nil {
		return fmt.Errorf("%w: %v", ErrNotPublished, err)
	}
	return nil
}

// SetUserPresence writes the local user's presence state. Writes right
// after join race the subscription handshake, so this is the one
// operation with built-in backoff retry. Exhausting the retries logs
// and degrades display-name accuracy; it never fails the session.
func (m *Manager) SetUserPresence(ctx context.Context, name, avatar string, isRecording bool) {
	state := domain.EncodePresenceState(name, avatar, isRecording)

	rctx, cancel := m.boundToLifetime(ctx)
	defer cancel()

	err := retry.Do(rctx, m.policy, func(ctx context.Context) error {
		return m.tr.SetPresenceState(ctx, string(m.identity.Channel), state)
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		m.logger.Debug().Msg("presence write cancelled")
	default:
		m.logger.Error().Err(err).Msg("presence write failed after retries")
	}
}

// boundToLifetime ties a caller context to the manager's own, so a
// pending presence retry dies with Close instead of dangling against
// a channel nobody observes.
func (m *Manager) boundToLifetime(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}

// PublishUserMetadata is best-effort: metadata speeds up display-name
// recovery after a refresh but is never a correctness dependency.
func (m *Manager) PublishUserMetadata(ctx context.Context, name, avatar string, timestamp int64) {
	entry := domain.MetadataEntry{Name: name, Avatar: avatar, Timestamp: timestamp}
	value, err := entry.Encode()
	if err != nil {
		m.logger.Error().Err(err).Msg("metadata encode")
		return
	}
	key := domain.MetadataKey(m.identity.UserID)
	if err = m.tr.SetChannelMetadata(ctx, string(m.identity.Channel), key, value); err != nil {
		m.logger.Warn().Err(err).Msg("metadata write failed")
	}
}

func (m *Manager) FetchUserMetadata(ctx context.Context) map[domain.UserID]domain.MetadataEntry {
	raw, err := m.tr.GetChannelMetadata(ctx, string(m.identity.Channel))
	if err != nil {
		m.logger.Warn().Err(err).Msg("metadata read failed")
		return nil
	}
	out := make(map[domain.UserID]domain.MetadataEntry, len(raw))
	for key, value := range raw {
		uid, ok := domain.UserIDFromMetadataKey(key)
		if !ok {
			continue
		}
		entry, derr := domain.DecodeMetadataEntry(value)
		if derr != nil {
			m.logger.Warn().Err(derr).Str("key", key).Msg("metadata entry skipped")
			continue
		}
		out[uid] = entry
	}
	return out
}

func (m *Manager) RemoveUserMetadata(ctx context.Context) {
	key := domain.MetadataKey(m.identity.UserID)
	if err := m.tr.RemoveChannelMetadata(ctx, string(m.identity.Channel), key); err != nil {
		m.logger.Warn().Err(err).Msg("metadata remove failed")
	}
}

// OnMessage observes every well-formed signaling message.
func (m *Manager) OnMessage(fn func(domain.SignalingMessage)) func() {
	return m.messages.Subscribe(fn)
}

// OnChatMessage observes only CHAT_MESSAGE payloads.
func (m *Manager) OnChatMessage(fn func(domain.ChatPayload)) func() {
	return m.chat.Subscribe(fn)
}

// OnPresence observes remote presence changes. Records carry
// IsOnline=false exactly once when a user leaves.
func (m *Manager) OnPresence(fn func(domain.PresenceRecord)) func() {
	return m.presenceEv.Subscribe(fn)
}

func (m *Manager) OnConnectionChange(fn func(transport.ConnState)) func() {
	return m.connEv.Subscribe(fn)
}

// PresenceSnapshot copies the remote presence cache. Self is never in it.
func (m *Manager) PresenceSnapshot() map[domain.UserID]domain.PresenceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.UserID]domain.PresenceRecord, len(m.presence))
	for uid, rec := range m.presence {
		out[uid] = rec
	}
	return out
}

func (m *Manager) PresenceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.presence)
}

// Close tears the session down: cancels pending retries, leaves the
// channel and logs the transport out. Logout errors are swallowed;
// there is nothing useful to do with them during teardown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	wasJoined := m.state == StateJoined || m.state == StateDisconnected
	m.state = StateLoggedOut
	m.presence = make(map[domain.UserID]domain.PresenceRecord)
	m.mu.Unlock()

	m.cancel()
	if wasJoined {
		if err := m.tr.Unsubscribe(ctx, string(m.identity.Channel)); err != nil {
			m.logger.Warn().Err(err).Msg("unsubscribe on close")
		}
	}
	if err := m.tr.Logout(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("logout on close")
	}
	m.logger.Info().Msg("manager closed")
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, to) {
		m.mu.Unlock()
		m.logger.Error().Str("from", from.String()).Str("to", to.String()).
			Msg("illegal state transition dropped")
		return
	}
	m.state = to
	m.mu.Unlock()
}

func (m *Manager) handleStatus(s transport.ConnState) {
	m.mu.Lock()
	state := m.state
	switch {
	case s == transport.StateDisconnected && state == StateJoined:
		m.state = StateDisconnected
	case s == transport.StateConnected && state == StateDisconnected:
		// The transport re-subscribes on its own; no caller action.
		m.state = StateJoined
	default:
		// CONNECTED during login is folded into Login's own flow.
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Info().Str("conn", string(s)).Msg("connection state changed")
	m.connEv.Emit(s)
}

// handleMessage parses and dispatches one inbound payload. A malformed
// or unknown message is dropped; it must never break delivery of the
// ones behind it.
func (m *Manager) handleMessage(ev transport.MessageEvent) {
	msg, err := domain.DecodeMessage(ev.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownMessageType) {
			m.logger.Debug().Err(err).Msg("unknown message type ignored")
			return
		}
		m.logger.Error().Err(err).Str("raw", string(ev.Payload)).Msg("malformed message dropped")
		return
	}

	m.messages.Emit(msg)
	if msg.Type == domain.MessageChat && msg.Chat != nil {
		m.chat.Emit(*msg.Chat)
	}
}

func (m *Manager) handlePresence(ev transport.PresenceEvent) {
	self := string(m.identity.UserID)

	if ev.Kind == transport.PresenceSnapshot {
		m.applySnapshot(ev.Snapshot)
		return
	}
	// Self echo never mutates the cache and never reaches observers.
	if ev.Publisher == self {
		return
	}

	uid := domain.UserID(ev.Publisher)
	switch ev.Kind {
	case transport.PresenceRemoteJoin, transport.PresenceRemoteStateChanged:
		rec := domain.DecodePresenceState(uid, ev.State)
		m.mu.Lock()
		if prev, ok := m.presence[uid]; ok && ev.State == nil {
			// Join events may arrive stateless; keep what we know.
			rec = prev
		}
		m.presence[uid] = rec
		m.mu.Unlock()
		m.presenceEv.Emit(rec)
	case transport.PresenceRemoteLeave:
		m.mu.Lock()
		_, known := m.presence[uid]
		delete(m.presence, uid)
		m.mu.Unlock()
		if known {
			m.presenceEv.Emit(domain.PresenceRecord{UserID: uid, IsOnline: false})
		}
	default:
		m.logger.Debug().Str("kind", string(ev.Kind)).Msg("unknown presence kind ignored")
	}
}

func (m *Manager) applySnapshot(members []transport.PresenceMember) {
	self := string(m.identity.UserID)
	fresh := make(map[domain.UserID]domain.PresenceRecord, len(members))
	for _, member := range members {
		if member.UserID == self {
			continue
		}
		uid := domain.UserID(member.UserID)
		fresh[uid] = domain.DecodePresenceState(uid, member.State)
	}
	m.mu.Lock()
	m.presence = fresh
	m.mu.Unlock()

	for _, rec := range fresh {
		m.presenceEv.Emit(rec)
	}
}
