// Package session holds the one shared signaling manager per browsing
// context. The component that owns the media session creates it; chat,
// the participant grid and the viewer counter attach as read-only
// observers instead of opening their own connections. Two components
// each creating a connection is the bug class this package exists to
// prevent.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/domain"
	"github.com/lumastream/signalcore/internal/signaling"
)

var (
	ErrSessionExists = errors.New("a shared session already exists")
	ErrNoSession     = errors.New("no shared session")
)

type current struct {
	mgr     *signaling.Manager
	channel domain.ChannelName
	uid     domain.UserID
	refs    int
}

type Registry struct {
	mu     sync.Mutex
	cur    *current
	seq    int
	subs   map[int]func(ready bool)
	logger zerolog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		subs:   make(map[int]func(bool)),
		logger: log.With().Str("module", "session").Logger(),
	}
}

// Handle is one reference to the shared session. Release is idempotent;
// the last release tears the manager down.
type Handle struct {
	reg  *Registry
	mgr  *signaling.Manager
	once sync.Once
}

func (h *Handle) Manager() *signaling.Manager { return h.mgr }

func (h *Handle) Release(ctx context.Context) {
	h.once.Do(func() {
		h.reg.release(ctx, h.mgr)
	})
}

// Create installs mgr as the shared session and returns the owning
// handle. Fails if a session is already installed.
func (r *Registry) Create(mgr *signaling.Manager) (*Handle, error) {
	identity := mgr.Identity()
	r.mu.Lock()
	if r.cur != nil {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.cur = &current{
		mgr:     mgr,
		channel: identity.Channel,
		uid:     identity.UserID,
		refs:    1,
	}
	subs := r.subsSnapshotLocked()
	r.mu.Unlock()

	r.logger.Info().Str("channel", string(identity.Channel)).Str("uid", string(identity.UserID)).
		Msg("shared session created")
	notify(subs, true)
	return &Handle{reg: r, mgr: mgr}, nil
}

// Acquire takes a co-owning reference, for components whose lifetime
// must keep the session alive (e.g. a picture-in-picture view).
func (r *Registry) Acquire() (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil, ErrNoSession
	}
	r.cur.refs++
	return &Handle{reg: r, mgr: r.cur.mgr}, nil
}

// Current is read-only access for observers. It takes no reference:
// the manager may go away under the caller, who must re-check via
// Subscribe notifications.
func (r *Registry) Current() (*signaling.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil, false
	}
	return r.cur.mgr, true
}

// Subscribe registers a readiness observer and fires it immediately
// with the current state.
func (r *Registry) Subscribe(fn func(ready bool)) func() {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.subs[id] = fn
	ready := r.cur != nil
	r.mu.Unlock()

	fn(ready)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) release(ctx context.Context, mgr *signaling.Manager) {
	r.mu.Lock()
	if r.cur == nil || r.cur.mgr != mgr {
		r.mu.Unlock()
		return
	}
	r.cur.refs--
	if r.cur.refs > 0 {
		r.mu.Unlock()
		return
	}
	r.cur = nil
	subs := r.subsSnapshotLocked()
	r.mu.Unlock()

	mgr.Close(ctx)
	r.logger.Info().Msg("shared session torn down")
	notify(subs, false)
}

// Reset force-tears the session down regardless of outstanding refs.
// Outstanding handles become no-ops.
func (r *Registry) Reset(ctx context.Context) {
	r.mu.Lock()
	cur := r.cur
	r.cur = nil
	subs := r.subsSnapshotLocked()
	r.mu.Unlock()

	if cur == nil {
		return
	}
	cur.mgr.Close(ctx)
	r.logger.Info().Msg("shared session reset")
	notify(subs, false)
}

func (r *Registry) subsSnapshotLocked() []func(bool) {
	out := make([]func(bool), 0, len(r.subs))
	for _, fn := range r.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(bool), ready bool) {
	for _, fn := range subs {
		fn(ready)
	}
}
