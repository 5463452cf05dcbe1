// Package viewers maintains the live viewer count: presence-driven
// deltas applied immediately for UI responsiveness, corrected by a
// periodic resync against the authoritative external source. On
// resync the count is replaced, never merged, so drift from missed
// events cannot accumulate.
package viewers

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/domain"
	"github.com/lumastream/signalcore/internal/events"
	"github.com/lumastream/signalcore/internal/signaling"
)

const DefaultResyncInterval = 60 * time.Second

// CountSource is the authoritative external count.
type CountSource interface {
	ViewerCount(ctx context.Context, channel domain.ChannelName) (int, error)
}

type Aggregator struct {
	channel  domain.ChannelName
	src      CountSource
	clk      clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	count   int
	seen    map[domain.UserID]struct{}
	updates events.Emitter[int]
}

type Option func(*Aggregator)

func WithClock(clk clock.Clock) Option {
	return func(a *Aggregator) { a.clk = clk }
}

func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.interval = d }
}

func New(channel domain.ChannelName, src CountSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		channel:  channel,
		src:      src,
		clk:      clock.New(),
		interval: DefaultResyncInterval,
		seen:     make(map[domain.UserID]struct{}),
		logger:   log.With().Str("module", "viewers").Str("channel", string(channel)).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach wires presence membership changes from the manager. Only a
// genuine join or leave moves the count: the presence stream also
// carries state changes and snapshot replays for users already
// counted, and those must not inflate it. Returns the detach func.
func (a *Aggregator) Attach(mgr *signaling.Manager) func() {
	return mgr.OnPresence(func(rec domain.PresenceRecord) {
		if rec.IsOnline {
			a.markOnline(rec.UserID)
		} else {
			a.markOffline(rec.UserID)
		}
	})
}

func (a *Aggregator) markOnline(uid domain.UserID) {
	a.mu.Lock()
	if _, ok := a.seen[uid]; ok {
		a.mu.Unlock()
		return
	}
	a.seen[uid] = struct{}{}
	a.count++
	c := a.count
	a.mu.Unlock()
	a.updates.Emit(c)
}

func (a *Aggregator) markOffline(uid domain.UserID) {
	a.mu.Lock()
	if _, ok := a.seen[uid]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.seen, uid)
	a.count--
	if a.count < 0 {
		a.count = 0
	}
	c := a.count
	a.mu.Unlock()
	a.updates.Emit(c)
}

// Run resyncs immediately, then on every tick until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	a.resync(ctx)
	ticker := a.clk.Ticker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.resync(ctx)
		}
	}
}

func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *Aggregator) Subscribe(fn func(count int)) func() {
	return a.updates.Subscribe(fn)
}

// Adjust applies an event-driven delta, clamped at zero.
func (a *Aggregator) Adjust(delta int) {
	a.mu.Lock()
	a.count += delta
	if a.count < 0 {
		a.count = 0
	}
	c := a.count
	a.mu.Unlock()
	a.updates.Emit(c)
}

func (a *Aggregator) resync(ctx context.Context) {
	authoritative, err := a.src.ViewerCount(ctx, a.channel)
	if err != nil {
		a.logger.Warn().Err(err).Msg("resync failed, keeping running count")
		return
	}
	a.mu.Lock()
	changed := a.count != authoritative
	a.count = authoritative
	a.mu.Unlock()
	if changed {
		a.updates.Emit(authoritative)
	}
}
