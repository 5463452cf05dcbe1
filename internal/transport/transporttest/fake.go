// Package transporttest provides an in-memory transport.Client for
// tests in the packages built on top of the signaling manager.
package transporttest

import (
	"context"
	"sync"

	"github.com/lumastream/signalcore/internal/transport"
)

// Fake implements transport.Client entirely in memory. Every operation
// succeeds unless the matching error field is set before use. Inbound
// traffic is injected through the Emit methods, which deliver through
// the bound handlers exactly like the real client.
type Fake struct {
	// Set before the operation under test runs; not guarded.
	LoginErr    error
	PublishErr  error
	PresenceErr error

	mu        sync.Mutex
	h         transport.Handlers
	published [][]byte
	metadata  map[string][]byte
}

func New() *Fake {
	return &Fake{metadata: make(map[string][]byte)}
}

func (f *Fake) Bind(h transport.Handlers) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
}

func (f *Fake) Login(ctx context.Context, token string) error  { return f.LoginErr }
func (f *Fake) Logout(ctx context.Context) error               { return nil }
func (f *Fake) Subscribe(ctx context.Context, ch string) error { return nil }
func (f *Fake) Unsubscribe(ctx context.Context, ch string) error {
	return nil
}

func (f *Fake) Publish(ctx context.Context, channel string, payload []byte) error {
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.mu.Lock()
	f.published = append(f.published, payload)
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetPresenceState(ctx context.Context, channel string, state map[string]string) error {
	return f.PresenceErr
}

func (f *Fake) SetChannelMetadata(ctx context.Context, channel, key string, value []byte) error {
	f.mu.Lock()
	f.metadata[key] = value
	f.mu.Unlock()
	return nil
}

func (f *Fake) GetChannelMetadata(ctx context.Context, channel string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.metadata))
	for k, v := range f.metadata {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) RemoveChannelMetadata(ctx context.Context, channel, key string) error {
	f.mu.Lock()
	delete(f.metadata, key)
	f.mu.Unlock()
	return nil
}

// Published returns a copy of every payload accepted so far.
func (f *Fake) Published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.published))
	copy(out, f.published)
	return out
}

func (f *Fake) handlers() transport.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

func (f *Fake) EmitMessage(ev transport.MessageEvent) {
	if h := f.handlers(); h.OnMessage != nil {
		h.OnMessage(ev)
	}
}

func (f *Fake) EmitPresence(ev transport.PresenceEvent) {
	if h := f.handlers(); h.OnPresence != nil {
		h.OnPresence(ev)
	}
}

func (f *Fake) EmitStatus(s transport.ConnState) {
	if h := f.handlers(); h.OnStatus != nil {
		h.OnStatus(s)
	}
}
