// Package server is the reference signaling server the transport
// client speaks to: named channels carrying pub/sub messages, per-user
// presence state and durable channel metadata. Integration tests run
// it in-process; cmd/signald serves it standalone.
package server

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/transport"
)

// Sink is where the hub pushes events for one connected user. Owned
// by the handler; the hub never closes it.
type Sink interface {
	Send(ev transport.EventFrame) error
}

type channel struct {
	subs     map[string]Sink
	presence map[string]map[string]string
	metadata map[string]string
}

func newChannel() *channel {
	return &channel{
		subs:     make(map[string]Sink),
		presence: make(map[string]map[string]string),
		metadata: make(map[string]string),
	}
}

type Hub struct {
	mu       sync.RWMutex
	online   map[string]Sink
	channels map[string]*channel
}

func NewHub() *Hub {
	return &Hub{
		online:   make(map[string]Sink),
		channels: make(map[string]*channel),
	}
}

// Connect registers the user's connection. A second live connection
// for the same uid is the duplicate-login case the client treats as
// benign on its side; the server still refuses it.
func (h *Hub) Connect(uid string, s Sink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.online[uid]; ok {
		return transport.NewError(transport.ErrCodeAlreadyLoggedIn, "uid already connected: "+uid)
	}
	h.online[uid] = s
	log.Info().Str("module", "server.hub").Str("uid", uid).Msg("connected")
	return nil
}

func (h *Hub) IsOnline(uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.online[uid]
	return ok
}

// Disconnect drops the user from every channel and fans out leaves.
func (h *Hub) Disconnect(uid string) {
	h.mu.Lock()
	delete(h.online, uid)
	leaves := make(map[string][]Sink)
	for name, ch := range h.channels {
		if _, ok := ch.subs[uid]; !ok {
			continue
		}
		delete(ch.subs, uid)
		delete(ch.presence, uid)
		leaves[name] = sinksOf(ch)
		h.gcLocked(name, ch)
	}
	h.mu.Unlock()

	for name, sinks := range leaves {
		fanOut(sinks, transport.EventFrame{
			Event:     transport.EventPresence,
			Channel:   name,
			Kind:      transport.PresenceRemoteLeave,
			Publisher: uid,
		})
	}
	log.Info().Str("module", "server.hub").Str("uid", uid).Msg("disconnected")
}

// Subscribe adds the user and returns the presence snapshot of the
// whole channel, subscriber included. Channels come into being on
// first subscribe.
func (h *Hub) Subscribe(uid, name string) []transport.PresenceMember {
	h.mu.Lock()
	ch, ok := h.channels[name]
	if !ok {
		ch = newChannel()
		h.channels[name] = ch
	}
	ch.subs[uid] = h.online[uid]
	snapshot := make([]transport.PresenceMember, 0, len(ch.subs))
	for member := range ch.subs {
		snapshot = append(snapshot, transport.PresenceMember{
			UserID: member,
			State:  copyState(ch.presence[member]),
		})
	}
	others := sinksExcept(ch, uid)
	h.mu.Unlock()

	fanOut(others, transport.EventFrame{
		Event:     transport.EventPresence,
		Channel:   name,
		Kind:      transport.PresenceRemoteJoin,
		Publisher: uid,
	})
	return snapshot
}

func (h *Hub) Unsubscribe(uid, name string) {
	h.mu.Lock()
	ch, ok := h.channels[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, subbed := ch.subs[uid]; !subbed {
		h.mu.Unlock()
		return
	}
	delete(ch.subs, uid)
	delete(ch.presence, uid)
	others := sinksOf(ch)
	h.gcLocked(name, ch)
	h.mu.Unlock()

	fanOut(others, transport.EventFrame{
		Event:     transport.EventPresence,
		Channel:   name,
		Kind:      transport.PresenceRemoteLeave,
		Publisher: uid,
	})
}

// Publish fans the payload out to every subscriber except the sender.
// Slow consumers are dropped for this message, not disconnected.
func (h *Hub) Publish(uid, name string, payload []byte) error {
	h.mu.RLock()
	ch, ok := h.channels[name]
	if !ok {
		h.mu.RUnlock()
		return transport.NewError(transport.ErrCodeNotSubscribed, "no such channel: "+name)
	}
	if _, subbed := ch.subs[uid]; !subbed {
		h.mu.RUnlock()
		return transport.NewError(transport.ErrCodeNotSubscribed, "not subscribed: "+name)
	}
	others := sinksExcept(ch, uid)
	h.mu.RUnlock()

	fanOut(others, transport.EventFrame{
		Event:     transport.EventMessage,
		Channel:   name,
		Publisher: uid,
		Payload:   payload,
	})
	return nil
}

func (h *Hub) SetPresence(uid, name string, state map[string]string) error {
	h.mu.Lock()
	ch, ok := h.channels[name]
	if !ok {
		h.mu.Unlock()
		return transport.NewError(transport.ErrCodeNotSubscribed, "no such channel: "+name)
	}
	if _, subbed := ch.subs[uid]; !subbed {
		h.mu.Unlock()
		return transport.NewError(transport.ErrCodeNotSubscribed, "not subscribed: "+name)
	}
	ch.presence[uid] = copyState(state)
	others := sinksExcept(ch, uid)
	h.mu.Unlock()

	fanOut(others, transport.EventFrame{
		Event:     transport.EventPresence,
		Channel:   name,
		Kind:      transport.PresenceRemoteStateChanged,
		Publisher: uid,
		State:     copyState(state),
	})
	return nil
}

func (h *Hub) SetMetadata(uid, name, key, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, err := h.memberChannelLocked(uid, name)
	if err != nil {
		return err
	}
	ch.metadata[key] = value
	return nil
}

func (h *Hub) GetMetadata(uid, name string) (map[string]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, err := h.memberChannelLocked(uid, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ch.metadata))
	for k, v := range ch.metadata {
		out[k] = v
	}
	return out, nil
}

func (h *Hub) RemoveMetadata(uid, name, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, err := h.memberChannelLocked(uid, name)
	if err != nil {
		return err
	}
	delete(ch.metadata, key)
	return nil
}

func (h *Hub) memberChannelLocked(uid, name string) (*channel, error) {
	ch, ok := h.channels[name]
	if !ok {
		return nil, transport.NewError(transport.ErrCodeNotSubscribed, "no such channel: "+name)
	}
	if _, subbed := ch.subs[uid]; !subbed {
		return nil, transport.NewError(transport.ErrCodeNotSubscribed, "not subscribed: "+name)
	}
	return ch, nil
}

// gcLocked drops an empty channel; its metadata goes with it.
func (h *Hub) gcLocked(name string, ch *channel) {
	if len(ch.subs) == 0 {
		delete(h.channels, name)
	}
}

func sinksOf(ch *channel) []Sink {
	out := make([]Sink, 0, len(ch.subs))
	for _, s := range ch.subs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func sinksExcept(ch *channel, uid string) []Sink {
	out := make([]Sink, 0, len(ch.subs))
	for member, s := range ch.subs {
		if member == uid || s == nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

func fanOut(sinks []Sink, ev transport.EventFrame) {
	for _, s := range sinks {
		if err := s.Send(ev); err != nil {
			log.Warn().Err(err).Str("module", "server.hub").Str("event", ev.Event).Msg("dropped for slow consumer")
		}
	}
}

func copyState(state map[string]string) map[string]string {
	if state == nil {
		return nil
	}
	out := make(map[string]string, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
