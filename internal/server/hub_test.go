package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumastream/signalcore/internal/transport"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []transport.EventFrame
}

func (s *recordingSink) Send(ev transport.EventFrame) error {
	s.mu.Lock()
	s.frames = append(s.frames, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) received() []transport.EventFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.EventFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *recordingSink) lastPresence(kind transport.PresenceKind) (transport.EventFrame, bool) {
	for _, ev := range s.received() {
		if ev.Event == transport.EventPresence && ev.Kind == kind {
			return ev, true
		}
	}
	return transport.EventFrame{}, false
}

func connect(t *testing.T, h *Hub, uid string) *recordingSink {
	t.Helper()
	s := &recordingSink{}
	require.NoError(t, h.Connect(uid, s))
	return s
}

func TestConnect_DuplicateUIDRefused(t *testing.T) {
	h := NewHub()
	connect(t, h, "u1")

	err := h.Connect("u1", &recordingSink{})
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeAlreadyLoggedIn, transport.CodeOf(err))
	assert.True(t, h.IsOnline("u1"))
}

func TestSubscribe_SnapshotIncludesSubscriber(t *testing.T) {
	h := NewHub()
	a := connect(t, h, "u1")
	connect(t, h, "u2")

	snap := h.Subscribe("u1", "room")
	require.Len(t, snap, 1)
	assert.Equal(t, "u1", snap[0].UserID)

	snap = h.Subscribe("u2", "room")
	require.Len(t, snap, 2)

	join, ok := a.lastPresence(transport.PresenceRemoteJoin)
	require.True(t, ok, "existing subscriber sees the join")
	assert.Equal(t, "u2", join.Publisher)
}

func TestPublish_SkipsSenderAndRequiresSubscription(t *testing.T) {
	h := NewHub()
	a := connect(t, h, "u1")
	b := connect(t, h, "u2")
	outsider := connect(t, h, "u3")
	h.Subscribe("u1", "room")
	h.Subscribe("u2", "room")

	err := h.Publish("u3", "room", []byte(`{"x":1}`))
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeNotSubscribed, transport.CodeOf(err))

	require.NoError(t, h.Publish("u1", "room", []byte(`{"x":1}`)))

	var aGot, bGot int
	for _, ev := range a.received() {
		if ev.Event == transport.EventMessage {
			aGot++
		}
	}
	for _, ev := range b.received() {
		if ev.Event == transport.EventMessage {
			bGot++
			assert.Equal(t, "u1", ev.Publisher)
		}
	}
	assert.Equal(t, 0, aGot, "sender never receives its own publish")
	assert.Equal(t, 1, bGot)
	assert.Empty(t, outsider.received())
}

func TestPublish_UnknownChannel(t *testing.T) {
	h := NewHub()
	connect(t, h, "u1")
	err := h.Publish("u1", "nowhere", []byte("{}"))
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeNotSubscribed, transport.CodeOf(err))
}

func TestSetPresence_BroadcastsStateChange(t *testing.T) {
	h := NewHub()
	a := connect(t, h, "u1")
	connect(t, h, "u2")
	h.Subscribe("u1", "room")
	h.Subscribe("u2", "room")

	require.NoError(t, h.SetPresence("u2", "room", map[string]string{"name": "Bob"}))

	ev, ok := a.lastPresence(transport.PresenceRemoteStateChanged)
	require.True(t, ok)
	assert.Equal(t, "u2", ev.Publisher)
	assert.Equal(t, "Bob", ev.State["name"])

	// Fresh state shows up in the next snapshot.
	connect(t, h, "u3")
	snap := h.Subscribe("u3", "room")
	byUID := map[string]transport.PresenceMember{}
	for _, m := range snap {
		byUID[m.UserID] = m
	}
	assert.Equal(t, "Bob", byUID["u2"].State["name"])
}

func TestUnsubscribe_BroadcastsLeaveAndGCs(t *testing.T) {
	h := NewHub()
	a := connect(t, h, "u1")
	connect(t, h, "u2")
	h.Subscribe("u1", "room")
	h.Subscribe("u2", "room")
	require.NoError(t, h.SetMetadata("u1", "room", "user_u1", "{}"))

	h.Unsubscribe("u2", "room")
	leave, ok := a.lastPresence(transport.PresenceRemoteLeave)
	require.True(t, ok)
	assert.Equal(t, "u2", leave.Publisher)

	h.Unsubscribe("u1", "room")
	// Channel is gone; a re-subscribe starts from scratch with no metadata.
	h.Subscribe("u1", "room")
	md, err := h.GetMetadata("u1", "room")
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestDisconnect_LeavesEveryChannel(t *testing.T) {
	h := NewHub()
	a := connect(t, h, "u1")
	connect(t, h, "u2")
	h.Subscribe("u1", "room-a")
	h.Subscribe("u1", "room-b")
	h.Subscribe("u2", "room-a")
	h.Subscribe("u2", "room-b")

	h.Disconnect("u2")
	assert.False(t, h.IsOnline("u2"))

	var leaves int
	for _, ev := range a.received() {
		if ev.Event == transport.EventPresence && ev.Kind == transport.PresenceRemoteLeave {
			leaves++
			assert.Equal(t, "u2", ev.Publisher)
		}
	}
	assert.Equal(t, 2, leaves)
}

func TestMetadata_LifecycleAndMembership(t *testing.T) {
	h := NewHub()
	connect(t, h, "u1")
	connect(t, h, "u2")
	h.Subscribe("u1", "room")

	err := h.SetMetadata("u2", "room", "user_u2", "{}")
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeNotSubscribed, transport.CodeOf(err))

	require.NoError(t, h.SetMetadata("u1", "room", "user_u1", `{"name":"Alice"}`))
	md, err := h.GetMetadata("u1", "room")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Alice"}`, md["user_u1"])

	require.NoError(t, h.RemoveMetadata("u1", "room", "user_u1"))
	md, err = h.GetMetadata("u1", "room")
	require.NoError(t, err)
	assert.Empty(t, md)
}
