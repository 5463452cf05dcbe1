package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumastream/signalcore/internal/domain"
	"github.com/lumastream/signalcore/internal/signaling"
	"github.com/lumastream/signalcore/internal/transport/transporttest"
)

func newManager(t *testing.T) *signaling.Manager {
	t.Helper()
	identity, err := domain.NewSessionIdentity("u1", "stream-42", domain.RoleHost)
	require.NoError(t, err)
	mgr, err := signaling.NewManager(signaling.Config{Identity: identity, Transport: transporttest.New()})
	require.NoError(t, err)
	return mgr
}

func TestCreate_SecondSessionRejected(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create(newManager(t))
	require.NoError(t, err)

	_, err = reg.Create(newManager(t))
	require.ErrorIs(t, err, ErrSessionExists)
}

func TestAcquire_WithoutSession(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Acquire()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestCurrent_SharedAcrossObservers(t *testing.T) {
	reg := NewRegistry()
	mgr := newManager(t)

	_, ok := reg.Current()
	require.False(t, ok)

	_, err := reg.Create(mgr)
	require.NoError(t, err)

	got, ok := reg.Current()
	require.True(t, ok)
	assert.Same(t, mgr, got)
}

func TestRelease_LastReferenceTearsDown(t *testing.T) {
	reg := NewRegistry()
	mgr := newManager(t)
	require.NoError(t, mgr.Login(context.Background(), "tok"))

	owner, err := reg.Create(mgr)
	require.NoError(t, err)
	extra, err := reg.Acquire()
	require.NoError(t, err)
	assert.Same(t, mgr, extra.Manager())

	owner.Release(context.Background())
	_, ok := reg.Current()
	assert.True(t, ok, "a co-owning reference is still alive")
	assert.Equal(t, signaling.StateJoined, mgr.State())

	extra.Release(context.Background())
	_, ok = reg.Current()
	assert.False(t, ok)
	assert.Equal(t, signaling.StateLoggedOut, mgr.State())
}

func TestRelease_Idempotent(t *testing.T) {
	reg := NewRegistry()
	mgr := newManager(t)

	owner, err := reg.Create(mgr)
	require.NoError(t, err)
	_, err = reg.Acquire()
	require.NoError(t, err)

	owner.Release(context.Background())
	owner.Release(context.Background())

	// The double release must not steal the co-owner's reference.
	_, ok := reg.Current()
	assert.True(t, ok)
}

func TestSubscribe_FiresImmediatelyAndOnChange(t *testing.T) {
	reg := NewRegistry()

	var states []bool
	cancel := reg.Subscribe(func(ready bool) { states = append(states, ready) })
	assert.Equal(t, []bool{false}, states)

	owner, err := reg.Create(newManager(t))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, states)

	owner.Release(context.Background())
	assert.Equal(t, []bool{false, true, false}, states)

	cancel()
	_, err = reg.Create(newManager(t))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, states)
}

func TestReset_OutstandingHandlesBecomeNoOps(t *testing.T) {
	reg := NewRegistry()
	mgr := newManager(t)

	owner, err := reg.Create(mgr)
	require.NoError(t, err)

	reg.Reset(context.Background())
	_, ok := reg.Current()
	require.False(t, ok)
	assert.Equal(t, signaling.StateLoggedOut, mgr.State())

	// Stale handle against a fresh session changes nothing.
	fresh := newManager(t)
	_, err = reg.Create(fresh)
	require.NoError(t, err)
	owner.Release(context.Background())
	got, ok := reg.Current()
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestReset_WithoutSessionIsSilent(t *testing.T) {
	reg := NewRegistry()
	var fired int
	reg.Subscribe(func(bool) { fired++ })
	reg.Reset(context.Background())
	assert.Equal(t, 1, fired, "only the immediate subscribe callback")
}
