package transport_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumastream/signalcore/internal/auth"
	"github.com/lumastream/signalcore/internal/domain"
	"github.com/lumastream/signalcore/internal/server"
	"github.com/lumastream/signalcore/internal/transport"
)

const testSecret = "integration-test-secret"

type testEnv struct {
	srv    *httptest.Server
	issuer *auth.Issuer
	wsURL  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	issuer, err := auth.NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)

	engine := server.SetupRouter(context.Background(), server.RouterConfig{
		Mode: "release",
		Options: server.Options{
			// Generous limits; throttling behavior is covered by the
			// limiter's own tests.
			PublishRate: 1000,
			LoginRate:   1000,
		},
	}, server.NewHub(), verifier)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &testEnv{
		srv:    srv,
		issuer: issuer,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) token(t *testing.T, uid domain.UserID, role domain.Role) string {
	t.Helper()
	identity, err := domain.NewSessionIdentity(uid, "stream-42", role)
	require.NoError(t, err)
	token, err := e.issuer.Issue(identity)
	require.NoError(t, err)
	return token
}

type clientEvents struct {
	status   chan transport.ConnState
	messages chan transport.MessageEvent
	presence chan transport.PresenceEvent
}

func boundClient(t *testing.T, e *testEnv) (*transport.WSClient, *clientEvents) {
	t.Helper()
	ev := &clientEvents{
		status:   make(chan transport.ConnState, 16),
		messages: make(chan transport.MessageEvent, 16),
		presence: make(chan transport.PresenceEvent, 16),
	}
	c := transport.NewWSClient(e.wsURL)
	c.Bind(transport.Handlers{
		OnStatus:   func(s transport.ConnState) { ev.status <- s },
		OnMessage:  func(m transport.MessageEvent) { ev.messages <- m },
		OnPresence: func(p transport.PresenceEvent) { ev.presence <- p },
	})
	t.Cleanup(func() { _ = c.Logout(context.Background()) })
	return c, ev
}

func waitPresence(t *testing.T, ch <-chan transport.PresenceEvent, kind transport.PresenceKind) transport.PresenceEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for presence kind %s", kind)
		}
	}
}

func TestWSClient_EndToEnd(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	a, aEv := boundClient(t, e)
	require.NoError(t, a.Login(ctx, e.token(t, "u1", domain.RoleHost)))
	assert.Equal(t, transport.StateConnected, <-aEv.status)

	require.NoError(t, a.Subscribe(ctx, "stream-42"))
	snap := waitPresence(t, aEv.presence, transport.PresenceSnapshot)
	require.Len(t, snap.Snapshot, 1)
	assert.Equal(t, "u1", snap.Snapshot[0].UserID)

	b, bEv := boundClient(t, e)
	require.NoError(t, b.Login(ctx, e.token(t, "u2", domain.RoleSubscriber)))
	require.NoError(t, b.Subscribe(ctx, "stream-42"))

	snap = waitPresence(t, bEv.presence, transport.PresenceSnapshot)
	assert.Len(t, snap.Snapshot, 2)
	join := waitPresence(t, aEv.presence, transport.PresenceRemoteJoin)
	assert.Equal(t, "u2", join.Publisher)

	// Presence state propagates to the other member.
	require.NoError(t, b.SetPresenceState(ctx, "stream-42", map[string]string{"name": "Bob"}))
	change := waitPresence(t, aEv.presence, transport.PresenceRemoteStateChanged)
	assert.Equal(t, "u2", change.Publisher)
	assert.Equal(t, "Bob", change.State["name"])

	// Publish reaches the peer, not the sender.
	payload := []byte(`{"type":"CHAT_MESSAGE","payload":{"userId":"u2","username":"Bob","message":"hi","timestamp":1}}`)
	require.NoError(t, b.Publish(ctx, "stream-42", payload))
	select {
	case msg := <-aEv.messages:
		assert.Equal(t, "u2", msg.Publisher)
		assert.JSONEq(t, string(payload), string(msg.Payload))
	case <-time.After(3 * time.Second):
		t.Fatal("message never delivered")
	}
	select {
	case <-bEv.messages:
		t.Fatal("sender received its own publish")
	case <-time.After(100 * time.Millisecond):
	}

	// Metadata round-trip across clients.
	require.NoError(t, a.SetChannelMetadata(ctx, "stream-42", "user_u1", []byte(`{"name":"Alice"}`)))
	md, err := b.GetChannelMetadata(ctx, "stream-42")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"Alice"}`), md["user_u1"])
	require.NoError(t, a.RemoveChannelMetadata(ctx, "stream-42", "user_u1"))
	md, err = b.GetChannelMetadata(ctx, "stream-42")
	require.NoError(t, err)
	assert.Empty(t, md)

	// Leaving fans out to the remaining member.
	require.NoError(t, b.Unsubscribe(ctx, "stream-42"))
	leave := waitPresence(t, aEv.presence, transport.PresenceRemoteLeave)
	assert.Equal(t, "u2", leave.Publisher)
}

func TestWSClient_DuplicateLoginRejected(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	a, _ := boundClient(t, e)
	require.NoError(t, a.Login(ctx, e.token(t, "u1", domain.RoleHost)))

	b, _ := boundClient(t, e)
	err := b.Login(ctx, e.token(t, "u1", domain.RoleHost))
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeAlreadyLoggedIn, transport.CodeOf(err))
}

func TestWSClient_BadTokenRejected(t *testing.T) {
	e := newTestEnv(t)
	a, _ := boundClient(t, e)
	err := a.Login(context.Background(), "garbage-token")
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeLoginFailed, transport.CodeOf(err))
}

func TestWSClient_OpBeforeLogin(t *testing.T) {
	e := newTestEnv(t)
	a, _ := boundClient(t, e)
	err := a.Publish(context.Background(), "stream-42", []byte("{}"))
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeNotLoggedIn, transport.CodeOf(err))
}

func TestWSClient_PublishWithoutSubscription(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a, _ := boundClient(t, e)
	require.NoError(t, a.Login(ctx, e.token(t, "u1", domain.RoleHost)))

	err := a.Publish(ctx, "stream-42", []byte("{}"))
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeNotSubscribed, transport.CodeOf(err))
}

func TestWSClient_SessionTeardownLeavesNoPumps(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// One throwaway session first so shared runtime goroutines
	// (http server pools and friends) are already up for the baseline.
	warm, _ := boundClient(t, e)
	require.NoError(t, warm.Login(ctx, e.token(t, "warmup", domain.RoleHost)))
	require.NoError(t, warm.Logout(ctx))
	time.Sleep(50 * time.Millisecond)

	base := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		c, _ := boundClient(t, e)
		uid := domain.UserID(fmt.Sprintf("u-%d", i))
		require.NoError(t, c.Login(ctx, e.token(t, uid, domain.RoleHost)))
		require.NoError(t, c.Subscribe(ctx, "stream-42"))
		require.NoError(t, c.Logout(ctx))
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base+3
	}, 5*time.Second, 10*time.Millisecond, "pump goroutines outlived their connections")
}

func TestServerShutdown_ClosesConnectedPeers(t *testing.T) {
	issuer, err := auth.NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := server.SetupRouter(ctx, server.RouterConfig{Mode: "release"}, server.NewHub(), verifier)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	e := &testEnv{
		srv:    srv,
		issuer: issuer,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}

	a, aEv := boundClient(t, e)
	require.NoError(t, a.Login(context.Background(), e.token(t, "u1", domain.RoleHost)))
	assert.Equal(t, transport.StateConnected, <-aEv.status)

	cancel()
	select {
	case s := <-aEv.status:
		assert.Equal(t, transport.StateDisconnected, s)
	case <-time.After(3 * time.Second):
		t.Fatal("peer still connected after server context cancellation")
	}
}

func TestWSClient_LoginIdempotentAndLogoutTerminal(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	a, _ := boundClient(t, e)
	token := e.token(t, "u1", domain.RoleHost)
	require.NoError(t, a.Login(ctx, token))
	require.NoError(t, a.Login(ctx, token), "second login resolves without redialing")

	require.NoError(t, a.Logout(ctx))
	require.NoError(t, a.Logout(ctx))

	err := a.Login(ctx, token)
	require.Error(t, err)
	assert.Equal(t, transport.ErrCodeClosed, transport.CodeOf(err))
}
