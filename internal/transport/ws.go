package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultOpTimeout     = 5 * time.Second
	defaultWriteDeadline = 5 * time.Second
	defaultPingPeriod    = 30 * time.Second
	defaultPongWait      = 40 * time.Second
	defaultReadLimit     = 65536

	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// wsConn is one connection generation. Reconnects replace it wholesale
// so a stale pump can never write into the new connection.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return NewError(ErrCodeClosed, "connection closed")
	}
	select {
	case c.send <- b:
		return nil
	default:
		return NewError(ErrCodeRateLimited, "send buffer full")
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// WSClient implements Client over a websocket connection to the
// signaling server. Login is the dial itself, the token travels as a
// query parameter. Reconnection after a dropped connection is owned
// here; consumers only observe status events.
type WSClient struct {
	endpoint  string
	opTimeout time.Duration
	clk       clock.Clock
	logger    zerolog.Logger

	h Handlers

	mu         sync.Mutex
	cur        *wsConn
	token      string
	loggingIn  bool
	loggedIn   bool
	loggedOut  bool
	subscribed map[string]bool
	pending    map[string]chan *EventFrame
}

type WSOption func(*WSClient)

func WithOpTimeout(d time.Duration) WSOption {
	return func(c *WSClient) { c.opTimeout = d }
}

func WithClock(clk clock.Clock) WSOption {
	return func(c *WSClient) { c.clk = clk }
}

func NewWSClient(endpoint string, opts ...WSOption) *WSClient {
	c := &WSClient{
		endpoint:   endpoint,
		opTimeout:  defaultOpTimeout,
		clk:        clock.New(),
		logger:     log.With().Str("module", "transport.ws").Logger(),
		subscribed: make(map[string]bool),
		pending:    make(map[string]chan *EventFrame),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind must be called before Login. Handlers stay bound across
// reconnects.
func (c *WSClient) Bind(h Handlers) {
	c.mu.Lock()
	c.h = h
	c.mu.Unlock()
}

func (c *WSClient) Login(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.loggedOut {
		c.mu.Unlock()
		return NewError(ErrCodeClosed, "client logged out")
	}
	if c.loggedIn || c.loggingIn {
		c.mu.Unlock()
		return nil
	}
	c.loggingIn = true
	c.token = token
	c.mu.Unlock()

	conn, err := c.dial(ctx, token)

	c.mu.Lock()
	c.loggingIn = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.cur = conn
	c.loggedIn = true
	h := c.h
	c.mu.Unlock()

	go c.writePump(conn)
	go c.readPump(conn)

	if h.OnStatus != nil {
		h.OnStatus(StateConnected)
	}
	return nil
}

func (c *WSClient) dial(ctx context.Context, token string) (*wsConn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, NewError(ErrCodeLoginFailed, "bad endpoint: "+err.Error())
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		code, msg := ErrCodeLoginFailed, err.Error()
		if resp != nil {
			if we := decodeHandshakeError(resp.Body); we != nil {
				code, msg = we.Code, we.Message
			}
			_ = resp.Body.Close()
		}
		return nil, NewError(code, msg)
	}
	ws.SetReadLimit(defaultReadLimit)
	return &wsConn{conn: ws, send: make(chan []byte, 64)}, nil
}

func (c *WSClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.loggedOut {
		c.mu.Unlock()
		return nil
	}
	c.loggedOut = true
	c.loggedIn = false
	conn := c.cur
	c.cur = nil
	c.failPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(defaultWriteDeadline)
		_ = conn.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.close()
	}
	return nil
}

func (c *WSClient) Subscribe(ctx context.Context, channel string) error {
	c.mu.Lock()
	if c.subscribed[channel] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if _, err := c.call(ctx, OpFrame{Op: OpSubscribe, Channel: channel}); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscribed[channel] = true
	c.mu.Unlock()
	return nil
}

func (c *WSClient) Unsubscribe(ctx context.Context, channel string) error {
	if _, err := c.call(ctx, OpFrame{Op: OpUnsubscribe, Channel: channel}); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.subscribed, channel)
	c.mu.Unlock()
	return nil
}

func (c *WSClient) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := c.call(ctx, OpFrame{
		Op:      OpPublish,
		Channel: channel,
		Payload: json.RawMessage(payload),
	})
	return err
}

func (c *WSClient) SetPresenceState(ctx context.Context, channel string, state map[string]string) error {
	_, err := c.call(ctx, OpFrame{Op: OpPresenceSet, Channel: channel, State: state})
	return err
}

func (c *WSClient) SetChannelMetadata(ctx context.Context, channel, key string, value []byte) error {
	_, err := c.call(ctx, OpFrame{
		Op:      OpMetadataSet,
		Channel: channel,
		Key:     key,
		Value:   string(value),
	})
	return err
}

func (c *WSClient) GetChannelMetadata(ctx context.Context, channel string) (map[string][]byte, error) {
	res, err := c.call(ctx, OpFrame{Op: OpMetadataGet, Channel: channel})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(res.Metadata))
	for k, v := range res.Metadata {
		out[k] = []byte(v)
	}
	return out, nil
}

func (c *WSClient) RemoveChannelMetadata(ctx context.Context, channel, key string) error {
	_, err := c.call(ctx, OpFrame{Op: OpMetadataRemove, Channel: channel, Key: key})
	return err
}

// call sends one op and waits for the matching result event.
func (c *WSClient) call(ctx context.Context, op OpFrame) (*EventFrame, error) {
	c.mu.Lock()
	if c.loggedOut {
		c.mu.Unlock()
		return nil, NewError(ErrCodeClosed, "client logged out")
	}
	conn := c.cur
	if conn == nil {
		c.mu.Unlock()
		return nil, NewError(ErrCodeNotLoggedIn, "not connected")
	}
	op.ID = uuid.NewString()
	ch := make(chan *EventFrame, 1)
	c.pending[op.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, op.ID)
		c.mu.Unlock()
	}()

	b, err := sonic.Marshal(op)
	if err != nil {
		return nil, NewError(ErrCodeBadFrame, err.Error())
	}
	if err = conn.trySend(b); err != nil {
		return nil, err
	}

	timer := c.clk.Timer(c.opTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, NewError(ErrCodeTimeout, ctx.Err().Error())
	case <-timer.C:
		return nil, NewError(ErrCodeTimeout, "no result for op "+op.Op)
	case res := <-ch:
		if res == nil {
			return nil, NewError(ErrCodeClosed, "connection lost")
		}
		if res.Err != nil {
			return nil, NewError(res.Err.Code, res.Err.Message)
		}
		return res, nil
	}
}

func (c *WSClient) writePump(conn *wsConn) {
	for b := range conn.send {
		if err := conn.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
			c.logger.Error().Err(err).Msg("writePump set deadline")
			return
		}
		if err := conn.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			c.logger.Error().Err(err).Msg("writePump write")
			return
		}
	}
}

func (c *WSClient) readPump(conn *wsConn) {
	defer func() {
		conn.close()
		c.onConnLost(conn)
	}()

	pongDeadline := func() error {
		return conn.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	}
	conn.conn.SetPongHandler(func(string) error { return pongDeadline() })
	if err := pongDeadline(); err != nil {
		c.logger.Error().Err(err).Msg("readPump set deadline")
		return
	}

	pinger := time.NewTicker(defaultPingPeriod)
	defer pinger.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pinger.C:
				deadline := time.Now().Add(defaultWriteDeadline)
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("connection closed by server")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *WSClient) dispatch(data []byte) {
	var ev EventFrame
	if err := sonic.Unmarshal(data, &ev); err != nil {
		c.logger.Error().Err(err).Str("raw", string(data)).Msg("bad event frame")
		return
	}

	c.mu.Lock()
	h := c.h
	var waiter chan *EventFrame
	if ev.Event == EventResult {
		waiter = c.pending[ev.ID]
		delete(c.pending, ev.ID)
	}
	c.mu.Unlock()

	switch ev.Event {
	case EventResult:
		if waiter != nil {
			waiter <- &ev
		}
	case EventMessage:
		if h.OnMessage != nil {
			h.OnMessage(MessageEvent{
				Channel:   ev.Channel,
				Publisher: ev.Publisher,
				Payload:   []byte(ev.Payload),
			})
		}
	case EventPresence:
		if h.OnPresence != nil {
			h.OnPresence(PresenceEvent{
				Channel:   ev.Channel,
				Kind:      ev.Kind,
				Publisher: ev.Publisher,
				State:     ev.State,
				Snapshot:  ev.Snapshot,
			})
		}
	case EventError:
		if ev.Err == nil {
			c.logger.Warn().Str("raw", string(data)).Msg("error event without error body")
			return
		}
		c.logger.Warn().Str("code", string(ev.Err.Code)).Str("message", ev.Err.Message).
			Msg("unsolicited error from server")
	default:
		c.logger.Debug().Str("event", ev.Event).Msg("unknown event dropped")
	}
}

// onConnLost flips status and starts the redial loop. The session
// survives arbitrarily long disconnected windows; consumers see
// DISCONNECTED then CONNECTED, never a teardown.
func (c *WSClient) onConnLost(conn *wsConn) {
	c.mu.Lock()
	if c.loggedOut || c.cur != conn {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	h := c.h
	c.failPendingLocked()
	c.mu.Unlock()

	if h.OnStatus != nil {
		h.OnStatus(StateDisconnected)
	}
	go c.reconnectLoop()
}

func (c *WSClient) failPendingLocked() {
	for id, ch := range c.pending {
		ch <- nil
		delete(c.pending, id)
	}
}

func (c *WSClient) reconnectLoop() {
	delay := reconnectBase
	for {
		timer := c.clk.Timer(delay)
		<-timer.C
		if delay *= 2; delay > reconnectCap {
			delay = reconnectCap
		}

		c.mu.Lock()
		if c.loggedOut {
			c.mu.Unlock()
			return
		}
		token := c.token
		channels := make([]string, 0, len(c.subscribed))
		for ch := range c.subscribed {
			channels = append(channels, ch)
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
		conn, err := c.dial(ctx, token)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Msg("redial failed")
			continue
		}

		c.mu.Lock()
		if c.loggedOut {
			c.mu.Unlock()
			conn.close()
			return
		}
		c.cur = conn
		h := c.h
		c.mu.Unlock()

		go c.writePump(conn)
		go c.readPump(conn)

		// Re-subscribe before announcing CONNECTED so consumers never
		// observe a connected transport without its channels.
		for _, channel := range channels {
			rctx, rcancel := context.WithTimeout(context.Background(), c.opTimeout)
			if _, err = c.call(rctx, OpFrame{Op: OpSubscribe, Channel: channel}); err != nil {
				c.logger.Error().Err(err).Str("channel", channel).Msg("re-subscribe failed")
			}
			rcancel()
		}
		if h.OnStatus != nil {
			h.OnStatus(StateConnected)
		}
		return
	}
}

func decodeHandshakeError(body interface{ Read([]byte) (int, error) }) *WireError {
	buf := make([]byte, 1024)
	n, _ := body.Read(buf)
	if n == 0 {
		return nil
	}
	var we WireError
	if err := sonic.Unmarshal(buf[:n], &we); err != nil || we.Code == "" {
		return nil
	}
	return &we
}
