package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/auth"
	"github.com/lumastream/signalcore/internal/transport"
)

const defaultWriteDeadline = 5 * time.Second

type Options struct {
	ReadLimit   int64
	PingPeriod  time.Duration
	PublishRate int
	PublishWin  time.Duration
	LoginRate   int
	LoginWin    time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.PublishRate <= 0 {
		o.PublishRate = 30
	}
	if o.PublishWin <= 0 {
		o.PublishWin = 10 * time.Second
	}
	if o.LoginRate <= 0 {
		o.LoginRate = 10
	}
	if o.LoginWin <= 0 {
		o.LoginWin = time.Minute
	}
	return o
}

type Controller struct {
	hub      *Hub
	verifier *auth.Verifier
	opts     Options
	publish  *SlidingLimiter
	logins   *SlidingLimiter
	upgrader websocket.Upgrader
}

func NewController(hub *Hub, verifier *auth.Verifier, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		hub:      hub,
		verifier: verifier,
		opts:     opts,
		publish:  NewSlidingLimiter(opts.PublishRate, opts.PublishWin),
		logins:   NewSlidingLimiter(opts.LoginRate, opts.LoginWin),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// peer is one connected user. Send marshals and enqueues; the write
// pump drains. A full buffer drops the event, never blocks the hub.
type peer struct {
	uid  string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (p *peer) Send(ev transport.EventFrame) error {
	b, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return transport.NewError(transport.ErrCodeClosed, "peer closed")
	}
	select {
	case p.send <- b:
		return nil
	default:
		return transport.NewError(transport.ErrCodeRateLimited, "peer send buffer full")
	}
}

func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.send)
	_ = p.conn.Close()
	p.mu.Unlock()
}

func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	token := c.Query("token")
	claims, err := ctl.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, transport.WireError{
			Code: transport.ErrCodeLoginFailed, Message: "token rejected",
		})
		return
	}
	uid := claims.UserID

	if !ctl.logins.Allow(uid) {
		c.JSON(http.StatusTooManyRequests, transport.WireError{
			Code: transport.ErrCodeLoginTooFrequent, Message: "login attempts exceeded",
		})
		return
	}
	if ctl.hub.IsOnline(uid) {
		c.JSON(http.StatusConflict, transport.WireError{
			Code: transport.ErrCodeAlreadyLoggedIn, Message: "uid already connected",
		})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "server.handler").Msg("ws upgrade")
		return
	}

	p := &peer{uid: uid, conn: ws, send: make(chan []byte, 64)}
	if err = ctl.hub.Connect(uid, p); err != nil {
		p.close()
		return
	}
	log.Info().Str("module", "server.handler").Str("uid", uid).Msg("peer online")

	go ctl.writePump(ctx, p)
	go ctl.readPump(ctx, p)
}

func (ctl *Controller) writePump(ctx context.Context, p *peer) {
	pinger := time.NewTicker(ctl.opts.PingPeriod)
	defer pinger.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			deadline := time.Now().Add(defaultWriteDeadline)
			if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case b, ok := <-p.send:
			if !ok {
				return
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Error().Err(err).Str("module", "server.handler").Str("uid", p.uid).Msg("writePump write")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, p *peer) {
	defer func() {
		ctl.hub.Disconnect(p.uid)
		p.close()
		log.Info().Str("module", "server.handler").Str("uid", p.uid).Msg("peer offline")
	}()

	// ReadMessage blocks, so shutdown has to reach it through the
	// connection itself.
	stop := context.AfterFunc(ctx, p.close)
	defer stop()

	p.conn.SetReadLimit(ctl.opts.ReadLimit)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		ctl.handleOp(p, data)
	}
}

func (ctl *Controller) handleOp(p *peer, data []byte) {
	var op transport.OpFrame
	if err := sonic.Unmarshal(data, &op); err != nil {
		log.Error().Err(err).Str("module", "server.handler").Str("uid", p.uid).Msg("bad op frame")
		return
	}

	res := transport.EventFrame{Event: transport.EventResult, ID: op.ID, OK: true}
	switch op.Op {
	case transport.OpSubscribe:
		snapshot := ctl.hub.Subscribe(p.uid, op.Channel)
		// Snapshot rides on a separate presence event so the client's
		// presence path sees it like any other presence delivery.
		_ = p.Send(transport.EventFrame{
			Event:    transport.EventPresence,
			Channel:  op.Channel,
			Kind:     transport.PresenceSnapshot,
			Snapshot: snapshot,
		})
	case transport.OpUnsubscribe:
		ctl.hub.Unsubscribe(p.uid, op.Channel)
	case transport.OpPublish:
		if !ctl.publish.Allow(p.uid) {
			res = resultError(op.ID, transport.ErrCodeRateLimited, "publish rate exceeded")
			break
		}
		if err := ctl.hub.Publish(p.uid, op.Channel, op.Payload); err != nil {
			res = resultErrorFrom(op.ID, err)
		}
	case transport.OpPresenceSet:
		if err := ctl.hub.SetPresence(p.uid, op.Channel, op.State); err != nil {
			res = resultErrorFrom(op.ID, err)
		}
	case transport.OpMetadataSet:
		if err := ctl.hub.SetMetadata(p.uid, op.Channel, op.Key, op.Value); err != nil {
			res = resultErrorFrom(op.ID, err)
		}
	case transport.OpMetadataGet:
		md, err := ctl.hub.GetMetadata(p.uid, op.Channel)
		if err != nil {
			res = resultErrorFrom(op.ID, err)
			break
		}
		res.Metadata = md
	case transport.OpMetadataRemove:
		if err := ctl.hub.RemoveMetadata(p.uid, op.Channel, op.Key); err != nil {
			res = resultErrorFrom(op.ID, err)
		}
	default:
		log.Warn().Str("module", "server.handler").Str("op", op.Op).Msg("unknown op")
		res = resultError(op.ID, transport.ErrCodeBadFrame, "unknown op: "+op.Op)
	}

	if err := p.Send(res); err != nil {
		log.Warn().Err(err).Str("module", "server.handler").Str("uid", p.uid).Msg("result dropped")
	}
}

func resultError(id string, code transport.ErrorCode, msg string) transport.EventFrame {
	return transport.EventFrame{
		Event: transport.EventResult,
		ID:    id,
		Err:   &transport.WireError{Code: code, Message: msg},
	}
}

func resultErrorFrom(id string, err error) transport.EventFrame {
	if code := transport.CodeOf(err); code != "" {
		return resultError(id, code, err.Error())
	}
	return resultError(id, transport.ErrCodeInternal, err.Error())
}
