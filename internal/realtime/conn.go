package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/event"
)

// ConnState is the lifecycle state of the realtime channel.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrSendBlocked  = errors.New("realtime: send buffer full")
)

var (
	// tuning parameters
	writeWait        = 10 * time.Second    // time allowed to write a frame to the peer
	pongWait         = 20 * time.Second    // time allowed to read the next pong from the peer
	pingInterval     = (pongWait * 9) / 10 // send pings with this period
	maxFrameSize     = 64 * 1024           // max inbound frame size
	sendBufSize      = 256                 // outbound buffer size
	sendTimeout      = 2 * time.Second     // timeout for enqueuing an outbound frame
	handshakeTimeout = 10 * time.Second

	defaultRetryInterval = time.Second
	defaultMaxRetries    = 5
)

// ConnConfig configures a Conn. Zero-valued knobs fall back to the
// package defaults (1 s spacing, 5 attempts).
type ConnConfig struct {
	URL           string
	RetryInterval time.Duration
	MaxRetries    int
}

type session struct {
	ws     *websocket.Conn
	egress chan event.WsEvent
	cancel chan struct{}
	once   sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.cancel)
		_ = s.ws.Close()
	})
}

// Conn owns the single duplex channel for one authenticated client.
// Nothing else in this package dials, closes, or writes the websocket;
// other components emit through Conn and receive through the Bus it
// publishes into.
//
// A dropped connection is redialed automatically, MaxRetries attempts
// spaced RetryInterval apart. Past the cap the Conn stays disconnected
// until the caller runs Connect again. Connect on a live Conn tears the
// old channel down first, so at most one channel exists per session.
type Conn struct {
	cfg    ConnConfig
	dialer *websocket.Dialer
	bus    *Bus
	logger *zap.Logger

	mu    sync.Mutex
	state ConnState
	sess  *session
	token string
	gen   int // bumped by Connect/Disconnect; stale pumps see it and exit
}

func NewConn(cfg ConnConfig, bus *Bus, logger *zap.Logger) *Conn {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Conn{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		bus:    bus,
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether frames can be sent right now.
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the channel, presenting token once as handshake
// auth metadata. A rejected handshake is not returned to the caller;
// the Conn slides into its backoff loop and the caller observes the
// outcome through State / the connectivity events on the bus.
func (c *Conn) Connect(ctx context.Context, token string) {
	c.mu.Lock()
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
	c.gen++
	gen := c.gen
	c.token = token
	c.state = StateConnecting
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("handshake failed", zap.Error(err))
		c.publishLifecycle(event.EventConnectError)
		go c.redial(gen)
		return
	}
	c.install(gen, ws)
}

// Disconnect releases the channel. Further Emit calls fail until the
// next Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.gen++
	sess := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if sess != nil {
		sess.close()
		c.publishLifecycle(event.EventDisconnected)
	}
}

// Emit queues an intent frame for the server. It fails fast when the
// channel is down; nothing is buffered across connections.
func (c *Conn) Emit(kind string, payload any) error {
	ev, err := event.New(kind, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	sess := c.sess
	connected := c.state == StateConnected && sess != nil
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	select {
	case sess.egress <- ev:
		return nil
	case <-sess.cancel:
		return ErrNotConnected
	case <-time.After(sendTimeout):
		return ErrSendBlocked
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return ws, err
}

// install publishes the websocket as the live session for generation
// gen and starts its pumps. It refuses when gen is stale (the caller
// disconnected or reconnected in the meantime).
func (c *Conn) install(gen int, ws *websocket.Conn) bool {
	sess := &session{
		ws:     ws,
		egress: make(chan event.WsEvent, sendBufSize),
		cancel: make(chan struct{}),
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = ws.Close()
		return false
	}
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	go c.writePump(sess)
	go c.readPump(gen, sess)
	c.publishLifecycle(event.EventConnected)
	return true
}

// readPump decodes inbound frames and publishes them on the bus, in
// arrival order, from this single goroutine. On a read error for the
// still-current session it hands over to the redial loop.
func (c *Conn) readPump(gen int, sess *session) {
	sess.ws.SetReadLimit(int64(maxFrameSize))
	_ = sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		return sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev event.WsEvent
		if err := sess.ws.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			current := gen == c.gen && c.sess == sess
			if current {
				c.sess = nil
				c.state = StateReconnecting
			}
			c.mu.Unlock()
			sess.close()

			if current {
				c.logger.Info("connection lost", zap.Error(err))
				c.publishLifecycle(event.EventDisconnected)
				c.redial(gen)
			}
			return
		}
		c.bus.Publish(ev)
	}
}

func (c *Conn) writePump(sess *session) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sess.close()
	}()

	for {
		select {
		case <-sess.cancel:
			return
		case ev := <-sess.egress:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.ws.WriteJSON(ev); err != nil {
				c.logger.Warn("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := sess.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// redial runs the bounded reconnection loop for generation gen. It
// gives up for good after MaxRetries failed attempts; only an explicit
// Connect revives the channel after that.
func (c *Conn) redial(gen int) {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.state = StateReconnecting
		c.mu.Unlock()

		time.Sleep(c.cfg.RetryInterval)

		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}

		ws, err := c.dial(context.Background())
		if err == nil {
			c.install(gen, ws)
			return
		}
		c.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxRetries),
			zap.Error(err),
		)
		c.publishLifecycle(event.EventConnectError)
	}

	c.mu.Lock()
	if gen == c.gen {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.logger.Warn("reconnect attempts exhausted")
}

func (c *Conn) publishLifecycle(kind string) {
	c.bus.Publish(event.WsEvent{Event: kind})
}
