// Package signal is the WebSocket side of the signaling channel: it dials the
// server, runs the read and write pumps and hands frames to a core.SignalSink.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/core"
)

var ErrClosed = errors.New("signaling connection closed")

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendQueue    int
	Header       http.Header
	Dialer       *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Conn implements core.SignalConnection over a gorilla WebSocket.
type Conn struct {
	ws   *websocket.Conn
	sink core.SignalSink
	opts Options
	send chan core.Frame

	mu     sync.RWMutex
	closed bool

	stopped chan struct{}
}

var _ core.SignalConnection = (*Conn)(nil)

// Dial connects to url and starts the pumps. ctx bounds the handshake only;
// the connection lives until Close or until the server goes away, in which
// case sink.OnSignalClosed is called once.
func Dial(ctx context.Context, url string, sink core.SignalSink, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	ws, resp, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	log.Info().Str("module", "signal").Str("url", url).Msg("connected")

	c := &Conn{
		ws:      ws,
		sink:    sink,
		opts:    opts,
		send:    make(chan core.Frame, opts.SendQueue),
		stopped: make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// TrySend queues f without blocking.
func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close sends a close frame and shuts the pumps down. The sink is not
// notified of a close it asked for.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Done is closed once the read pump exited.
func (c *Conn) Done() <-chan struct{} { return c.stopped }

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave")
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
				log.Debug().Str("module", "signal").Msg("writePump closed")
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer close(c.stopped)

	pongWait := c.opts.PingPeriod * 10 / 9
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.sink.Deliver(data)
	}
}

// finish reports a remote or network close to the sink exactly once.
func (c *Conn) finish(err error) {
	c.mu.Lock()
	local := c.closed
	if !local {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	if local {
		log.Debug().Str("module", "signal").Msg("readPump stopped after local close")
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	log.Warn().Err(err).Str("module", "signal").Msg("readPump closing")
	c.sink.OnSignalClosed(err)
}
