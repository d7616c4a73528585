package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("connection buffer exceeded")
)

// Outbound is the sending side of a live connection.
type Outbound interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

// ConnectionConfig tunes heartbeats and buffering.
type ConnectionConfig struct {
	WriteWait  time.Duration
	PingPeriod time.Duration
	PongWait   time.Duration
	ReadLimit  int64
	SendBuffer int
}

// DefaultConnectionConfig matches the service defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteWait:  10 * time.Second,
		PingPeriod: 30 * time.Second,
		PongWait:   60 * time.Second,
		ReadLimit:  64 * 1024,
		SendBuffer: 128,
	}
}

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel. Send never blocks.
type Connection struct {
	ws    *websocket.Conn
	cfg   ConnectionConfig
	send  chan []byte
	close chan struct{}
	once  sync.Once

	mu      sync.Mutex
	code    int
	reason  string
	aborted bool
}

// NewConnection wraps ws.
func NewConnection(ws *websocket.Conn, cfg ConnectionConfig) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	return &Connection{
		ws:    ws,
		cfg:   cfg,
		send:  make(chan []byte, cfg.SendBuffer),
		close: make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once; the socket
// is released by the write loop.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A full buffer drops the connection without touching
// the socket from the caller's goroutine.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.abort("send buffer full")
		return ErrSlowConsumer
	}
}

// Close asks the write loop to send a close frame and tear down the socket.
// The read loop then fails and runs the normal unregister path.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.close)
	})
}

// abort closes the network connection at once. A write stuck on the peer
// fails immediately and no close frame is attempted.
func (c *Connection) abort(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = websocket.ClosePolicyViolation, reason
		c.aborted = true
		c.mu.Unlock()
		close(c.close)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.close
}

// CloseReason returns the reason given to Close, if any.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// ReadLoop reads frames until the socket fails, calling onFrame for each text
// frame. Every frame or pong extends the read deadline by PongWait.
func (c *Connection) ReadLoop(onFrame func([]byte), onPong func()) error {
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if kind == websocket.TextMessage {
			onFrame(data)
		}
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.abort("write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.abort("ping failed")
				return
			}
		}
	}
}

func (c *Connection) shutdown() {
	c.mu.Lock()
	code, reason, aborted := c.code, c.reason, c.aborted
	c.mu.Unlock()
	if !aborted {
		deadline := time.Now().Add(c.cfg.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}
	_ = c.ws.Close()
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
