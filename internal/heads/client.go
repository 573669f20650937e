package heads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one websocket connection to the node.
type conn struct {
	cfg    Config
	logger *slog.Logger

	ws *websocket.Conn

	frames chan []byte
	errors chan error
	done   chan struct{}

	writeMu sync.Mutex

	mu         sync.RWMutex
	lastPongAt time.Time
	closed     bool
}

func dial(ctx context.Context, cfg Config, logger *slog.Logger) (*conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &conn{
		cfg:        cfg,
		logger:     logger,
		ws:         ws,
		frames:     make(chan []byte, 64),
		errors:     make(chan error, 1),
		done:       make(chan struct{}),
		lastPongAt: time.Now(),
	}

	ws.SetPingHandler(func(data string) error {
		c.touch()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	logger.Debug("websocket connected", "url", cfg.URL)
	return c, nil
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *conn) send(v any) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) fail(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			// Ignore errors after close.
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}

		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings the node and reports the connection stale when pongs stop.
func (c *conn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "err", err)
			}

			c.mu.RLock()
			last := c.lastPongAt
			c.mu.RUnlock()

			if time.Since(last) > c.cfg.PingTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", last,
					"timeout", c.cfg.PingTimeout,
				)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}
