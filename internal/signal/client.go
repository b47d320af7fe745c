package signal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"watch_together/native/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultRetryDelay   = 300 * time.Millisecond
	dialTimeout         = 10 * time.Second
)

// Client manages the WebSocket connection to the signaling server.
// Inbound messages are decoded and delivered on Messages; outbound messages
// are tagged with the client's scope.
type Client struct {
	url   string
	scope string

	pingInterval time.Duration
	retryDelay   time.Duration

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	dialMu       sync.Mutex
	onDisconnect func(error)

	msgs      chan domain.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a signaling client for the server at rawURL.
func NewClient(rawURL, scope string) *Client {
	return &Client{
		url:          rawURL,
		scope:        scope,
		pingInterval: defaultPingInterval,
		retryDelay:   defaultRetryDelay,
		msgs:         make(chan domain.Message, 64),
		closed:       make(chan struct{}),
	}
}

// SetDisconnectHandler registers fn to run when the connection is lost and
// cannot be re-established.
func (c *Client) SetDisconnectHandler(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// Messages returns decoded inbound messages. The channel is closed once the
// read loop exits.
func (c *Client) Messages() <-chan domain.Message {
	return c.msgs
}

// Connect dials the signaling WebSocket and starts the read and ping loops.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop()

	return nil
}

// Close shuts down the WebSocket connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}

// Send encodes and writes msg. If the channel is down it reconnects and
// retries once after a short delay; a message that still cannot be written
// is dropped and logged.
func (c *Client) Send(msg domain.Message) {
	data, err := Encode(c.scope, msg)
	if err != nil {
		log.Printf("[signal] encode %s: %v", msg.Type(), err)
		return
	}

	conn, err := c.write(data)
	if err == nil {
		return
	}
	log.Printf("[signal] send %s failed, retrying: %v", msg.Type(), err)

	select {
	case <-c.closed:
		return
	case <-time.After(c.retryDelay):
	}

	if _, err := c.redial(conn); err != nil {
		log.Printf("[signal] dropping %s: %v", msg.Type(), err)
		return
	}
	if _, err := c.write(data); err != nil {
		log.Printf("[signal] dropping %s: %v", msg.Type(), err)
	}
}

func (c *Client) write(data []byte) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errors.New("not connected")
	}
	log.Printf("[signal] >>> %s", string(data))
	return c.conn, c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse signal server: %w", err)
	}

	log.Printf("[signal] connecting to %s", u.String())

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// redial replaces stale with a fresh connection. If another goroutine
// already replaced it, that connection is returned instead.
func (c *Client) redial(stale *websocket.Conn) (*websocket.Conn, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	select {
	case <-c.closed:
		return nil, errors.New("client closed")
	default:
	}

	c.mu.Lock()
	current := c.conn
	c.mu.Unlock()
	if current != nil && current != stale {
		return current, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if stale != nil {
		stale.Close()
	}
	log.Printf("[signal] reconnected")
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.msgs)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}

			log.Printf("[signal] read error: %v", err)
			next, rerr := c.redial(conn)
			if rerr != nil {
				log.Printf("[signal] reconnect failed: %v", rerr)
				c.disconnected(fmt.Errorf("signaling lost: %w", err))
				return
			}
			conn = next
			continue
		}

		log.Printf("[signal] <<< %s", string(data))

		msg, err := Decode(c.scope, data)
		if errors.Is(err, ErrForeignScope) {
			continue
		}
		if err != nil {
			log.Printf("[signal] decode error: %v", err)
			continue
		}

		select {
		case c.msgs <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) disconnected(err error) {
	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			var err error
			if c.conn != nil {
				err = c.conn.WriteControl(
					websocket.PingMessage,
					[]byte{},
					time.Now().Add(5*time.Second),
				)
			}
			c.mu.Unlock()
			if err != nil {
				log.Printf("[signal] ping error: %v", err)
			}
		}
	}
}
