package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bookmarket/internal/notify"
	"bookmarket/internal/session"
	"bookmarket/pkg/domain"
)

// ReconnectDelay is the fixed pause before redialing after an unplanned close.
const ReconnectDelay = 3 * time.Second

// closeCodeAuthRejected is the application close code the backend uses for
// token rejections on an established connection.
const closeCodeAuthRejected = 4401

var (
	// ErrAuthRejected indicates the server refused the connection as
	// unauthorized. The channel suspends: no automatic reconnects until a
	// new session is established.
	ErrAuthRejected = errors.New("realtime auth rejected")
	// ErrNotConnected indicates a send was attempted without a live connection.
	ErrNotConnected = errors.New("realtime channel not connected")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	default:
		return "disconnected"
	}
}

// Channel maintains at most one WebSocket connection per authenticated
// session, delivering chat messages and notification pushes.
type Channel struct {
	dialer         *websocket.Dialer
	baseURL        string
	wsPath         string
	sessions       *session.Store
	notifier       notify.Notifier
	logger         *slog.Logger
	reconnectDelay time.Duration

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	gen       int
	timer     *time.Timer
	lastToken string
	onMessage func(domain.ChatMessage)
}

// New constructs the channel manager. baseURL is the REST base; the
// WebSocket scheme is derived from it. reconnectDelay <= 0 selects
// ReconnectDelay.
func New(baseURL, wsPath string, sessions *session.Store, notifier notify.Notifier, reconnectDelay time.Duration, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	if reconnectDelay <= 0 {
		reconnectDelay = ReconnectDelay
	}
	return &Channel{
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		baseURL:        strings.TrimRight(baseURL, "/"),
		wsPath:         wsPath,
		sessions:       sessions,
		notifier:       notifier,
		logger:         logger,
		reconnectDelay: reconnectDelay,
	}
}

// Bind ties the channel lifecycle to the session: sign-in (or a token
// change) connects, sign-out closes without reconnecting, and a fresh
// session lifts a suspension.
func (c *Channel) Bind() {
	c.sessions.OnChange(func(s *domain.Session) {
		if s == nil {
			c.Close()
			return
		}
		c.mu.Lock()
		changed := s.Token != c.lastToken
		c.mu.Unlock()
		if !changed {
			return
		}
		go func() {
			if err := c.Connect(); err != nil {
				c.logger.Warn("realtime connect failed", "err", err)
			}
		}()
	})
}

// OnMessage registers the handler for inbound chat messages.
func (c *Channel) OnMessage(fn func(domain.ChatMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the realtime endpoint with the current session credential.
// Any existing connection is closed first with its reconnect handler
// disarmed, so a manual reconnect never races the old socket's close into a
// duplicate connection.
func (c *Channel) Connect() error {
	token := c.sessions.Token()

	c.mu.Lock()
	c.disarmLocked()
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if token == "" {
		c.state = StateDisconnected
		c.mu.Unlock()
		return session.ErrNotAuthenticated
	}
	c.state = StateConnecting
	c.lastToken = token
	gen := c.gen
	c.mu.Unlock()

	endpoint, err := deriveWSURL(c.baseURL, c.wsPath, token)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	conn, resp, err := c.dialer.Dial(endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.suspend()
			return fmt.Errorf("%w: handshake status %d", ErrAuthRejected, resp.StatusCode)
		}
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		// A Close or newer Connect raced the dial; drop this socket.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("realtime connected")
	go c.readLoop(conn, gen)
	return nil
}

// Close tears the connection down deliberately: the reconnect handler is
// disarmed first, so no automatic redial follows.
func (c *Channel) Close() {
	c.mu.Lock()
	c.disarmLocked()
	c.gen++
	c.state = StateDisconnected
	c.lastToken = ""
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// SendChat sends a chat message. The payload travels as a structured JSON
// object, never as a string containing JSON: the receiving side
// deserializes the envelope once and expects structured data inside.
func (c *Channel) SendChat(content string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	envelope := outboundFrame{
		Type: "chat",
		Payload: chatPayload{
			Content:  content,
			ClientID: uuid.NewString(),
		},
	}
	return conn.WriteJSON(envelope)
}

type outboundFrame struct {
	Type    string      `json:"type"`
	Payload chatPayload `json:"payload"`
}

type chatPayload struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId"`
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := gen != c.gen
			c.mu.Unlock()
			if stale {
				return // deliberate close, nothing to do
			}
			if isAuthClose(err) {
				c.logger.Warn("realtime closed as unauthorized, suspending")
				c.suspend()
				return
			}
			c.logger.Info("realtime connection lost", "err", err)
			c.scheduleReconnect()
			return
		}
		c.dispatch(data)
	}
}

// dispatch handles one inbound frame. Unrecognized types are dropped
// silently; malformed frames are logged and dropped. Neither crashes the
// connection.
func (c *Channel) dispatch(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("dropping malformed realtime frame", "err", err)
		return
	}
	switch frame.Type {
	case "chat":
		var msg domain.ChatMessage
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			c.logger.Warn("dropping malformed chat payload", "err", err)
			return
		}
		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	case "notification":
		var text string
		if err := json.Unmarshal(frame.Payload, &text); err != nil {
			var obj struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(frame.Payload, &obj); err != nil || obj.Message == "" {
				c.logger.Warn("dropping malformed notification payload")
				return
			}
			text = obj.Message
		}
		c.notifier.Notify(notify.KindInfo, text)
	default:
		// Unknown frame shape: drop without noise.
	}
}

// scheduleReconnect arms the single reconnect timer after an unplanned
// close, as long as a session still exists and the channel is not suspended.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSuspended {
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	if c.sessions.Token() == "" {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.reconnectDelay, func() {
		if err := c.Connect(); err != nil {
			c.logger.Warn("realtime reconnect failed", "err", err)
		}
	})
}

func (c *Channel) suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
	c.gen++
	c.state = StateSuspended
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) disarmLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func isAuthClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == closeCodeAuthRejected || closeErr.Code == websocket.ClosePolicyViolation
	}
	return false
}

// deriveWSURL builds the realtime endpoint from the REST base URL: a secure
// REST scheme implies a secure WebSocket scheme, and the token rides as a
// query credential.
func deriveWSURL(baseURL, wsPath, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + wsPath
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
