// Package wsvenue is the live venue session: a JSON protocol over a
// websocket. The read loop is the only goroutine that invokes the listener.
package wsvenue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/brokergw/internal/crypto"
	"github.com/alanyoungcy/brokergw/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var errNotConnected = errors.New("wsvenue: not connected")

// Config describes the venue endpoint.
type Config struct {
	URL              string
	Account          string
	Auth             *crypto.HMACAuth // nil for unauthenticated gateways
	HandshakeTimeout time.Duration
}

// Client implements domain.VenueSession. It does not reconnect on its own;
// a lost connection is reported through the listener and the caller decides.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{} // closed when conn is released

	writeMu sync.Mutex
	nextID  atomic.Int64
	reqID   atomic.Int64
}

// NewClient creates a Client for cfg.URL, e.g. "wss://gateway.example/v1/session".
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With(slog.String("component", "wsvenue"))}
}

// Connect dials the venue, waits for the next_valid_id handshake, subscribes
// to account updates and starts delivering callbacks to l.
func (c *Client) Connect(ctx context.Context, l domain.VenueListener) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("wsvenue: already connected")
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("wsvenue: parse url: %w", err)
	}
	header := http.Header{}
	if c.cfg.Auth != nil {
		header = c.cfg.Auth.HandshakeHeaders(u.Path)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("wsvenue: connect: %w", err)
	}

	if err := c.handshake(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	c.conn = conn
	c.done = done

	// Account updates are per connection and must be requested every time.
	sub := wireEnvelope{Type: msgSubscribeAccount, ReqID: c.reqID.Add(1), Account: c.cfg.Account}
	if err := c.write(ctx, conn, sub); err != nil {
		c.conn = nil
		close(done)
		conn.Close()
		return fmt.Errorf("wsvenue: subscribe account: %w", err)
	}

	go c.readLoop(conn, done, l)
	go c.pingLoop(conn, done)

	c.logger.InfoContext(ctx, "venue session established", slog.Int64("next_order_id", c.nextID.Load()))
	return nil
}

// handshake reads the first frame, which must carry the next valid order id.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetReadDeadline(deadline)

	var env wireEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("wsvenue: handshake: %w", err)
	}
	if env.Type == msgError {
		var we wireError
		_ = json.Unmarshal(env.Data, &we)
		return fmt.Errorf("wsvenue: handshake rejected: %d %s", we.Code, we.Message)
	}
	if env.Type != msgNextValidID || env.OrderID <= 0 {
		return fmt.Errorf("wsvenue: handshake: unexpected %q frame", env.Type)
	}
	c.bumpNextID(env.OrderID)
	return nil
}

// bumpNextID raises the order id sequence to at least id. Ids never move
// backwards across reconnects.
func (c *Client) bumpNextID(id int64) {
	for {
		cur := c.nextID.Load()
		if id <= cur || c.nextID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Disconnect closes the socket without reporting a lost connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()
	return conn.Close()
}

// NextOrderID returns the next id of the sequence seeded by the handshake.
func (c *Client) NextOrderID(ctx context.Context) (int64, error) {
	if c.current() == nil {
		return 0, errNotConnected
	}
	return c.nextID.Add(1) - 1, nil
}

// PlaceOrder sends o under brokerID. Acknowledgement arrives as an
// order_status callback.
func (c *Client) PlaceOrder(ctx context.Context, brokerID int64, o domain.VenueOrder) error {
	data, err := json.Marshal(toWireOrder(o))
	if err != nil {
		return fmt.Errorf("wsvenue: marshal order: %w", err)
	}
	return c.send(ctx, wireEnvelope{Type: msgPlaceOrder, OrderID: brokerID, Data: data})
}

// ModifyOrder amends origID; the venue reports it as replacementID afterwards.
func (c *Client) ModifyOrder(ctx context.Context, origID, replacementID int64, o domain.VenueOrder) error {
	data, err := json.Marshal(toWireOrder(o))
	if err != nil {
		return fmt.Errorf("wsvenue: marshal order: %w", err)
	}
	return c.send(ctx, wireEnvelope{Type: msgModifyOrder, OrigID: origID, OrderID: replacementID, Data: data})
}

// CancelOrder requests cancellation of brokerID.
func (c *Client) CancelOrder(ctx context.Context, brokerID int64) error {
	return c.send(ctx, wireEnvelope{Type: msgCancelOrder, OrderID: brokerID})
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) send(ctx context.Context, env wireEnvelope) error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}
	env.ReqID = c.reqID.Add(1)
	if err := c.write(ctx, conn, env); err != nil {
		return fmt.Errorf("wsvenue: %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop dispatches frames until the socket fails. A failure on the live
// connection is reported once through OnConnectionLost.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}, l domain.VenueListener) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			live := c.conn == conn
			if live {
				c.conn = nil
				close(done)
			}
			c.mu.Unlock()
			conn.Close()

			if live {
				c.logger.Warn("venue session lost", slog.String("error", err.Error()))
				l.OnConnectionLost(fmt.Errorf("wsvenue: read: %w", err))
			}
			return
		}
		c.handleMessage(message, l)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses one frame and routes it to the listener.
func (c *Client) handleMessage(raw []byte, l domain.VenueListener) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("malformed frame", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case msgOrderStatus:
		var w wireOrderStatus
		if !c.decode(env, &w) {
			return
		}
		rep, ok := w.report()
		if !ok {
			c.logger.Debug("ignored venue status", slog.String("status", w.Status), slog.Int64("order_id", w.OrderID))
			return
		}
		l.OnOrderStatus(rep)

	case msgExecution:
		var w wireExecution
		if c.decode(env, &w) {
			l.OnExecution(w.report())
		}

	case msgAccountValue:
		var w wireAccountValue
		if c.decode(env, &w) && w.Key == cashBalanceKey {
			l.OnAccountValue(domain.AccountValue{Currency: w.Currency, CashBalance: w.Value, Time: w.Time})
		}

	case msgPosition:
		var w wirePosition
		if c.decode(env, &w) {
			l.OnPosition(w.report())
		}

	case msgNextValidID:
		c.bumpNextID(env.OrderID)

	case msgError:
		var w wireError
		if !c.decode(env, &w) {
			return
		}
		c.handleError(w, l)

	default:
		c.logger.Debug("unhandled frame", slog.String("type", env.Type))
	}
}

func (c *Client) decode(env wireEnvelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.logger.Warn("malformed payload", slog.String("type", env.Type), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Error codes with venue-specific meaning. Only the rejection codes end an
// order; other order-scoped errors (a refused cancel or amend, a pacing
// notice) leave it working at the venue.
const (
	codeOrderRejected   = 201
	codeOrderCanceled   = 202
	codeSecurityBlocked = 203
	codeInfoLow         = 2100
	codeInfoHigh        = 2200
)

// handleError maps order-scoped venue errors to status reports. Informational
// codes, refused requests and session-level errors are only logged.
func (c *Client) handleError(w wireError, l domain.VenueListener) {
	log := c.logger.With(slog.Int("code", w.Code), slog.Int64("order_id", w.OrderID), slog.String("message", w.Message))
	switch {
	case w.Code >= codeInfoLow && w.Code < codeInfoHigh:
		log.Debug("venue notice")
	case w.OrderID == 0:
		log.Warn("venue error")
	case w.Code == codeOrderCanceled:
		l.OnOrderStatus(domain.OrderStatusReport{BrokerID: w.OrderID, Status: domain.OrderStatusCanceled, Message: w.Message})
	case w.Code == codeOrderRejected || w.Code == codeSecurityBlocked:
		log.Warn("venue rejected order")
		l.OnOrderStatus(domain.OrderStatusReport{BrokerID: w.OrderID, Status: domain.OrderStatusRejected, Message: w.Message})
	default:
		log.Warn("venue refused order request")
	}
}
