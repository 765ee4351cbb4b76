// Package signaling implements the websocket client for the out-of-band call
// signaling channel: request/response round-trips (invite, accept, reject,
// cancel, hang-up, room-token) multiplexed with server push events over a
// single connection.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dverbeek/palaver/internal/call"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
)

var (
	ErrClosed         = errors.New("signaling connection closed")
	ErrRequestTimeout = errors.New("signaling request timed out")
)

// errorCodeBusy is the server error code for an engaged callee line.
const errorCodeBusy = "busy"

// Envelope is the wire frame shared by requests, acks and push events.
type Envelope struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	RoomID string          `json:"room_id,omitempty"`
	From   string          `json:"from,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Request frame types understood by the server.
const (
	typeInvite      = "invite"
	typeInviteGroup = "invite-group"
	typeAccept      = "accept"
	typeReject      = "reject"
	typeCancel      = "cancel"
	typeHangUp      = "hang-up"
	typeRoomToken   = "room-token"
	typeAck         = "ack"

	// Push frame type for a newly received invitation; everything else in
	// the push namespace maps 1:1 onto call.SignalKind values.
	typeInviteReceived = "invite-received"
)

// Config wires a Client to the signaling server.
type Config struct {
	ServerURL string
	AuthToken string
	DeviceID  string

	// OnSignal and OnInvite are invoked from the read pump and must not
	// block; the call manager routes them onto session loops.
	OnSignal func(call.Signal)
	OnInvite func(*call.Invitation)

	Logger *slog.Logger
}

// Client is a call.SignalingClient over one websocket connection.
type Client struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	pending map[string]chan *Envelope
	closed  bool

	done chan struct{}
}

func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		send:    make(chan []byte, 32),
		pending: make(map[string]chan *Envelope),
		done:    make(chan struct{}),
	}
}

// Connect dials the signaling server and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	if c.cfg.DeviceID != "" {
		header.Set("X-Device-ID", c.cfg.DeviceID)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.ServerURL, header)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}
	c.conn = conn
	go c.readPump()
	go c.writePump()
	c.logger.Info("signaling connected", "server", c.cfg.ServerURL)
	return nil
}

// Done is closed when the connection is gone, however that happened.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down and fails all in-flight requests.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	waiters := c.pending
	c.pending = map[string]chan *Envelope{}
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	close(c.done)
}

func (c *Client) Invite(ctx context.Context, inv *call.Invitation) (*call.Credentials, error) {
	return c.credentialRequest(ctx, typeInvite, inv)
}

func (c *Client) InviteInGroup(ctx context.Context, inv *call.Invitation) (*call.Credentials, error) {
	return c.credentialRequest(ctx, typeInviteGroup, inv)
}

func (c *Client) Accept(ctx context.Context, inv *call.Invitation) (*call.Credentials, error) {
	return c.credentialRequest(ctx, typeAccept, inv)
}

func (c *Client) Reject(ctx context.Context, inv *call.Invitation) error {
	_, err := c.request(ctx, typeReject, inv.RoomID, inv)
	return err
}

func (c *Client) Cancel(ctx context.Context, inv *call.Invitation) error {
	_, err := c.request(ctx, typeCancel, inv.RoomID, inv)
	return err
}

func (c *Client) HangUp(ctx context.Context, inv *call.Invitation) error {
	_, err := c.request(ctx, typeHangUp, inv.RoomID, inv)
	return err
}

func (c *Client) TokenByRoomID(ctx context.Context, roomID string) (*call.Credentials, error) {
	env, err := c.request(ctx, typeRoomToken, roomID, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeCredentials(env, roomID)
}

func (c *Client) credentialRequest(ctx context.Context, reqType string, inv *call.Invitation) (*call.Credentials, error) {
	env, err := c.request(ctx, reqType, inv.RoomID, inv)
	if err != nil {
		return nil, err
	}
	return c.decodeCredentials(env, inv.RoomID)
}

func (c *Client) decodeCredentials(env *Envelope, roomID string) (*call.Credentials, error) {
	var creds call.Credentials
	if err := json.Unmarshal(env.Data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.RoomID == "" {
		creds.RoomID = roomID
	}
	if err := inspectRoomToken(&creds, c.logger); err != nil {
		return nil, err
	}
	return &creds, nil
}

// request sends one frame and waits for its ack. The caller's context going
// away makes the eventual ack a no-op for a closed call session.
func (c *Client) request(ctx context.Context, reqType, roomID string, payload any) (*Envelope, error) {
	id, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}
	env := Envelope{Type: reqType, ID: id, RoomID: roomID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	reply := make(chan *Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case c.send <- frame:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}

	select {
	case ack, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		if ack.Error != "" {
			if ack.Code == errorCodeBusy {
				return nil, fmt.Errorf("%s: %w", ack.Error, call.ErrInviteeBusy)
			}
			return nil, fmt.Errorf("signaling %s failed: %s", reqType, ack.Error)
		}
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) readPump() {
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("signaling read error", "error", err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.logger.Debug("signaling bad frame", "error", err)
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *Envelope) {
	if env.Type == typeAck && env.ID != "" {
		c.mu.Lock()
		reply := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if reply != nil {
			reply <- env
		} else {
			// A late ack for a request whose session is already gone.
			c.logger.Debug("ack without waiter dropped", "id", env.ID)
		}
		return
	}

	if env.Type == typeInviteReceived {
		var inv call.Invitation
		if err := json.Unmarshal(env.Data, &inv); err != nil {
			c.logger.Warn("undecodable invitation dropped", "error", err)
			return
		}
		if inv.RoomID == "" {
			inv.RoomID = env.RoomID
		}
		if c.cfg.OnInvite != nil {
			c.cfg.OnInvite(&inv)
		}
		return
	}

	if c.cfg.OnSignal != nil {
		c.cfg.OnSignal(call.Signal{
			Kind:   call.SignalKind(env.Type),
			RoomID: env.RoomID,
			FromID: env.From,
		})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
