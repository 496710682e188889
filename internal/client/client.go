// Package client provides a reusable WebSocket client for the video-chat
// server. It connects using gobwas/ws (the same library the server uses),
// waits for the connected handshake to learn its participant handle, and
// dispatches incoming server messages to registered handlers. It implements
// the transport interface the session orchestrator drives.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/glimpse/video-chat/internal/orchestrator"
	"github.com/glimpse/video-chat/internal/protocol"
)

// Metrics tracks per-connection performance data. Useful for load testing
// and for the bot's periodic status log.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single participant connection to the video-chat server.
// It manages the WebSocket lifecycle and dispatches incoming messages to
// registered handlers. The connected handshake is handled automatically: the
// handle assigned by the server is captured before any other message is
// dispatched.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	handleMu  sync.RWMutex
	handle    string
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new client connected to the given WebSocket URL. The
// connection is established immediately and a background goroutine begins
// reading messages. Use WaitForHandle to block until the server has assigned
// a participant handle.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding.
// Handlers are invoked from the read loop goroutine so they should not block
// for extended periods. Only one handler per message type is supported;
// registering a second handler for the same type replaces the first.
// Handlers must be registered before messages of that type can arrive.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// Handle returns the participant handle assigned by the server, or an empty
// string if the connected handshake has not completed yet.
func (c *Client) Handle() string {
	c.handleMu.RLock()
	defer c.handleMu.RUnlock()
	return c.handle
}

// WaitForHandle blocks until the server has assigned a participant handle or
// the context is cancelled.
func (c *Client) WaitForHandle(ctx context.Context) (string, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.done:
			return "", fmt.Errorf("connection closed before handle was assigned")
		case <-ticker.C:
			if h := c.Handle(); h != "" {
				return h, nil
			}
		}
	}
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done returns a channel that is closed when the connection terminates.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.metrics.Errors++
			return
		}

		c.metrics.MessagesReceived++

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Handle the connected handshake internally: capture the handle the
		// server assigned before dispatching anything else.
		if envelope.Type == protocol.TypeConnected {
			var msg protocol.ConnectedMsg
			if err := json.Unmarshal(data, &msg); err == nil && msg.SelfHandle != "" {
				c.handleMu.Lock()
				c.handle = msg.SelfHandle
				c.handleMu.Unlock()
			}
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}

// ---------------------------------------------------------------------------
// Orchestrator transport
// ---------------------------------------------------------------------------

// JoinQueue asks the server to enqueue this participant for matching.
func (c *Client) JoinQueue(userID string, criteria protocol.JoinCriteria) error {
	return c.Send(protocol.JoinQueueMsg{
		Type:     protocol.TypeJoinQueue,
		UserID:   userID,
		Criteria: criteria,
	})
}

// LeaveQueue withdraws this participant from the waiting pool.
func (c *Client) LeaveQueue() error {
	return c.Send(protocol.LeaveQueueMsg{Type: protocol.TypeLeaveQueue})
}

// EndPairing tears down the participant's active pairing.
func (c *Client) EndPairing() error {
	return c.Send(protocol.EndPairingMsg{Type: protocol.TypeEndPairing})
}

// AckPairing acknowledges a match notification.
func (c *Client) AckPairing(pairingID string) error {
	return c.Send(protocol.PairAckMsg{
		Type:      protocol.TypePairAck,
		PairingID: pairingID,
	})
}

// SendSignal relays a negotiation payload to the paired peer.
func (c *Client) SendSignal(pairingID, targetHandle string, sig protocol.Signal) error {
	return c.Send(protocol.RelayMsg{
		Type:         protocol.TypeRelay,
		PairingID:    pairingID,
		TargetHandle: targetHandle,
		Signal:       sig,
	})
}

// ReportPeer reports the current peer for misconduct. The server ends the
// pairing as part of handling the report.
func (c *Client) ReportPeer(reason string) error {
	return c.Send(protocol.ReportMsg{Type: protocol.TypeReport, Reason: reason})
}

// Bind registers handlers that feed server events into the given
// orchestrator. Call after the connected handshake so the orchestrator is
// constructed with the right handle, and before driving any user actions.
func (c *Client) Bind(o *orchestrator.Orchestrator) {
	c.On(protocol.TypeWaiting, func(data json.RawMessage) {
		var msg protocol.WaitingMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		o.HandleWaiting(msg)
	})
	c.On(protocol.TypeMatched, func(data json.RawMessage) {
		var msg protocol.MatchedMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		o.HandleMatched(msg)
	})
	c.On(protocol.TypeRelay, func(data json.RawMessage) {
		var msg protocol.ServerRelayMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		o.HandleSignal(msg)
	})
	c.On(protocol.TypePeerGone, func(data json.RawMessage) {
		o.HandlePeerGone()
	})
	c.On(protocol.TypeNoMatchTimeout, func(data json.RawMessage) {
		o.HandleNoMatchTimeout()
	})
}
