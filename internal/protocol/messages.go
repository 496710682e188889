// Package protocol defines the WebSocket message types and structures used
// for communication between a participant's client and the pairing server.
// All messages are serialized as JSON and follow a consistent envelope format
// with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/glimpse/video-chat/internal/match"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinQueue  = "join_queue"
	TypeLeaveQueue = "leave_queue"
	TypeEndPairing = "end_pairing"
	TypeRelay      = "relay"
	TypePairAck    = "pair_ack"
	TypeReport     = "report"
	TypePing       = "ping"
)

// Server -> Client message types. TypeRelay is shared: the same discriminator
// is used in both directions.
const (
	TypeConnected      = "connected"
	TypeWaiting        = "waiting"
	TypeMatched        = "matched"
	TypePeerGone       = "peer_gone"
	TypeNoMatchTimeout = "no_match_timeout"
	TypeError          = "error"
	TypePong           = "pong"
)

// Signal payload kinds. The relay never inspects these; they are routed by
// the orchestrator on the receiving side.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal is one negotiation payload: an offer/answer descriptor or a
// connectivity candidate. Body is opaque to the server.
type Signal struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinCriteria is the search criteria block inside a join_queue message.
// UserProfile is the sender's own display snapshot.
type JoinCriteria struct {
	Country     string        `json:"country"`
	Gender      string        `json:"gender"`
	Language    string        `json:"language"`
	AgeMin      int           `json:"ageMin"`
	AgeMax      int           `json:"ageMax"`
	UserProfile match.Profile `json:"userProfile"`
}

// Criteria converts the wire criteria block into the domain criteria used by
// the matcher, normalising empty filters to the wildcard sentinels.
func (c JoinCriteria) Criteria() match.Criteria {
	out := match.Criteria{
		Gender:   c.Gender,
		Country:  c.Country,
		Language: c.Language,
		AgeMin:   c.AgeMin,
		AgeMax:   c.AgeMax,
	}
	if out.Gender == "" {
		out.Gender = match.GenderAny
	}
	if out.Country == "" {
		out.Country = match.CountryAny
	}
	if out.AgeMax == 0 {
		out.AgeMax = 99
	}
	return out
}

// JoinQueueMsg is sent by the client to request a partner. The server either
// pairs the sender immediately or enqueues them.
type JoinQueueMsg struct {
	Type     string       `json:"type"`
	UserID   string       `json:"userId,omitempty"`
	Criteria JoinCriteria `json:"criteria"`
}

// LeaveQueueMsg is sent by the client to leave the waiting pool. Leaving
// when not queued is a no-op.
type LeaveQueueMsg struct {
	Type string `json:"type"`
}

// EndPairingMsg is sent by the client to tear down its active pairing.
// Ending an already-ended pairing is a no-op.
type EndPairingMsg struct {
	Type string `json:"type"`
}

// RelayMsg is sent by the client to forward a negotiation payload to its
// paired partner. TargetHandle must be the registered peer for PairingID.
type RelayMsg struct {
	Type         string `json:"type"`
	PairingID    string `json:"pairingId"`
	TargetHandle string `json:"targetHandle"`
	Signal       Signal `json:"signal"`
}

// PairAckMsg acknowledges that the client has started negotiating the
// pairing it was notified about.
type PairAckMsg struct {
	Type      string `json:"type"`
	PairingID string `json:"pairingId"`
}

// ReportMsg is sent by the client to report its current partner. Reporting
// also tears down the pairing.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server when a connection is established; it
// carries the handle the client is addressed by for the rest of the session.
type ConnectedMsg struct {
	Type       string `json:"type"`
	SelfHandle string `json:"selfHandle"`
}

// WaitingMsg is sent when the client was enqueued without an immediate match.
type WaitingMsg struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	QueuePosition int    `json:"queuePosition"`
}

// MatchedMsg is sent to both sides of a new pairing.
type MatchedMsg struct {
	Type          string        `json:"type"`
	PairingID     string        `json:"pairingId"`
	Partner       match.Profile `json:"partner"`
	PartnerHandle string        `json:"partnerHandle"`
	SelfHandle    string        `json:"selfHandle"`
}

// ServerRelayMsg is a negotiation payload delivered to the target of a relay.
type ServerRelayMsg struct {
	Type       string `json:"type"`
	PairingID  string `json:"pairingId"`
	FromHandle string `json:"fromHandle"`
	Signal     Signal `json:"signal"`
}

// PeerGoneMsg is sent when the partner disconnected or ended the pairing.
type PeerGoneMsg struct {
	Type string `json:"type"`
}

// NoMatchTimeoutMsg is sent when the client waited longer than the
// configured threshold without finding a partner.
type NoMatchTimeoutMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMsg is sent by the server to communicate an error condition to the
// sender of the failing request only.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinQueue:
		var m JoinQueueMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveQueue:
		var m LeaveQueueMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndPairing:
		var m EndPairingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRelay:
		var m RelayMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePairAck:
		var m PairAckMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
