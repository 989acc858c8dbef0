// Package proto defines the websocket wire format for chat sessions and the
// notification stream.
package proto

import "encoding/json"

// Inbound is the envelope for messages coming from a chat client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeMsg   = "msg"
	InboundTypeClose = "close"

	OutboundTypeMsg    = "msg"
	OutboundTypeSystem = "system"
	OutboundTypeError  = "error"

	NotifyTypeSession = "session_established"
	NotifyTypeSystem  = "system"
	NotifyTypeError   = "error"
)

// MsgData is a chat message body. The relay never inspects or stores Text.
type MsgData struct {
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to a chat client.
type Outbound struct {
	Type   string      `json:"type"`
	Data   any         `json:"data,omitempty"`
	System *SystemData `json:"system,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

// ChatMessage is a relayed chat line. From is the sender's session role
// (requester or volunteer), never a durable identity.
type ChatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// SystemData carries session lifecycle events into the chat stream.
type SystemData struct {
	Code string `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

// Session lifecycle codes delivered on the system channel.
const (
	SystemPeerJoined     = "peer_joined"
	SystemPeerLeft       = "peer_left"
	SystemSessionClosed  = "session_closed"
	SystemSessionExpired = "session_expired"
)

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Notification is the envelope on the notification stream. Each frame is
// addressed to the single identity holding the stream.
type Notification struct {
	Type    string       `json:"type"`
	Session *SessionData `json:"session,omitempty"`
	System  *SystemData  `json:"system,omitempty"`
	Error   *Error       `json:"error,omitempty"`
}

// SessionData tells a party how to join its chat session. Token is that
// party's secret only.
type SessionData struct {
	RoomID    string `json:"room_id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Close codes beyond the RFC 6455 range used by the websocket endpoints.
const (
	CloseCodeUnauthorized = 4001
	CloseCodeRoomFull     = 4002
)
