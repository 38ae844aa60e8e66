package ws

import (
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	TypeCreateRoom = "CREATE_ROOM"
	TypeJoinRoom   = "JOIN_ROOM"
	TypeSyncPing   = "SYNC_PING"
	TypeStartAt    = "START_AT"
	TypeAckStart   = "ACK_START"
)

// Outbound message types. START_AT and ACK_START reuse the inbound names.
const (
	TypeRoomCreated  = "ROOM_CREATED"
	TypeJoined       = "JOINED"
	TypeClientJoined = "CLIENT_JOINED"
	TypeClientLeft   = "CLIENT_LEFT"
	TypeRoomClosed   = "ROOM_CLOSED"
	TypeSyncPong     = "SYNC_PONG"
	TypeError        = "ERROR"
)

// Error codes carried by ERROR frames.
const (
	CodeBadJSON         = "BAD_JSON"
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeMissingFields   = "MISSING_FIELDS"
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeClientIDTaken   = "CLIENT_ID_TAKEN"
	CodeRoomIDExhausted = "ROOM_ID_EXHAUSTED"
	CodeNotInRoom       = "NOT_IN_ROOM"
	CodeRoomGone        = "ROOM_GONE"
	CodeNotMaster       = "NOT_MASTER"
	CodeBadTimestamp    = "BAD_TIMESTAMP"
	CodeAlreadyInRoom   = "ALREADY_IN_ROOM"
	CodeInternal        = "INTERNAL_ERROR"
)

// Envelope is the part of every frame read before routing.
type Envelope struct {
	Type string `json:"type"`
}

// ──────────────────────────── Requests ─────────────────────────────

type CreateRoomRequest struct {
	MasterID string `json:"masterId"`
}

type JoinRoomRequest struct {
	RoomID   string `json:"roomId"   validate:"required"`
	ClientID string `json:"clientId" validate:"required"`
}

// SyncPingRequest keeps seq and t0 raw so they are echoed as sent.
type SyncPingRequest struct {
	Seq json.RawMessage `json:"seq"`
	T0  json.RawMessage `json:"t0"`
}

type StartAtRequest struct {
	ServerTime json.RawMessage `json:"serverTime"`
}

type AckStartRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// ──────────────────────────── Replies and notifications ─────────────

type RoomCreated struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	MasterID   string `json:"masterId"`
	ServerTime int64  `json:"serverTime"`
}

type Joined struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	ClientID   string `json:"clientId"`
	ServerTime int64  `json:"serverTime"`
}

// ClientNotice is CLIENT_JOINED or CLIENT_LEFT.
type ClientNotice struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

type RoomClosed struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type SyncPong struct {
	Type       string          `json:"type"`
	Seq        json.RawMessage `json:"seq,omitempty"`
	T0         json.RawMessage `json:"t0,omitempty"`
	ServerTime int64           `json:"serverTime"`
}

type StartAt struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"roomId"`
	ServerTime json.RawMessage `json:"serverTime"`
}

type AckStart struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorReply struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NoReply is returned by handlers whose result goes out as a broadcast or
// relay instead of a direct reply.
type NoReply struct{}

// ProtocolError is reported to the sender as an ERROR frame. It never closes
// the connection.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func protoErr(code, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Message: msg}
}
