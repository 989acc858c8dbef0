package bus

import (
	"time"

	"github.com/sosnairobi/aidlink-server/internal/geo"
)

// Kind tags. Each topic's set of valid tags is closed; decoding anything else
// fails with ErrUnknownKind.
const (
	KindRequestNew         = "request.new"         // requests.new
	KindAssignmentCreated  = "assignment.created"  // assignments.create
	KindVolunteerStatus    = "volunteer.status"    // volunteers.status
	KindSessionEstablished = "session.established" // sessions.establish
	KindSystemNotice       = "system.notice"       // notifications.system
)

// RequestNew announces a validated, location-obfuscated help request.
type RequestNew struct {
	RequestID string    `json:"request_id"`
	Category  string    `json:"category"`
	Location  geo.Point `json:"location"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// AssignmentCreated announces a freshly arbitrated request/volunteer pairing.
// Tokens travel on this internal topic only; they reach clients exclusively
// through scoped session notifications.
type AssignmentCreated struct {
	AssignmentID   string    `json:"assignment_id"`
	RequestID      string    `json:"request_id"`
	VolunteerID    string    `json:"volunteer_id"`
	RequesterToken string    `json:"requester_token"`
	VolunteerToken string    `json:"volunteer_token"`
	CreatedAt      time.Time `json:"created_at"`
}

// VolunteerStatus announces an availability transition.
type VolunteerStatus struct {
	VolunteerID  string    `json:"volunteer_id"`
	Availability string    `json:"availability"`
	At           time.Time `json:"at"`
}

// SessionEstablished tells exactly one recipient how to join a chat session.
// Recipient is a scoped identity (requester:<requestID> or
// volunteer:<volunteerID>); the message carries only that party's token.
type SessionEstablished struct {
	Recipient    string    `json:"recipient"`
	RoomID       string    `json:"room_id"`
	AssignmentID string    `json:"assignment_id"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SystemNotice is a scoped informational message (session expiry warnings,
// teardown notices). Never broadcast.
type SystemNotice struct {
	Recipient string    `json:"recipient"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// SystemNotice codes.
const (
	NoticeSessionExpired = "session_expired"
	NoticeSessionClosed  = "session_closed"
	NoticePeerLeft       = "peer_left"
)
