// Package relay forwards chat messages between the two parties of a session.
// Rooms hold at most one requester and one volunteer; message bodies pass
// through verbatim and are never persisted.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/metrics"
	"github.com/sosnairobi/aidlink-server/internal/proto"
)

const partyQueueSize = 16

var (
	// ErrRoleOccupied is returned when the role already has a live connection
	// in the room.
	ErrRoleOccupied = errors.New("role already connected")
)

// Party is one connected side of a room. Out carries frames toward that
// party's websocket; the transport drains it.
type Party struct {
	Role string
	Out  chan proto.Outbound
}

type room struct {
	id      string
	parties map[string]*Party // role -> party
}

// Relay owns the live room table. A room with one connected party is
// half-open: the session stays valid and the absent side can reconnect with
// its token until the TTL runs out.
type Relay struct {
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// New creates an empty relay.
func New(logger zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		rooms:  make(map[string]*room),
	}
}

// Join attaches a party to the room, creating the room on first join. A role
// can hold only one connection at a time.
func (r *Relay) Join(roomID, role string) (*Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, parties: make(map[string]*Party)}
		r.rooms[roomID] = rm
	}
	if _, occupied := rm.parties[role]; occupied {
		return nil, ErrRoleOccupied
	}

	p := &Party{
		Role: role,
		Out:  make(chan proto.Outbound, partyQueueSize),
	}
	rm.parties[role] = p

	for peerRole, peer := range rm.parties {
		if peerRole == role {
			continue
		}
		deliver(peer, proto.Outbound{
			Type:   proto.OutboundTypeSystem,
			System: &proto.SystemData{Code: proto.SystemPeerJoined},
		})
	}

	r.logger.Debug().
		Str("room_id", roomID).
		Str("role", role).
		Msg("party joined")
	return p, nil
}

// Leave detaches a party. The room itself survives so the peer keeps a
// half-open session; empty rooms are dropped.
func (r *Relay) Leave(roomID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	p, ok := rm.parties[role]
	if !ok {
		return
	}
	delete(rm.parties, role)
	close(p.Out)

	for _, peer := range rm.parties {
		deliver(peer, proto.Outbound{
			Type:   proto.OutboundTypeSystem,
			System: &proto.SystemData{Code: proto.SystemPeerLeft},
		})
	}
	if len(rm.parties) == 0 {
		delete(r.rooms, roomID)
	}
}

// Send relays a chat line from one role to the other. Reports whether a peer
// was connected to receive it; with a half-open room the line is dropped,
// nothing is buffered or stored.
func (r *Relay) Send(roomID, fromRole, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}

	out := proto.Outbound{
		Type: proto.OutboundTypeMsg,
		Data: proto.ChatMessage{
			From: fromRole,
			Text: text,
			TS:   time.Now().Unix(),
		},
	}
	delivered := false
	for role, peer := range rm.parties {
		if role == fromRole {
			continue
		}
		deliver(peer, out)
		delivered = true
	}
	if delivered {
		metrics.ChatMessagesRelayed.Inc()
	}
	return delivered
}

// CloseRoom pushes a final system frame to every connected party and removes
// the room. Wired as the session coordinator's teardown hook.
func (r *Relay) CloseRoom(roomID, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(r.rooms, roomID)

	for _, p := range rm.parties {
		deliver(p, proto.Outbound{
			Type:   proto.OutboundTypeSystem,
			System: &proto.SystemData{Code: code},
		})
		close(p.Out)
	}
	r.logger.Debug().
		Str("room_id", roomID).
		Str("code", code).
		Msg("room closed")
}

// deliver enqueues without blocking; a stalled consumer loses frames rather
// than wedging the relay.
func deliver(p *Party, out proto.Outbound) {
	select {
	case p.Out <- out:
	default:
	}
}
