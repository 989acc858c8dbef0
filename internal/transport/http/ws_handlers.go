package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/proto"
	"github.com/sosnairobi/aidlink-server/internal/relay"
)

// WSHandlers upgrades HTTP connections for the chat and notification streams.
type WSHandlers struct {
	deps            Deps
	maxMessageBytes int64
	log             *zerolog.Logger
}

// NewWSHandlers builds the websocket handlers.
func NewWSHandlers(deps Deps, maxMessageBytes int64, logger *zerolog.Logger) *WSHandlers {
	return &WSHandlers{deps: deps, maxMessageBytes: maxMessageBytes, log: logger}
}

// Chat serves one party of a chat session.
// GET /ws/chat/:room/:token
func (h *WSHandlers) Chat(c *gin.Context) {
	roomID := c.Param("room")
	token := c.Param("token")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	conn.SetReadLimit(h.maxMessageBytes)

	role, err := h.deps.Sessions.Authenticate(roomID, token)
	if err != nil {
		h.log.Debug().Err(err).Str("room_id", roomID).Msg("chat auth rejected")
		conn.Close(websocket.StatusCode(proto.CloseCodeUnauthorized), "unauthorized")
		return
	}

	party, err := h.deps.Relay.Join(roomID, role)
	if err != nil {
		if errors.Is(err, relay.ErrRoleOccupied) {
			conn.Close(websocket.StatusCode(proto.CloseCodeRoomFull), "role already connected")
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("join room")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.chatReadLoop(ctx, conn, roomID, role)
	}()
	go func() {
		errCh <- h.chatWriteLoop(ctx, conn, party)
	}()

	err = <-errCh
	h.deps.Relay.Leave(roomID, role)
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("room_id", roomID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandlers) chatReadLoop(ctx context.Context, conn *websocket.Conn, roomID, role string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		// A frame that is not JSON gets an error frame and is dropped; only
		// transport failures end the loop.
		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: "bad_frame", Msg: "frames must be JSON"},
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		switch inbound.Type {
		case proto.InboundTypeMsg:
			var msg proto.MsgData
			if err := json.Unmarshal(inbound.Data, &msg); err != nil || msg.Text == "" {
				if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
					Type:  proto.OutboundTypeError,
					Error: &proto.Error{Code: "bad_message", Msg: "malformed msg frame"},
				}); writeErr != nil {
					return writeErr
				}
				continue
			}
			h.deps.Relay.Send(roomID, role, msg.Text)
		case proto.InboundTypeClose:
			if err := h.deps.Sessions.Close(ctx, roomID); err != nil {
				h.log.Error().Err(err).Str("room_id", roomID).Msg("close session")
			}
			return nil
		default:
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: "unknown_type", Msg: "unknown frame type"},
			}); writeErr != nil {
				return writeErr
			}
		}
	}
}

func (h *WSHandlers) chatWriteLoop(ctx context.Context, conn *websocket.Conn, party *relay.Party) error {
	for {
		select {
		case out, ok := <-party.Out:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Notifications serves the one-way notification stream for a single identity.
// Volunteers and operators authenticate with their JWT; an anonymous
// requester presents the request ID it was handed at intake.
// GET /ws/notifications?token=...  or  ?request_id=...
func (h *WSHandlers) Notifications(c *gin.Context) {
	identity, ok := h.resolveIdentity(c)

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if !ok {
		conn.Close(websocket.StatusCode(proto.CloseCodeUnauthorized), "unauthorized")
		return
	}

	sub := h.deps.Notify.Attach(identity)
	defer h.deps.Notify.Detach(sub)

	// The stream is write-only; CloseRead watches for the client going away.
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case n, ok := <-sub.Out:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream replaced")
				return
			}
			if err := wsjson.Write(ctx, conn, n); err != nil {
				h.log.Debug().Err(err).Str("identity", identity).Msg("notification write failed")
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		}
	}
}

func (h *WSHandlers) resolveIdentity(c *gin.Context) (string, bool) {
	if token := c.Query("token"); token != "" {
		claims, err := auth.ValidateToken(h.deps.JWTConfig, token)
		if err != nil {
			h.log.Debug().Err(err).Msg("notification auth rejected")
			return "", false
		}
		switch claims.Role {
		case auth.RoleVolunteer:
			return "volunteer:" + claims.SubjectID, true
		case auth.RoleOperator:
			return "operator:" + claims.SubjectID, true
		default:
			return "", false
		}
	}
	if requestID := c.Query("request_id"); requestID != "" {
		if _, err := h.deps.Store.GetRequest(c.Request.Context(), requestID); err != nil {
			h.log.Debug().Err(err).Msg("unknown request identity")
			return "", false
		}
		return "requester:" + requestID, true
	}
	return "", false
}
