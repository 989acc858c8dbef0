package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/proto"
)

func wsURL(env *testEnv, path string) string {
	return strings.Replace(env.ts.URL, "http", "ws", 1) + path
}

func dialWS(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func sendChat(t *testing.T, ctx context.Context, conn *websocket.Conn, text string) {
	t.Helper()

	payload, _ := json.Marshal(proto.MsgData{Text: text})
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		t.Fatalf("write msg: %v", err)
	}
}

// readChatMsg reads frames until a chat message arrives, skipping system
// frames like peer_joined.
func readChatMsg(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.ChatMessage {
	t.Helper()

	for {
		var out struct {
			Type   string            `json:"type"`
			Data   json.RawMessage   `json:"data"`
			System *proto.SystemData `json:"system"`
		}
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if out.Type == proto.OutboundTypeSystem {
			continue
		}
		if out.Type != proto.OutboundTypeMsg {
			t.Fatalf("unexpected frame type %s", out.Type)
		}
		var msg proto.ChatMessage
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			t.Fatalf("unmarshal chat message: %v", err)
		}
		return msg
	}
}

func TestMedicalRequestEndToEnd(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	volID, volJWT := env.addVolunteer(t, geo.Point{Lat: -1.2930, Lng: 36.8215}, "Medical")

	// The volunteer listens for notifications before anything happens.
	volNotify := dialWS(t, ctx, wsURL(env, "/ws/notifications?token="+volJWT))
	defer volNotify.Close(websocket.StatusNormalClosure, "done")

	// Tap the internal topic to observe the requester's copy too.
	established := make(chan bus.SessionEstablished, 2)
	env.bus.Subscribe(bus.TopicSessionsEstablish, func(_ context.Context, e bus.Envelope) error {
		var msg bus.SessionEstablished
		if err := bus.DecodeInto(e, bus.KindSessionEstablished, &msg); err != nil {
			return err
		}
		established <- msg
		return nil
	})

	var created SubmitRequestResponse
	status := postJSON(t, env, "/api/v1/request/direct", "", SubmitRequestBody{
		Category: "Medical",
		Lat:      -1.2921,
		Lng:      36.8219,
		Content:  "diabetic emergency near the market",
	}, &created)
	if status != http.StatusAccepted {
		t.Fatalf("submit failed with %d", status)
	}

	// Exactly two scoped notifications, one per party, with distinct tokens.
	byRecipient := make(map[string]bus.SessionEstablished)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-established:
			byRecipient[msg.Recipient] = msg
		case <-ctx.Done():
			t.Fatalf("expected 2 session notifications, got %d", len(byRecipient))
		}
	}
	reqNote, ok := byRecipient["requester:"+created.RequestID]
	if !ok {
		t.Fatalf("no notification for the requester: %v", byRecipient)
	}
	volNote, ok := byRecipient["volunteer:"+volID]
	if !ok {
		t.Fatalf("no notification for the volunteer: %v", byRecipient)
	}
	if reqNote.Token == volNote.Token {
		t.Fatalf("parties must receive distinct tokens")
	}

	// The volunteer's websocket stream carries only its own token.
	var notification proto.Notification
	if err := wsjson.Read(ctx, volNotify, &notification); err != nil {
		t.Fatalf("read volunteer notification: %v", err)
	}
	if notification.Type != proto.NotifyTypeSession || notification.Session == nil {
		t.Fatalf("unexpected notification %+v", notification)
	}
	if notification.Session.Token != volNote.Token {
		t.Fatalf("volunteer stream delivered a foreign token")
	}

	// Both parties join the room and chat.
	roomID := volNote.RoomID
	reqConn := dialWS(t, ctx, wsURL(env, "/ws/chat/"+roomID+"/"+reqNote.Token))
	defer reqConn.Close(websocket.StatusNormalClosure, "done")
	volConn := dialWS(t, ctx, wsURL(env, "/ws/chat/"+roomID+"/"+volNote.Token))
	defer volConn.Close(websocket.StatusNormalClosure, "done")

	sendChat(t, ctx, reqConn, "please hurry")
	msg := readChatMsg(t, ctx, volConn)
	if msg.From != "requester" || msg.Text != "please hurry" {
		t.Fatalf("unexpected relayed message %+v", msg)
	}

	sendChat(t, ctx, volConn, "five minutes away")
	msg = readChatMsg(t, ctx, reqConn)
	if msg.From != "volunteer" || msg.Text != "five minutes away" {
		t.Fatalf("unexpected relayed message %+v", msg)
	}
}

func TestChatRejectsInvalidToken(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, wsURL(env, "/ws/chat/no-such-room/bad-token"))
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var frame json.RawMessage
	err := wsjson.Read(ctx, conn, &frame)
	if err == nil {
		t.Fatalf("expected the server to close the connection")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusCode(proto.CloseCodeUnauthorized) {
		t.Fatalf("expected close code %d, got %v", proto.CloseCodeUnauthorized, status)
	}
}

func TestChatRejectsSecondConnectionForRole(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	env.addVolunteer(t, geo.Point{Lat: -1.2930, Lng: 36.8215}, "Medical")

	established := make(chan bus.SessionEstablished, 2)
	env.bus.Subscribe(bus.TopicSessionsEstablish, func(_ context.Context, e bus.Envelope) error {
		var msg bus.SessionEstablished
		if err := bus.DecodeInto(e, bus.KindSessionEstablished, &msg); err != nil {
			return err
		}
		established <- msg
		return nil
	})

	var created SubmitRequestResponse
	if status := postJSON(t, env, "/api/v1/request/direct", "", SubmitRequestBody{
		Category: "Medical",
		Lat:      -1.2921,
		Lng:      36.8219,
		Content:  "need help",
	}, &created); status != http.StatusAccepted {
		t.Fatalf("submit failed with %d", status)
	}

	var reqNote bus.SessionEstablished
	for i := 0; i < 2; i++ {
		select {
		case msg := <-established:
			if msg.Recipient == "requester:"+created.RequestID {
				reqNote = msg
			}
		case <-ctx.Done():
			t.Fatalf("no session notifications")
		}
	}
	if reqNote.Token == "" {
		t.Fatalf("requester notification missing")
	}

	first := dialWS(t, ctx, wsURL(env, "/ws/chat/"+reqNote.RoomID+"/"+reqNote.Token))
	defer first.Close(websocket.StatusNormalClosure, "done")

	second := dialWS(t, ctx, wsURL(env, "/ws/chat/"+reqNote.RoomID+"/"+reqNote.Token))
	defer second.Close(websocket.StatusNormalClosure, "done")

	var frame json.RawMessage
	err := wsjson.Read(ctx, second, &frame)
	if err == nil {
		t.Fatalf("expected the duplicate connection to be closed")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusCode(proto.CloseCodeRoomFull) {
		t.Fatalf("expected close code %d, got %v", proto.CloseCodeRoomFull, status)
	}
}

func TestChatDropsNonJSONFrameAndStaysOpen(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	env.addVolunteer(t, geo.Point{Lat: -1.2930, Lng: 36.8215}, "Medical")

	established := make(chan bus.SessionEstablished, 2)
	env.bus.Subscribe(bus.TopicSessionsEstablish, func(_ context.Context, e bus.Envelope) error {
		var msg bus.SessionEstablished
		if err := bus.DecodeInto(e, bus.KindSessionEstablished, &msg); err != nil {
			return err
		}
		established <- msg
		return nil
	})

	var created SubmitRequestResponse
	if status := postJSON(t, env, "/api/v1/request/direct", "", SubmitRequestBody{
		Category: "Medical",
		Lat:      -1.2921,
		Lng:      36.8219,
		Content:  "need help",
	}, &created); status != http.StatusAccepted {
		t.Fatalf("submit failed with %d", status)
	}

	var reqNote, volNote bus.SessionEstablished
	for i := 0; i < 2; i++ {
		select {
		case msg := <-established:
			if msg.Recipient == "requester:"+created.RequestID {
				reqNote = msg
			} else {
				volNote = msg
			}
		case <-ctx.Done():
			t.Fatalf("no session notifications")
		}
	}

	reqConn := dialWS(t, ctx, wsURL(env, "/ws/chat/"+reqNote.RoomID+"/"+reqNote.Token))
	defer reqConn.Close(websocket.StatusNormalClosure, "done")
	volConn := dialWS(t, ctx, wsURL(env, "/ws/chat/"+volNote.RoomID+"/"+volNote.Token))
	defer volConn.Close(websocket.StatusNormalClosure, "done")

	if err := reqConn.Write(ctx, websocket.MessageText, []byte("this is not json")); err != nil {
		t.Fatalf("write raw frame: %v", err)
	}

	// The garbage frame gets an error frame back, not a closed connection.
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, reqConn, &out); err != nil {
			t.Fatalf("connection should survive a garbage frame: %v", err)
		}
		if out.Type == proto.OutboundTypeSystem {
			continue
		}
		if out.Type != proto.OutboundTypeError || out.Error == nil {
			t.Fatalf("expected an error frame, got %+v", out)
		}
		break
	}

	// And chat still works afterwards.
	sendChat(t, ctx, reqConn, "still here")
	msg := readChatMsg(t, ctx, volConn)
	if msg.From != "requester" || msg.Text != "still here" {
		t.Fatalf("unexpected relayed message %+v", msg)
	}
}

func TestNotificationsRejectUnknownIdentity(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, wsURL(env, "/ws/notifications"))
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var frame json.RawMessage
	err := wsjson.Read(ctx, conn, &frame)
	if err == nil {
		t.Fatalf("expected the server to close the connection")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusCode(proto.CloseCodeUnauthorized) {
		t.Fatalf("expected close code %d, got %v", proto.CloseCodeUnauthorized, status)
	}
}
