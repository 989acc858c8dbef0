// Command smoke runs an end-to-end requester flow against a live server:
// submit a help request, wait for a session on the notification stream, join
// the chat room and send one message.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sosnairobi/aidlink-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	category := flag.String("category", "Medical", "request category")
	lat := flag.Float64("lat", -1.2921, "request latitude")
	lng := flag.Float64("lng", 36.8219, "request longitude")
	text := flag.String("text", "smoke test request, please ignore", "request text")
	timeout := flag.Duration("timeout", 30*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	requestID, err := submitRequest(ctx, *addr, *category, *lat, *lng, *text)
	if err != nil {
		return err
	}
	fmt.Printf("request accepted: %s\n", requestID)

	wsBase := "ws" + (*addr)[len("http"):]
	notifyConn, _, err := websocket.Dial(ctx, wsBase+"/ws/notifications?request_id="+requestID, nil)
	if err != nil {
		return fmt.Errorf("dial notifications: %w", err)
	}
	defer notifyConn.Close(websocket.StatusNormalClosure, "bye")

	var session *proto.SessionData
	for session == nil {
		var n proto.Notification
		if err := wsjson.Read(ctx, notifyConn, &n); err != nil {
			return fmt.Errorf("read notification: %w", err)
		}
		fmt.Printf("notification: type=%s\n", n.Type)
		if n.Type == proto.NotifyTypeSession {
			session = n.Session
		}
	}
	fmt.Printf("session established: room=%s expires=%d\n", session.RoomID, session.ExpiresAt)

	chatConn, _, err := websocket.Dial(ctx, wsBase+"/ws/chat/"+session.RoomID+"/"+session.Token, nil)
	if err != nil {
		return fmt.Errorf("dial chat: %w", err)
	}
	defer chatConn.Close(websocket.StatusNormalClosure, "bye")

	payload, err := json.Marshal(proto.MsgData{Text: "hello from smoke test"})
	if err != nil {
		return fmt.Errorf("marshal msg: %w", err)
	}
	if err := wsjson.Write(ctx, chatConn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		return fmt.Errorf("send msg: %w", err)
	}

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, chatConn, &out); err != nil {
			return fmt.Errorf("read chat: %w", err)
		}
		fmt.Printf("chat frame: type=%s", out.Type)
		if out.System != nil {
			fmt.Printf(" code=%s", out.System.Code)
		}
		fmt.Println()
	}
}

func submitRequest(ctx context.Context, addr, category string, lat, lng float64, text string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"category": category,
		"lat":      lat,
		"lng":      lng,
		"content":  text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/api/v1/request/direct", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submit: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.RequestID, nil
}
