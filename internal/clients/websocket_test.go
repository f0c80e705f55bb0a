package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ws "debt-titles/internal/transport/websocket"

	"github.com/gorilla/websocket"
)

func connectUser(t *testing.T, userID int64) (*ws.Hub, *websocket.Conn) {
	t.Helper()
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, userID)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:], nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for hub.Connections(userID) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (ws.Message, map[string]interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var received ws.Message
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	raw, _ := json.Marshal(received.Data)
	var data map[string]interface{}
	_ = json.Unmarshal(raw, &data)
	return received, data
}

func TestWebSocketClient_NotifyExportProgress(t *testing.T) {
	hub, conn := connectUser(t, 1)
	client := NewWebSocketClient(hub)

	if err := client.NotifyExportProgress(context.Background(), 1, "export-123", 50.5, "generating"); err != nil {
		t.Fatalf("Failed to notify progress: %v", err)
	}

	msg, data := readMessage(t, conn)
	if msg.Type != MessageExportProgress {
		t.Errorf("Expected type %q, got %q", MessageExportProgress, msg.Type)
	}
	if msg.Channel != "export_progress#1" {
		t.Errorf("unexpected channel %q", msg.Channel)
	}
	if msg.UserID != 1 {
		t.Errorf("Expected userID 1, got %d", msg.UserID)
	}
	if data["id"] != "export-123" || data["progress"].(float64) != 50.5 || data["stage"] != "generating" {
		t.Errorf("unexpected data %v", data)
	}
}

func TestWebSocketClient_NotifyExportComplete(t *testing.T) {
	hub, conn := connectUser(t, 7)
	client := NewWebSocketClient(hub)

	if err := client.NotifyExportComplete(context.Background(), 7, "export-1", "https://example.com/t.xlsx", "titles.xlsx"); err != nil {
		t.Fatalf("Failed to notify complete: %v", err)
	}

	msg, data := readMessage(t, conn)
	if msg.Type != MessageExportComplete || msg.Channel != "export_complete#7" {
		t.Errorf("unexpected message %+v", msg)
	}
	if data["url"] != "https://example.com/t.xlsx" || data["filename"] != "titles.xlsx" {
		t.Errorf("unexpected data %v", data)
	}
	if int64(data["user_id"].(float64)) != 7 {
		t.Errorf("Expected user_id 7, got %v", data["user_id"])
	}
}

func TestWebSocketClient_NotifyExportFailed(t *testing.T) {
	hub, conn := connectUser(t, 1)
	client := NewWebSocketClient(hub)

	if err := client.NotifyExportFailed(context.Background(), 1, "export-123", "upload failed"); err != nil {
		t.Fatalf("Failed to notify failed: %v", err)
	}

	msg, data := readMessage(t, conn)
	if msg.Type != MessageExportFailed {
		t.Errorf("Expected type %q, got %q", MessageExportFailed, msg.Type)
	}
	if data["message"] != "upload failed" {
		t.Errorf("Expected message 'upload failed', got '%v'", data["message"])
	}
}

func TestWebSocketClient_NotifyInstallmentStatus(t *testing.T) {
	hub, conn := connectUser(t, 3)
	client := NewWebSocketClient(hub)

	_ = client.NotifyInstallmentStatus(context.Background(), 3, "title-1", "inst-1", 2, true)
	msg, data := readMessage(t, conn)
	if msg.Type != MessageInstallmentPaid {
		t.Errorf("Expected type %q, got %q", MessageInstallmentPaid, msg.Type)
	}
	if data["title_id"] != "title-1" || data["is_paid"] != true || data["installment_number"].(float64) != 2 {
		t.Errorf("unexpected data %v", data)
	}

	_ = client.NotifyInstallmentStatus(context.Background(), 3, "title-1", "inst-1", 2, false)
	msg, _ = readMessage(t, conn)
	if msg.Type != MessageInstallmentUnpaid {
		t.Errorf("Expected type %q, got %q", MessageInstallmentUnpaid, msg.Type)
	}
}

func TestWebSocketClient_NilHub(t *testing.T) {
	client := NewWebSocketClient(nil)

	if err := client.NotifyExportProgress(context.Background(), 1, "export-123", 50.5, ""); err != nil {
		t.Errorf("Should not return error with nil hub, got: %v", err)
	}
	if err := client.NotifyInstallmentStatus(context.Background(), 1, "t", "i", 1, true); err != nil {
		t.Errorf("Should not return error with nil hub, got: %v", err)
	}

	var nilClient *WebSocketClient
	if err := nilClient.NotifyExportFailed(context.Background(), 1, "export-123", "x"); err != nil {
		t.Errorf("Should not return error with nil client, got: %v", err)
	}
}
