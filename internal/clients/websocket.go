package clients

import (
	"context"
	"fmt"

	ws "debt-titles/internal/transport/websocket"
)

const (
	MessageExportProgress    = "export_progress"
	MessageExportComplete    = "export_complete"
	MessageExportFailed      = "export_failed"
	MessageInstallmentPaid   = "installment_paid"
	MessageInstallmentUnpaid = "installment_unpaid"
)

// WebSocketClient pushes notifications through the hub. A nil hub turns every call into a no-op.
type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{hub: hub}
}

func (c *WebSocketClient) send(userID int64, msgType, channel string, data map[string]interface{}) error {
	if c == nil || c.hub == nil {
		return nil
	}
	c.hub.Broadcast(userID, &ws.Message{
		Type:    msgType,
		Channel: fmt.Sprintf("%s#%d", channel, userID),
		Data:    data,
	})
	return nil
}

func (c *WebSocketClient) NotifyExportProgress(ctx context.Context, userID int64, exportID string, progress float64, stage string) error {
	data := map[string]interface{}{
		"id":       exportID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}
	return c.send(userID, MessageExportProgress, "export_progress", data)
}

func (c *WebSocketClient) NotifyExportComplete(ctx context.Context, userID int64, exportID, url, filename string) error {
	return c.send(userID, MessageExportComplete, "export_complete", map[string]interface{}{
		"id":       exportID,
		"url":      url,
		"filename": filename,
		"user_id":  userID,
	})
}

func (c *WebSocketClient) NotifyExportFailed(ctx context.Context, userID int64, exportID, errMsg string) error {
	return c.send(userID, MessageExportFailed, "export_failed", map[string]interface{}{
		"id":      exportID,
		"message": errMsg,
		"user_id": userID,
	})
}

// NotifyInstallmentStatus tells a user an installment changed paid state.
func (c *WebSocketClient) NotifyInstallmentStatus(ctx context.Context, userID int64, titleID, installmentID string, number int, paid bool) error {
	msgType := MessageInstallmentUnpaid
	if paid {
		msgType = MessageInstallmentPaid
	}
	return c.send(userID, msgType, "debt_titles", map[string]interface{}{
		"title_id":           titleID,
		"installment_id":     installmentID,
		"installment_number": number,
		"is_paid":            paid,
	})
}
