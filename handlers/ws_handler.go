package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/kevinochieng254/giglink/services"
	"github.com/kevinochieng254/giglink/websocket"
	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	eventTimeout = 10 * time.Second
	readWait     = 90 * time.Second

	// maxFrameBytes bounds inbound frames. Comfortably above the largest
	// valid send_message payload, so only abusive frames are cut off.
	maxFrameBytes = 16 << 10
)

// ServeWs runs one authenticated realtime session. Identity was attached by
// the handshake middleware and is immutable for the socket's lifetime.
func ServeWs(conn *websocketcontrib.Conn) {
	userID, ok := conn.Locals("ws_user_id").(uuid.UUID)
	if !ok {
		_ = conn.Close()
		return
	}

	client := websocket.NewClient(userID, conn)
	Hub.Attach(client)
	Hub.Join(websocket.UserRoom(userID.String()), client)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	if err := Presence.Add(ctx, userID, client.SocketID); err != nil {
		log.Printf("Failed to register presence for %s: %v", userID, err)
	}
	if err := Bridge.EmitAll(ctx, websocket.EventUserOnline, map[string]interface{}{"user_id": userID}); err != nil {
		log.Printf("Failed to broadcast user_online for %s: %v", userID, err)
	}
	cancel()

	log.Printf("WebSocket client connected: %s", userID)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		Hub.Detach(client)

		// Removal is scoped to this socket: a reconnect replaces the entry
		// before this cleanup runs, and the still-connected user must not be
		// wiped or announced offline by the old connection's teardown.
		removed, err := Presence.Remove(ctx, userID, client.SocketID)
		if err != nil {
			log.Printf("Failed to remove presence for %s: %v", userID, err)
		}
		if removed {
			if err := Bridge.EmitAll(ctx, websocket.EventUserOffline, map[string]interface{}{"user_id": userID}); err != nil {
				log.Printf("Failed to broadcast user_offline for %s: %v", userID, err)
			}
		}
		client.Close(websocketcontrib.CloseNormalClosure, "session ended")
		log.Printf("WebSocket client disconnected: %s", userID)
	}()

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if err := Presence.Touch(ctx, userID); err != nil {
			log.Printf("Failed to refresh presence for %s: %v", userID, err)
		}
		return nil
	})

	for {
		var envelope websocket.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if websocketcontrib.IsCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseAbnormalClosure) {
				log.Printf("WebSocket closed for client %s: %v", userID, err)
			} else {
				log.Printf("WebSocket read error for client %s: %v", userID, err)
			}
			break
		}
		dispatchEvent(client, &envelope)
	}
}

// dispatchEvent gates one inbound event through validation and admission,
// then hands it to the pipeline. Events for one connection run in order.
func dispatchEvent(client *websocket.Client, envelope *websocket.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	payload, fieldErrors := websocket.ValidateEvent(envelope.Event, envelope.Data)
	if fieldErrors != nil {
		sendError(client, "Validation failed", fieldErrors, nil)
		return
	}

	userID := client.UserID
	var err error
	switch p := payload.(type) {
	case *websocket.JoinConversationPayload:
		_, err = Chat.JoinConversation(ctx, userID, p.ConversationID, client)
	case *websocket.LeaveConversationPayload:
		Chat.LeaveConversation(ctx, userID, p.ConversationID, client)
	case *websocket.SendMessagePayload:
		_, err = Chat.SendMessage(ctx, userID, p)
	case *websocket.TypingPayload:
		err = Chat.Typing(ctx, userID, p)
	case *websocket.MarkAsReadPayload:
		_, _, err = Chat.MarkAsRead(ctx, userID, p)
	}
	if err == nil {
		return
	}

	var rle *services.RateLimitError
	switch {
	case errors.As(err, &rle):
		retry := rle.RetryAfterSeconds()
		sendError(client, "Rate limit exceeded", nil, &retry)
	case errors.Is(err, services.ErrConversationNotFound):
		sendError(client, "Conversation not found", nil, nil)
	case errors.Is(err, services.ErrMessageNotFound):
		sendError(client, "Message not found", nil, nil)
	default:
		log.Printf("Event %s failed for %s: %v", envelope.Event, userID, err)
		sendError(client, "Failed to process "+envelope.Event, nil, nil)
	}
}

// sendError emits a structured error frame to the originating connection
// only.
func sendError(client *websocket.Client, message string, fieldErrors []websocket.FieldError, retryAfter *int) {
	body := map[string]interface{}{"message": message}
	if fieldErrors != nil {
		body["errors"] = fieldErrors
	}
	if retryAfter != nil {
		body["retry_after"] = *retryAfter
	}
	if err := client.Send(websocket.Frame(websocket.EventError, body)); err != nil {
		raw, _ := json.Marshal(body)
		log.Printf("Failed to deliver error frame %s: %v", raw, err)
	}
}
