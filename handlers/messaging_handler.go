package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/kevinochieng254/giglink/database"
	"github.com/kevinochieng254/giglink/models"
	"github.com/kevinochieng254/giglink/services"
	"github.com/kevinochieng254/giglink/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetChats pages through the caller's conversations via the read-through
// cache, most recent activity first.
func GetChats(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	views, err := Cache.GetUserConversations(c.Context(), userID, page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch conversations"})
	}
	return c.JSON(fiber.Map{"conversations": views, "page": page, "page_size": pageSize})
}

// GetConversationByProposal resolves the conversation opened for an
// accepted proposal. Participant-only.
func GetConversationByProposal(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	proposalID, err := uuid.Parse(c.Params("proposalId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid proposal id"})
	}

	var conv models.Conversation
	err = database.DB.Where("proposal_id = ?", proposalID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch conversation"})
	}

	view, err := Cache.GetConversation(c.Context(), conv.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch conversation"})
	}
	// Same opaque error for non-participants as for a missing row.
	if view == nil || !conv.HasParticipant(userID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}
	return c.JSON(view)
}

// GetConversationMessages returns message history, oldest first.
func GetConversationMessages(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}

	view, err := Cache.GetConversation(c.Context(), conversationID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}
	if view == nil || !viewIncludes(view, userID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "50"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	var messages []models.Message
	err = database.DB.
		Preload("Sender").
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Limit(pageSize).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}
	return c.JSON(fiber.Map{"messages": messages, "page": page, "page_size": pageSize})
}

// SendMessageHTTP is the request/response twin of the realtime send_message
// event. It runs the same pipeline, so cache and state-machine semantics
// stay consistent across both surfaces.
func SendMessageHTTP(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	payload := websocket.SendMessagePayload{ConversationID: c.Params("conversationId")}
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	payload.ConversationID = c.Params("conversationId")

	if fieldErrors := validateSendPayload(&payload); fieldErrors != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Validation failed", "errors": fieldErrors})
	}

	message, err := Chat.SendMessage(c.Context(), userID, &payload)
	if err != nil {
		var rle *services.RateLimitError
		switch {
		case errors.As(err, &rle):
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many messages",
				"retry_after": rle.RetryAfterSeconds(),
			})
		case errors.Is(err, services.ErrConversationNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to send message"})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(message)
}

// validateSendPayload funnels the REST body through the same schema
// contract the realtime event uses.
func validateSendPayload(p *websocket.SendMessagePayload) []websocket.FieldError {
	raw, err := json.Marshal(p)
	if err != nil {
		return []websocket.FieldError{{Field: "data", Message: "invalid payload"}}
	}
	_, fieldErrors := websocket.ValidateEvent(websocket.EventSendMessage, raw)
	return fieldErrors
}

func viewIncludes(view *models.ConversationView, userID uuid.UUID) bool {
	for _, p := range view.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
