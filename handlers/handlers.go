package handlers

import (
	"github.com/kevinochieng254/giglink/services"
	"github.com/kevinochieng254/giglink/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Shared messaging dependencies, wired once at boot.
var (
	Hub      *websocket.Hub
	Chat     *services.ChatService
	Cache    *services.ConversationCache
	Presence *services.Presence
	Bridge   *services.Bridge
)

func InitMessaging(hub *websocket.Hub, chat *services.ChatService, cache *services.ConversationCache, presence *services.Presence, bridge *services.Bridge) {
	Hub = hub
	Chat = chat
	Cache = cache
	Presence = presence
	Bridge = bridge
}

// currentUserID extracts the authenticated identity set by the Protected
// middleware.
func currentUserID(c *fiber.Ctx) (uuid.UUID, error) {
	token := c.Locals("user").(*jwt.Token)
	claims := token.Claims.(jwt.MapClaims)
	sub, _ := claims["user_id"].(string)
	return uuid.Parse(sub)
}
