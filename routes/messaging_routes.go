package routes

import (
	"github.com/kevinochieng254/giglink/handlers"
	"github.com/kevinochieng254/giglink/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func MessagingRoutes(app *fiber.App) {
	api := app.Group("/api/v1")

	conversations := api.Group("/conversations", middleware.Protected())
	conversations.Get("", handlers.GetChats)
	conversations.Get("/by-proposal/:proposalId", handlers.GetConversationByProposal)
	conversations.Get("/:conversationId/messages", handlers.GetConversationMessages)
	conversations.Post("/:conversationId/messages", handlers.SendMessageHTTP)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, middleware.WebSocketAuth())
	api.Get("/ws", websocket.New(handlers.ServeWs))
}
