package routes

import (
	"github.com/kevinochieng254/giglink/handlers"
	"github.com/kevinochieng254/giglink/middleware"
	"github.com/gofiber/fiber/v2"
)

func UploadRoutes(app *fiber.App) {
	api := app.Group("/api/v1", middleware.Protected())

	api.Post("/uploads/signature", handlers.GenerateUploadSignature)
}
