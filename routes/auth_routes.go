package routes

import (
	"github.com/kevinochieng254/giglink/handlers"
	"github.com/gofiber/fiber/v2"
)

func AuthRoutes(app *fiber.App) {
	api := app.Group("/api/v1/auth")

	api.Post("/register", handlers.RegisterUser)
	api.Post("/login", handlers.LoginUser)
}
