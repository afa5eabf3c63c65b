package routes

import (
	"github.com/kevinochieng254/giglink/handlers"
	"github.com/kevinochieng254/giglink/middleware"
	"github.com/gofiber/fiber/v2"
)

func ProposalRoutes(app *fiber.App) {
	api := app.Group("/api/v1", middleware.Protected())

	api.Post("/jobs", handlers.CreateJob)
	api.Post("/jobs/:jobId/proposals", handlers.SubmitProposal)
	api.Post("/proposals/:proposalId/accept", handlers.AcceptProposal)
}
