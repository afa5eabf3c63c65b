package handlers

import (
	"errors"
	"fmt"
	"log"

	"github.com/kevinochieng254/giglink/database"
	"github.com/kevinochieng254/giglink/models"
	"github.com/kevinochieng254/giglink/notifications"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CreateJobRequest struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description string  `json:"description" validate:"required"`
	Budget      float64 `json:"budget" validate:"required,gt=0"`
}

type SubmitProposalRequest struct {
	CoverLetter string  `json:"cover_letter" validate:"required"`
	BidAmount   float64 `json:"bid_amount" validate:"required,gt=0"`
}

func CreateJob(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	job := models.Job{
		ClientID:    userID,
		Title:       req.Title,
		Description: req.Description,
		Budget:      req.Budget,
	}
	if err := database.DB.Create(&job).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create job"})
	}
	return c.Status(fiber.StatusCreated).JSON(job)
}

func SubmitProposal(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	jobID := c.Params("jobId")

	var req SubmitProposalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var job models.Job
	if err := database.DB.First(&job, "id = ?", jobID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Job not found"})
	}
	if job.ClientID == userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Cannot bid on your own job"})
	}

	proposal := models.Proposal{
		JobID:        job.ID,
		FreelancerID: userID,
		CoverLetter:  req.CoverLetter,
		BidAmount:    req.BidAmount,
	}
	if err := database.DB.Create(&proposal).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to submit proposal"})
	}
	return c.Status(fiber.StatusCreated).JSON(proposal)
}

// AcceptProposal marks the proposal accepted and opens the conversation
// between the client and the freelancer. Accepting the same proposal twice
// (or racing another acceptance) returns the already-created conversation.
func AcceptProposal(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	proposalID := c.Params("proposalId")

	var proposal models.Proposal
	err = database.DB.
		Preload("Job").
		Preload("Freelancer").
		First(&proposal, "id = ?", proposalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Proposal not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load proposal"})
	}

	if proposal.Job.ClientID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only the job owner can accept a proposal"})
	}

	if proposal.Status != models.ProposalStatusAccepted {
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Proposal{}).Where("id = ?", proposal.ID).
				Update("status", models.ProposalStatusAccepted).Error; err != nil {
				return err
			}
			return tx.Model(&models.Job{}).Where("id = ?", proposal.JobID).
				Update("status", "in_progress").Error
		})
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to accept proposal"})
		}
	}

	conversation, created, err := Chat.CreateConversationForProposal(c.Context(), &proposal)
	if err != nil {
		log.Printf("Failed to open conversation for proposal %s: %v", proposal.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create conversation"})
	}

	if created {
		body := fmt.Sprintf("<h1>Proposal accepted</h1><p>Your proposal for %q was accepted. You can now message the client.</p>", proposal.Job.Title)
		go notifications.SendEmail(proposal.Freelancer.FullName, proposal.Freelancer.Email, "Your proposal was accepted!", body)
	}

	view, err := Cache.GetConversation(c.Context(), conversation.ID)
	if err != nil || view == nil {
		return c.Status(fiber.StatusCreated).JSON(conversation)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(view)
}
