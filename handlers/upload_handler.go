package handlers

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	config "github.com/kevinochieng254/giglink/configs"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gofiber/fiber/v2"
)

const attachmentFolder = "giglink_chat_attachments"

// attachmentUploadParams pins what a signed upload may contain: the chat
// attachment folder and the formats the message types accept. The client
// must echo these exact values or the signature will not match.
func attachmentUploadParams() uploader.UploadParams {
	return uploader.UploadParams{
		Folder:         attachmentFolder,
		AllowedFormats: api.CldAPIArray{"jpg", "jpeg", "png", "gif", "webp", "pdf", "txt", "mp3", "wav", "mp4", "webm"},
		Tags:           api.CldAPIArray{"chat_attachment"},
	}
}

// GenerateUploadSignature creates a secure signature so the client can
// upload a chat attachment directly and pass its URL in send_message.
func GenerateUploadSignature(c *fiber.Ctx) error {
	cloudinaryURL := config.Config("CLOUDINARY_URL")
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to initialize Cloudinary"})
	}

	parsedURL, err := url.Parse(cloudinaryURL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to parse Cloudinary URL"})
	}
	secret, _ := parsedURL.User.Password()

	params := attachmentUploadParams()
	paramsToSign, err := api.StructToParams(params)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to prepare signature params"})
	}

	timestamp := time.Now().Unix()
	paramsToSign.Set("timestamp", strconv.FormatInt(timestamp, 10))

	signature, err := api.SignParameters(paramsToSign, secret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to sign upload params"})
	}

	return c.JSON(fiber.Map{
		"signature":       signature,
		"timestamp":       timestamp,
		"api_key":         cld.Config.Cloud.APIKey,
		"folder":          params.Folder,
		"allowed_formats": strings.Join(params.AllowedFormats, ","),
		"tags":            strings.Join(params.Tags, ","),
	})
}
