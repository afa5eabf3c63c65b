package handlers

import (
	"testing"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentUploadParamsArePinned(t *testing.T) {
	params := attachmentUploadParams()

	assert.Equal(t, attachmentFolder, params.Folder)
	assert.Contains(t, params.AllowedFormats, "png")
	assert.Contains(t, params.AllowedFormats, "pdf")
	assert.NotContains(t, params.AllowedFormats, "exe")
	assert.Contains(t, params.Tags, "chat_attachment")

	// The folder and format restrictions must be part of the signed
	// parameter set, not response-only decoration.
	signable, err := api.StructToParams(params)
	require.NoError(t, err)
	assert.Equal(t, attachmentFolder, signable.Get("folder"))
	assert.NotEmpty(t, signable.Get("allowed_formats"))
	assert.NotEmpty(t, signable.Get("tags"))
}
