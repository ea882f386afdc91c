package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/response"
	"github.com/barrysci/stationtest-backend/internal/service"
)

// ImageHandler proxies question images as data URIs.
type ImageHandler struct {
	images *service.ImageService
	log    zerolog.Logger
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(images *service.ImageService, log zerolog.Logger) *ImageHandler {
	return &ImageHandler{
		images: images,
		log:    log.With().Str("component", "image_handler").Logger(),
	}
}

// Fetch godoc
// GET /api/v1/image?url=<remote>
// Fetches a remote image and returns it as a data URI. Responses are
// cacheable; the image taxonomy status codes pass through.
func (h *ImageHandler) Fetch(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		response.FailWithMessage(c, http.StatusBadRequest, response.ErrImageFetchFailed, "url query parameter is required")
		return
	}

	dataURI, err := h.images.FetchAsDataURI(c.Request.Context(), rawURL)
	if err != nil {
		var imgErr *service.ImageError
		if errors.As(err, &imgErr) {
			response.FailWithMessage(c, imgErr.Status, response.ErrImageFetchFailed, imgErr.Message)
			return
		}
		h.log.Error().Err(err).Str("url", rawURL).Msg("Image fetch failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"image": dataURI})
}
