package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/response"
	"github.com/barrysci/stationtest-backend/internal/upstream"
)

// CatalogHandler exposes the upstream test catalog and station questions.
type CatalogHandler struct {
	client *upstream.Client
	log    zerolog.Logger
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(client *upstream.Client, log zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{
		client: client,
		log:    log.With().Str("component", "catalog_handler").Logger(),
	}
}

// ListTests godoc
// GET /api/v1/tests
// Lists the available test names from the question endpoint.
func (h *CatalogHandler) ListTests(c *gin.Context) {
	tests, err := h.client.ListTests(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Test catalog fetch failed")
		response.Fail(c, http.StatusBadGateway, response.ErrUpstreamUnavailable)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tests": tests})
}

// GetStation godoc
// GET /api/v1/tests/:test/stations/:station
// Returns the question list for one station. Empty means the station does
// not exist.
func (h *CatalogHandler) GetStation(c *gin.Context) {
	station, err := strconv.Atoi(c.Param("station"))
	if err != nil || station < 1 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	questions, err := h.client.FetchStation(c.Request.Context(), c.Param("test"), station)
	if err != nil {
		h.log.Error().Err(err).Int("station", station).Msg("Station fetch failed")
		response.Fail(c, http.StatusBadGateway, response.ErrUpstreamUnavailable)
		return
	}
	if len(questions) == 0 {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}
