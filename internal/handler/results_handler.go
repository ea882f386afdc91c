package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/repository"
	"github.com/barrysci/stationtest-backend/internal/response"
)

// ResultsHandler serves the journaled final results. Registered only when
// the journal database is configured.
type ResultsHandler struct {
	results *repository.ResultRepository
	log     zerolog.Logger
}

// NewResultsHandler creates a new ResultsHandler.
func NewResultsHandler(results *repository.ResultRepository, log zerolog.Logger) *ResultsHandler {
	return &ResultsHandler{
		results: results,
		log:     log.With().Str("component", "results_handler").Logger(),
	}
}

// ListByTest godoc
// GET /api/v1/tests/:test/results?limit=n
// Lists journaled final results for a test, newest first.
func (h *ResultsHandler) ListByTest(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	results, err := h.results.ListByTest(c.Request.Context(), c.Param("test"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Result listing failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}
