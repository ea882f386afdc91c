package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/barrysci/stationtest-backend/internal/response"
)

// HealthHandler reports process liveness and store reachability.
type HealthHandler struct {
	rdb       *redis.Client
	journalOn bool
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(rdb *redis.Client, journalOn bool) *HealthHandler {
	return &HealthHandler{
		rdb:       rdb,
		journalOn: journalOn,
		startTime: time.Now(),
	}
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	redisStatus := "ok"
	if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
		redisStatus = "unreachable"
	}

	response.Success(c, http.StatusOK, gin.H{
		"status":         "ok",
		"redis":          redisStatus,
		"journal":        h.journalOn,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}
