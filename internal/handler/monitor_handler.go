package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/smadigital/cbt-backend/internal/config"
	"github.com/smadigital/cbt-backend/internal/middleware"
	"github.com/smadigital/cbt-backend/internal/response"
	"github.com/smadigital/cbt-backend/internal/service"
)

const (
	monitorSnapshotLimit = 1000
	pingInterval         = 30 * time.Second
	writeTimeout         = 10 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// MonitorHandler streams live proctoring events to administrators over
// WebSocket. Events originate from the attempt service's Redis pub/sub
// channel; the initial snapshot comes from the monitoring query.
type MonitorHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	attemptService *service.AttemptService,
	log zerolog.Logger,
	allowedOrigins []string,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		examService:    examService,
		attemptService: attemptService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// MonitorExamStream godoc
// WS /ws/v1/admin/exams/:examId/monitor
// Sends a snapshot of the exam's attempts, then forwards started/violation/
// submitted events as they are published.
func (h *MonitorHandler) MonitorExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("admin_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Admin attached to live monitor")

	ctx := c.Request.Context()

	// Initial snapshot before any live events.
	rows, _, err := h.attemptService.Monitoring(ctx, examID, 1, monitorSnapshotLimit)
	if err != nil {
		wsLog.Error().Err(err).Msg("Snapshot query failed")
		return
	}
	snapshot := gin.H{
		"type": "snapshot",
		"exam": gin.H{
			"id":       exam.ID,
			"title":    exam.Title,
			"duration": exam.DurationMinutes,
		},
		"attempts": rows,
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(snapshot); err != nil {
		wsLog.Warn().Err(err).Msg("Snapshot write failed")
		return
	}

	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	// Read pump: we never expect client messages, but reading is the only
	// way to notice a closed connection promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Admin disconnected from live monitor")
			return

		case <-done:
			wsLog.Info().Msg("Monitor connection closed by client")
			return

		case msg := <-ch:
			// Forward raw JSON as published, no re-encode.
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				wsLog.Warn().Err(err).Msg("Event write failed")
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
