package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/smadigital/cbt-backend/internal/config"
	"github.com/smadigital/cbt-backend/internal/handler"
	"github.com/smadigital/cbt-backend/internal/middleware"
	"github.com/smadigital/cbt-backend/internal/model"
	"github.com/smadigital/cbt-backend/internal/response"
	"github.com/smadigital/cbt-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	StudentExam *handler.StudentExamHandler
	ExamAdmin   *handler.ExamAdminHandler
	Correction  *handler.CorrectionHandler
	Monitor     *handler.MonitorHandler
}

// Route capabilities. Declared once, enforced by the guard; handlers never
// re-derive roles from anything but these.
var (
	capAnyAuthenticated = middleware.RouteCapability{RequiresAuth: true}
	capStudent          = middleware.RouteCapability{RequiresAuth: true, Roles: []model.Role{model.RoleStudent}}
	capStaff            = middleware.RouteCapability{RequiresAuth: true, Roles: []model.Role{model.RoleAdmin, model.RoleTeacher}}
)

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for login (30 requests per minute per IP, bursts to 60).
	authLimiter := middleware.NewRateLimiter(30, 60, time.Minute)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", authLimiter.Middleware(), handlers.Auth.Login)

		authenticated := auth.Group("")
		authenticated.Use(
			middleware.RequireAuth(authService),
			middleware.Guard(capAnyAuthenticated),
		)
		{
			// Logout skips the single-session check so a replaced or
			// already-cleared session can still log out idempotently.
			authenticated.POST("/logout", handlers.Auth.Logout)

			session := authenticated.Group("")
			session.Use(middleware.CheckSingleSession(authService))
			{
				session.GET("/me", handlers.Auth.Me)
				session.POST("/change-password", handlers.Auth.ChangePassword)
			}
		}
	}

	// ─── 2. Student Group (JWT + Single Session + Role Guard) ──────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireAuth(authService),
		middleware.CheckSingleSession(authService),
		middleware.Guard(capStudent),
	)
	{
		studentAPI.GET("/exams", handlers.StudentExam.ListExams)
		studentAPI.POST("/exams/:examId/start", handlers.StudentExam.Start)
		studentAPI.PUT("/exams/:examId/answers", handlers.StudentExam.SaveAnswer)
		studentAPI.POST("/exams/:examId/violation", handlers.StudentExam.ReportViolation)
		studentAPI.POST("/exams/:examId/submit", handlers.StudentExam.Submit)
		studentAPI.GET("/exams/:examId/state", handlers.StudentExam.GetState)
	}

	// ─── 3. Admin Group (JWT + Role Guard) ─────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireAuth(authService),
		middleware.CheckSingleSession(authService),
		middleware.Guard(capStaff),
	)
	{
		adminAPI.POST("/exams", handlers.ExamAdmin.Create)
		adminAPI.GET("/exams", handlers.ExamAdmin.List)
		adminAPI.GET("/exams/:examId", handlers.ExamAdmin.Get)
		adminAPI.DELETE("/exams/:examId", handlers.ExamAdmin.Delete)
		adminAPI.PUT("/exams/:examId/refresh-token", handlers.ExamAdmin.RefreshToken)
		adminAPI.POST("/exams/:examId/force-close", handlers.ExamAdmin.ForceClose)
		adminAPI.GET("/exams/:examId/monitoring", handlers.ExamAdmin.Monitoring)
		adminAPI.GET("/exams/:examId/results", handlers.ExamAdmin.Results)
		adminAPI.DELETE("/attempts/:attemptId/reset", handlers.ExamAdmin.ResetAttempt)

		adminAPI.GET("/exams/:examId/corrections", handlers.Correction.ListCandidates)
		adminAPI.GET("/attempts/:attemptId/correction", handlers.Correction.Load)
		adminAPI.POST("/attempts/:attemptId/correction", handlers.Correction.Save)
	}

	// ─── 4. WebSocket Group (Admin WS Auth + Role Guard) ───────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(authService),
		middleware.CheckSingleSession(authService),
		middleware.Guard(capStaff),
	)
	{
		ws.GET("/admin/exams/:examId/monitor", handlers.Monitor.MonitorExamStream)
	}

	return router
}
