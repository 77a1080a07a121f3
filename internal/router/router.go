package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-examclient/internal/config"
	"github.com/stemsi/exstem-examclient/internal/handler"
	"github.com/stemsi/exstem-examclient/internal/middleware"
	"github.com/stemsi/exstem-examclient/internal/response"
	"github.com/stemsi/exstem-examclient/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.ExamSessionHandler
	Stream  *handler.StreamHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// stop ends background housekeeping of the rate limiter.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	stop <-chan struct{},
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode != gin.ReleaseMode {
		router.Use(gin.Logger())
	}

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli(5, 0))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Opening a session hits the backend up to three times; keep reload
	// storms from hammering it.
	openLimiter := middleware.NewRateLimiter(20, time.Minute, middleware.ByStudent, stop)

	// ─── 1. Student Exam Group (JWT) ───────────────────────────────────
	exams := router.Group("/api/v1/student/exams/:exam_id")
	exams.Use(
		middleware.RequireStudentJWT(authService),
		middleware.NoStore(),
	)
	{
		exams.POST("/start", handlers.Session.StartExam)

		exams.POST("/session", openLimiter.Middleware(), handlers.Session.OpenSession)
		exams.GET("/session", handlers.Session.GetSession)
		exams.DELETE("/session", handlers.Session.AbandonSession)

		exams.PUT("/answers/:question_id", handlers.Session.RecordAnswer)
		exams.POST("/flags/:question_id", handlers.Session.ToggleFlag)
		exams.PUT("/languages/:question_id", handlers.Session.SelectLanguage)
		exams.POST("/flush", handlers.Session.Flush)
		exams.POST("/submit", handlers.Session.Submit)

		exams.POST("/security/accept", handlers.Session.AcceptSecurity)
		exams.POST("/security/events", handlers.Session.SecurityEvent)
		exams.POST("/security/acknowledge", handlers.Session.Acknowledge)
	}

	// ─── 2. WebSocket Group (Student JWT via ?token=) ──────────────────
	if handlers.Stream != nil {
		ws := router.Group("/ws/v1")
		ws.Use(middleware.RequireStudentJWT(authService))
		{
			ws.GET("/student/exams/:exam_id/stream", handlers.Stream.ExamStream)
		}
	}

	return router
}
