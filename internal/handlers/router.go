package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lusia-studio/quiz-engine/internal/services"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

type HandlerManager struct {
	attemptHandler *AttemptHandler
}

func NewHandlerManager(
	attempts *services.AttemptService,
	sessions *services.SessionManager,
	exports *services.ExportService,
	validator *utils.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		attemptHandler: NewAttemptHandler(attempts, sessions, exports, validator, logger),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// Health check endpoint
	router.GET("/health", HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		attempts := v1.Group("/attempts")
		{
			attempts.POST("", hm.attemptHandler.StartAttempt)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.PUT("/:id/answers/:question_id", hm.attemptHandler.SetAnswer)
			attempts.DELETE("/:id/answers/:question_id", hm.attemptHandler.ClearAnswer)
			attempts.GET("/:id/save-state", hm.attemptHandler.GetSaveState)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
			attempts.GET("/:id/results", hm.attemptHandler.GetResults)
			attempts.GET("/:id/results/export", hm.attemptHandler.ExportResults)
			attempts.POST("/:id/override", hm.attemptHandler.OverrideGrading)
			attempts.DELETE("/:id/session", hm.attemptHandler.CloseSession)
		}
	}
}

// HealthCheck reports service liveness
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "quiz-engine",
	})
}
