package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/edustack/assessment-engine/internal/services"
	"github.com/edustack/assessment-engine/internal/utils"
	"github.com/edustack/assessment-engine/internal/validator"
)

type HandlerManager struct {
	assessmentHandler *AssessmentHandler
	attemptHandler    *AttemptHandler
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		assessmentHandler: NewAssessmentHandler(serviceManager.Assessment(), serviceManager.Report(), validator, logger),
		attemptHandler:    NewAttemptHandler(serviceManager.Attempt(), validator, logger),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes, identity comes from the gateway
	v1 := router.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		// Assessment routes
		assessments := v1.Group("/assessments")
		{
			assessments.POST("", hm.assessmentHandler.CreateAssessment)
			assessments.GET("", hm.assessmentHandler.ListAssessments)
			assessments.GET("/:id", hm.assessmentHandler.GetAssessment)
			assessments.PUT("/:id", hm.assessmentHandler.UpdateAssessment)
			assessments.DELETE("/:id", hm.assessmentHandler.DeleteAssessment)
			assessments.GET("/:id/stats", hm.assessmentHandler.GetAssessmentStats)
			assessments.GET("/:id/export", hm.assessmentHandler.ExportResults)
		}

		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.GET("", hm.attemptHandler.ListAttempts)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.PUT("/:id/answers", hm.attemptHandler.StageAnswer)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)
			attempts.GET("/:id/time-remaining", hm.attemptHandler.GetTimeRemaining)

			// Assessment-specific routes
			attempts.GET("/can-start/:assessment_id", hm.attemptHandler.CanStartAttempt)
			attempts.GET("/count/:assessment_id", hm.attemptHandler.GetAttemptCount)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "assessment-engine",
		})
	})
}
