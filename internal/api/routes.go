package api

import (
	"github.com/autogradeai/sage/internal/config"
	"github.com/autogradeai/sage/internal/repository"
	"github.com/autogradeai/sage/internal/workflow"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	cfg *config.Config,
	examsRepo *repository.ExamsRepository,
	subsRepo *repository.SubmissionsRepository,
	flagsRepo *repository.FlagsRepository,
	workflowSvc *workflow.Service,
) *gin.Engine {
	router := gin.Default()

	// Create handler
	handler := NewHandler(cfg, examsRepo, subsRepo, flagsRepo, workflowSvc)

	// Create rate limiter
	rateLimiter := NewRateLimiter(cfg.RateLimitRPS, int(cfg.RateLimitRPS*2))

	// Middleware
	router.Use(ErrorHandlerMiddleware())

	// Health endpoint (no auth)
	router.GET("/health", handler.Health)

	// API routes (with auth and rate limiting)
	api := router.Group("/api/v1")
	api.Use(JWTAuthMiddleware(cfg.JWTSecret))
	api.Use(RateLimitMiddleware(rateLimiter))
	{
		api.POST("/exams", handler.CreateExam)
		api.POST("/submissions", handler.Submit)
		api.GET("/submissions/:submissionId/grade", handler.GetGrade)
		api.GET("/exams/:examId/flags", handler.ListFlags)
	}

	return router
}
