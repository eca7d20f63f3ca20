package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/autogradeai/sage/internal/config"
	"github.com/autogradeai/sage/internal/models"
	"github.com/autogradeai/sage/internal/repository"
	"github.com/autogradeai/sage/internal/segment"
	"github.com/autogradeai/sage/internal/workflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler holds dependencies for handlers
type Handler struct {
	cfg          *config.Config
	examsRepo    *repository.ExamsRepository
	subsRepo     *repository.SubmissionsRepository
	flagsRepo    *repository.FlagsRepository
	workflowSvc  *workflow.Service
	gradeSem     chan struct{} // Semaphore for bounded concurrency
	gradeTimeout time.Duration
}

// NewHandler creates a new handler
func NewHandler(
	cfg *config.Config,
	examsRepo *repository.ExamsRepository,
	subsRepo *repository.SubmissionsRepository,
	flagsRepo *repository.FlagsRepository,
	workflowSvc *workflow.Service,
) *Handler {
	sem := make(chan struct{}, cfg.MaxConcurrentGrading)

	return &Handler{
		cfg:          cfg,
		examsRepo:    examsRepo,
		subsRepo:     subsRepo,
		flagsRepo:    flagsRepo,
		workflowSvc:  workflowSvc,
		gradeSem:     sem,
		gradeTimeout: cfg.GradingTimeout,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// CreateExamRequest is the payload for registering an exam with its key.
type CreateExamRequest struct {
	Title          string                  `json:"title" binding:"required"`
	DueAt          time.Time               `json:"dueAt"`
	Questions      []CreateQuestionRequest `json:"questions" binding:"required"`
	SolutionImages [][]byte                `json:"solutionImages"`
}

type CreateQuestionRequest struct {
	Idx       int     `json:"idx" binding:"required"`
	Prompt    string  `json:"prompt"`
	MaxPoints float64 `json:"maxPoints" binding:"required"`
	KeyText   string  `json:"keyText" binding:"required"`
	Keywords  string  `json:"keywords"`
}

func (h *Handler) CreateExam(c *gin.Context) {
	var req CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := validateExamPayload(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_EXAM",
		})
		return
	}

	exam := &models.Exam{
		ID:             uuid.NewString(),
		Title:          req.Title,
		DueAt:          req.DueAt,
		CreatedBy:      c.GetString("api_key"),
		Questions:      make([]models.Question, len(req.Questions)),
		SolutionImages: req.SolutionImages,
	}
	for i, q := range req.Questions {
		exam.Questions[i] = models.Question{
			Idx:       q.Idx,
			Prompt:    q.Prompt,
			MaxPoints: q.MaxPoints,
			Key: models.AnswerKey{
				Text:     q.KeyText,
				Keywords: segment.CommaKeywords(q.Keywords),
			},
		}
	}

	if err := h.examsRepo.InsertExam(c.Request.Context(), exam); err != nil {
		log.Error().Err(err).Str("title", req.Title).Msg("Failed to insert exam")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to create exam",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"examId": exam.ID})
}

// SubmitRequest is a direct text submission, bypassing the stream intake.
type SubmitRequest struct {
	SubmissionID string   `json:"submissionId"`
	ExamID       string   `json:"examId" binding:"required"`
	StudentID    string   `json:"studentId" binding:"required"`
	Text         string   `json:"text"`
	Images       [][]byte `json:"images"`
}

// Submit accepts a submission and grades it asynchronously. Responds with
// 202 Accepted once the request is admitted past the concurrency gate.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}

	ctx := c.Request.Context()
	if _, err := h.examsRepo.GetExam(ctx, req.ExamID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "No exam found for examId",
				Code:  "EXAM_NOT_FOUND",
			})
			return
		}
		log.Error().Err(err).Str("examId", req.ExamID).Msg("Failed to check exam")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to check exam",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	// Acquire semaphore (bounded concurrency)
	select {
	case h.gradeSem <- struct{}{}:
	case <-ctx.Done():
		c.JSON(http.StatusRequestTimeout, ErrorResponse{
			Error: "Request cancelled",
			Code:  "REQUEST_TIMEOUT",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"submissionId": req.SubmissionID,
		"step":         models.StepReceived,
	})

	go h.processSubmission(models.IncomingSubmission{
		SubmissionID: req.SubmissionID,
		ExamID:       req.ExamID,
		StudentID:    req.StudentID,
		Text:         req.Text,
		Images:       req.Images,
	})
}

// processSubmission grades a submission asynchronously
func (h *Handler) processSubmission(sub models.IncomingSubmission) {
	defer func() { <-h.gradeSem }() // Release semaphore

	ctx, cancel := context.WithTimeout(context.Background(), h.gradeTimeout)
	defer cancel()

	if err := h.workflowSvc.ProcessSubmission(ctx, sub); err != nil {
		log.Error().Err(err).
			Str("submissionId", sub.SubmissionID).
			Msg("Grading failed")
	}
}

func (h *Handler) GetGrade(c *gin.Context) {
	submissionID := c.Param("submissionId")

	grade, err := h.subsRepo.GetGrade(c.Request.Context(), submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "No grade found for submission",
				Code:  "GRADE_NOT_FOUND",
			})
			return
		}
		log.Error().Err(err).Str("submissionId", submissionID).Msg("Failed to get grade")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to get grade",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, grade)
}

func (h *Handler) ListFlags(c *gin.Context) {
	examID := c.Param("examId")

	flags, err := h.flagsRepo.ListFlagsByExam(c.Request.Context(), examID)
	if err != nil {
		log.Error().Err(err).Str("examId", examID).Msg("Failed to list similarity flags")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to list similarity flags",
			Code:  "INTERNAL_ERROR",
		})
		return
	}
	if flags == nil {
		flags = []models.SimilarityFlag{}
	}

	c.JSON(http.StatusOK, gin.H{
		"examId": examID,
		"flags":  flags,
	})
}

func validateExamPayload(req CreateExamRequest) error {
	if len(req.Questions) == 0 {
		return fmt.Errorf("at least one question is required")
	}
	seen := make(map[int]bool, len(req.Questions))
	for _, q := range req.Questions {
		if q.Idx < 1 {
			return fmt.Errorf("question idx must be positive, got %d", q.Idx)
		}
		if seen[q.Idx] {
			return fmt.Errorf("duplicate question idx %d", q.Idx)
		}
		seen[q.Idx] = true
		if q.MaxPoints <= 0 {
			return fmt.Errorf("question %d: maxPoints must be positive", q.Idx)
		}
		if q.KeyText == "" {
			return fmt.Errorf("question %d: keyText is required", q.Idx)
		}
	}
	return nil
}
