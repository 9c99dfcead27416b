package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
	"github.com/edustack/assessment-engine/internal/services"
	"github.com/edustack/assessment-engine/internal/utils"
	"github.com/edustack/assessment-engine/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// StartAttempt starts a new attempt or resumes the active one
// @Summary Start or resume an attempt
// @Description Starts a new attempt for an assessment, or resumes the learner's active attempt if one exists
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartAttemptRequest true "Start attempt data"
// @Success 201 {object} services.AttemptResponse
// @Success 200 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.LogRequest(c, "Starting assessment attempt")

	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	attempt, err := h.attemptService.StartOrResume(c.Request.Context(), &req, learnerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if attempt.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, attempt)
}

// StageAnswer stores the learner's choice for one question
// @Summary Stage an answer
// @Description Stores or overwrites the selected option for a question of an active attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param answer body services.StageAnswerRequest true "Answer data"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/answers [put]
func (h *AttemptHandler) StageAnswer(c *gin.Context) {
	attemptID := h.parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	h.LogRequest(c, "Staging answer", "attempt_id", attemptID)

	var req services.StageAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	if err := h.attemptService.StageAnswer(c.Request.Context(), attemptID, &req, learnerID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Answer staged successfully",
	})
}

// SubmitAttempt finalizes an attempt and returns its result
// @Summary Submit an attempt
// @Description Finalizes the attempt, grades the staged answers and returns the result. Submitting an already finalized attempt returns the stored result.
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.ResultResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID := h.parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", attemptID)

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, learnerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAttempt retrieves an attempt by ID
// @Summary Get attempt
// @Description Retrieves the learner's attempt with its questions and staged answers
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID := h.parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	attempt, err := h.attemptService.GetByID(c.Request.Context(), attemptID, learnerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// GetResult retrieves the finalized result of an attempt
// @Summary Get attempt result
// @Description Retrieves the result of a finalized attempt, including the per-question review
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.ResultResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/result [get]
func (h *AttemptHandler) GetResult(c *gin.Context) {
	attemptID := h.parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), attemptID, learnerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetTimeRemaining returns the seconds left on an attempt
// @Summary Get time remaining
// @Description Returns the remaining seconds of the attempt window, zero for finalized attempts
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/time-remaining [get]
func (h *AttemptHandler) GetTimeRemaining(c *gin.Context) {
	attemptID := h.parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	seconds, err := h.attemptService.GetTimeRemaining(c.Request.Context(), attemptID, learnerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Data: gin.H{"seconds_remaining": seconds},
	})
}

// ListAttempts lists the authenticated learner's attempts
// @Summary List my attempts
// @Description Lists the learner's attempts with optional filters and pagination
// @Tags attempts
// @Produce json
// @Param assessment_id query uint false "Filter by assessment"
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} services.AttemptListResponse
// @Failure 401 {object} ErrorResponse
// @Router /attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	filters := parseAttemptFilters(c)
	attempts, err := h.attemptService.ListByLearner(c.Request.Context(), learnerID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

// CanStartAttempt checks whether the learner can start a new attempt
// @Summary Check attempt eligibility
// @Description Reports whether the learner may start a new attempt for the assessment
// @Tags attempts
// @Produce json
// @Param assessment_id path uint true "Assessment ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/can-start/{assessment_id} [get]
func (h *AttemptHandler) CanStartAttempt(c *gin.Context) {
	assessmentID := h.parseIDParam(c, "assessment_id")
	if assessmentID == 0 {
		return
	}

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	canStart, err := h.attemptService.CanStart(c.Request.Context(), assessmentID, learnerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Data: gin.H{"can_start": canStart},
	})
}

// GetAttemptCount returns how many attempts the learner has used
// @Summary Get attempt count
// @Description Returns the number of attempts the learner has created for the assessment
// @Tags attempts
// @Produce json
// @Param assessment_id path uint true "Assessment ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/count/{assessment_id} [get]
func (h *AttemptHandler) GetAttemptCount(c *gin.Context) {
	assessmentID := h.parseIDParam(c, "assessment_id")
	if assessmentID == 0 {
		return
	}

	learnerID := h.learnerID(c)
	if learnerID == "" {
		return
	}

	count, err := h.attemptService.GetAttemptCount(c.Request.Context(), assessmentID, learnerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Data: gin.H{"attempt_count": count},
	})
}

func parseAttemptFilters(c *gin.Context) repositories.AttemptFilters {
	filters := repositories.AttemptFilters{
		Limit:     20,
		SortBy:    c.DefaultQuery("sort_by", "started_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}

	if raw := c.Query("assessment_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			assessmentID := uint(id)
			filters.AssessmentID = &assessmentID
		}
	}
	if raw := c.Query("status"); raw != "" {
		status := models.AttemptStatus(raw)
		filters.Status = &status
	}
	if raw := c.Query("date_from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.DateFrom = &t
		}
	}
	if raw := c.Query("date_to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.DateTo = &t
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 100 {
			filters.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset >= 0 {
			filters.Offset = offset
		}
	}

	return filters
}
