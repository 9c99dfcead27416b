package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
	"github.com/edustack/assessment-engine/internal/services"
	"github.com/edustack/assessment-engine/internal/utils"
	"github.com/edustack/assessment-engine/internal/validator"
)

type AssessmentHandler struct {
	BaseHandler
	assessmentService services.AssessmentService
	reportService     services.ReportService
	validator         *validator.Validator
}

func NewAssessmentHandler(
	assessmentService services.AssessmentService,
	reportService services.ReportService,
	validator *validator.Validator,
	logger utils.Logger,
) *AssessmentHandler {
	return &AssessmentHandler{
		BaseHandler:       NewBaseHandler(logger),
		assessmentService: assessmentService,
		reportService:     reportService,
		validator:         validator,
	}
}

// CreateAssessment creates a new assessment
// @Summary Create assessment
// @Description Creates a new assessment with its questions and options
// @Tags assessments
// @Accept json
// @Produce json
// @Param assessment body services.CreateAssessmentRequest true "Assessment data"
// @Success 201 {object} services.AssessmentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /assessments [post]
func (h *AssessmentHandler) CreateAssessment(c *gin.Context) {
	h.LogRequest(c, "Creating assessment")

	var req services.CreateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	assessment, err := h.assessmentService.Create(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, assessment)
}

// GetAssessment retrieves an assessment by ID
// @Summary Get assessment
// @Description Retrieves an assessment with its questions
// @Tags assessments
// @Produce json
// @Param id path uint true "Assessment ID"
// @Success 200 {object} services.AssessmentResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id} [get]
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	assessment, err := h.assessmentService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// UpdateAssessment updates an assessment
// @Summary Update assessment
// @Description Updates assessment settings. The time limit cannot change once set.
// @Tags assessments
// @Accept json
// @Produce json
// @Param id path uint true "Assessment ID"
// @Param assessment body services.UpdateAssessmentRequest true "Fields to update"
// @Success 200 {object} services.AssessmentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id} [put]
func (h *AssessmentHandler) UpdateAssessment(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Updating assessment", "assessment_id", id)

	var req services.UpdateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	assessment, err := h.assessmentService.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// DeleteAssessment deletes an assessment
// @Summary Delete assessment
// @Description Deletes an assessment and its questions
// @Tags assessments
// @Produce json
// @Param id path uint true "Assessment ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id} [delete]
func (h *AssessmentHandler) DeleteAssessment(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Deleting assessment", "assessment_id", id)

	if err := h.assessmentService.Delete(c.Request.Context(), id); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Assessment deleted successfully",
	})
}

// ListAssessments lists assessments with filters
// @Summary List assessments
// @Description Lists assessments with optional kind filter, search and pagination
// @Tags assessments
// @Produce json
// @Param kind query string false "Filter by kind (quiz or exam)"
// @Param search query string false "Title search"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} services.AssessmentListResponse
// @Router /assessments [get]
func (h *AssessmentHandler) ListAssessments(c *gin.Context) {
	filters := parseAssessmentFilters(c)

	assessments, err := h.assessmentService.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessments)
}

// GetAssessmentStats returns aggregate attempt statistics
// @Summary Get assessment statistics
// @Description Returns attempt counts, average score, pass rate and completion rate for the assessment
// @Tags assessments
// @Produce json
// @Param id path uint true "Assessment ID"
// @Success 200 {object} repositories.AttemptStats
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/stats [get]
func (h *AssessmentHandler) GetAssessmentStats(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	stats, err := h.assessmentService.GetStats(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ExportResults downloads assessment results as an XLSX workbook
// @Summary Export assessment results
// @Description Renders every finalized result for the assessment as an XLSX file
// @Tags assessments
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Assessment ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/export [get]
func (h *AssessmentHandler) ExportResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Exporting assessment results", "assessment_id", id)

	data, err := h.reportService.ExportAssessmentResults(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("assessment_%d_results.xlsx", id)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func parseAssessmentFilters(c *gin.Context) repositories.AssessmentFilters {
	filters := repositories.AssessmentFilters{
		Limit:     20,
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}

	if raw := c.Query("kind"); raw != "" {
		kind := models.AssessmentKind(raw)
		filters.Kind = &kind
	}
	if raw := c.Query("search"); raw != "" {
		filters.Search = &raw
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
