package controller

import (
	"context"
	"strconv"
	"time"

	commonmw "classjudge/internal/common/http/middleware"
	"classjudge/internal/grading/model"
	"classjudge/internal/grading/service"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionService is the part of the service layer the controller uses.
type SubmissionService interface {
	CreateSubmission(ctx context.Context, input service.CreateInput) (*model.Submission, error)
	GetStatus(ctx context.Context, userID, submissionID int64) (service.StatusView, error)
	ListForUser(ctx context.Context, userID int64) ([]service.SubmissionView, error)
	ListForActivity(ctx context.Context, userID, activityID int64, page int) (*service.SubmissionPage, error)
	ListCorrections(ctx context.Context, userID, submissionID int64) ([]service.CorrectionView, error)
}

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	submissionService SubmissionService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(submissionService SubmissionService) *SubmissionController {
	return &SubmissionController{submissionService: submissionService}
}

// Register mounts the routes on an authenticated group.
func (h *SubmissionController) Register(api *gin.RouterGroup) {
	api.POST("/submissions", h.Create)
	api.GET("/submissions", h.List)
	api.GET("/submissions/:id", h.GetStatus)
	api.GET("/submissions/:id/corrections", h.ListCorrections)
	api.GET("/activities/:id/submissions", h.ListForActivity)
}

// Create handles submission requests.
func (h *SubmissionController) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	submission, err := h.submissionService.CreateSubmission(c.Request.Context(), service.CreateInput{
		UserID:     userID,
		ActivityID: req.ActivityID,
		SourceCode: req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, CreateResponse{
		ID:          submission.ID,
		Status:      submission.Status.Name(),
		SubmittedAt: submission.SubmittedAt.UTC().Format(time.RFC3339),
	})
}

// List returns the caller's submissions, newest first.
func (h *SubmissionController) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	views, err := h.submissionService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, views)
}

// GetStatus returns the live status of one submission.
func (h *SubmissionController) GetStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	submissionID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	view, err := h.submissionService.GetStatus(c.Request.Context(), userID, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// ListCorrections returns per-test-case detail of one submission.
func (h *SubmissionController) ListCorrections(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	submissionID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	views, err := h.submissionService.ListCorrections(c.Request.Context(), userID, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, views)
}

// ListForActivity returns one page of the caller's submissions for an activity.
func (h *SubmissionController) ListForActivity(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	activityID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid activity id")
		return
	}
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(c, "Invalid page")
			return
		}
		page = n
	}
	result, err := h.submissionService.ListForActivity(c.Request.Context(), userID, activityID, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithPagination(c, result.Items, result.Total, result.Page, result.PageSize)
}

func currentUser(c *gin.Context) (int64, bool) {
	userID, ok := commonmw.CurrentUserID(c)
	if !ok {
		response.ErrorWithCode(c, appErr.Unauthorized, "")
	}
	return userID, ok
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// CreateRequest defines submission payload.
type CreateRequest struct {
	ActivityID int64  `json:"activity_id" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

// CreateResponse defines submission response payload.
type CreateResponse struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}
