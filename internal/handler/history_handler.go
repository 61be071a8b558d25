package handler

import (
	"errors"
	"net/http"

	"changerequest/internal/middleware"
	"changerequest/internal/model"
	"changerequest/internal/repository"
	"changerequest/internal/service"
	"changerequest/pkg/pagination"
	"changerequest/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HistoryHandler struct {
	historyService service.HistoryService
}

func NewHistoryHandler(historyService service.HistoryService) *HistoryHandler {
	return &HistoryHandler{historyService: historyService}
}

func (h *HistoryHandler) RegisterRoutes(router *gin.RouterGroup) {
	history := router.Group("/api/history")
	{
		history.GET("", middleware.RequirePermission(middleware.PermHistoryView), h.ListHistory)
		history.GET("/:id", middleware.RequirePermission(middleware.PermHistoryView), h.GetHistoryDetail)
		history.PUT("/:id/approve", middleware.RequirePermission(middleware.PermHistoryModerate), h.transition(service.ActionApprove))
		history.PUT("/:id/deny", middleware.RequirePermission(middleware.PermHistoryModerate), h.transition(service.ActionDeny))
		history.PUT("/:id/withdraw", middleware.RequirePermission(middleware.PermHistorySubmit), h.transition(service.ActionWithdraw))
		history.PUT("/:id/revert", middleware.RequirePermission(middleware.PermHistoryModerate), h.transition(service.ActionRevert))
	}
}

// writeHistoryError maps engine errors onto HTTP status codes.
func writeHistoryError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var rateErr *service.RateLimitError
	var revertErr *service.RevertError
	var applyErr *service.ApplyError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, validationErr.Error()))
	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			c.Header("Retry-After", rateErr.RetryAfter.String())
		}
		c.JSON(http.StatusTooManyRequests, response.Error(http.StatusTooManyRequests, rateErr.Error()))
	case errors.As(err, &revertErr):
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, revertErr.Error()))
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
	case errors.As(err, &applyErr):
		c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, applyErr.Error()))
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "change request not found"))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
	}
}

// ListHistory returns the moderation queue / audit trail
// @Summary      List change requests
// @Description  Paginated change request history, filterable by object, status and submitter
// @Tags         history
// @Produce      json
// @Security     BearerAuth
// @Param        object_type  query     string  false  "Filter by tracked object type"
// @Param        object_id    query     string  false  "Filter by object id (requires object_type)"
// @Param        status       query     string  false  "Filter by status label (pending, approved, denied, withdrawn, reverted)"
// @Param        user         query     string  false  "Filter by submitter username"
// @Param        order        query     string  false  "date (oldest first) or -date (default, newest first)"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Items per page (default 20)"
// @Success      200          {object}  response.Response{data=object}
// @Failure      400          {object}  response.Response
// @Router       /api/history [get]
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	params := pagination.Parse(c)

	filter := repository.HistoryFilter{
		ObjectType: c.Query("object_type"),
		Username:   c.Query("user"),
		OrderAsc:   pagination.ParseOrder(c),
		Page:       params.Page,
		Limit:      params.Limit,
	}

	if raw := c.Query("object_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid object_id"))
			return
		}
		filter.ObjectID = &id
	}

	if raw := c.Query("status"); raw != "" {
		status, ok := model.StatusFromLabel(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid status filter"))
			return
		}
		filter.Status = &status
	}

	records, total, err := h.historyService.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(service.ToChangeRequestResponses(records), total, params.Page, params.Limit))
}

// GetHistoryDetail returns one change request with its diff payloads
// @Summary      Get change request detail
// @Tags         history
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Change request ID"
// @Success      200  {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/history/{id} [get]
func (h *HistoryHandler) GetHistoryDetail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return
	}

	cr, err := h.historyService.Get(c.Request.Context(), id)
	if err != nil {
		writeHistoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToChangeRequestResponse(cr)))
}

type transitionPayload struct {
	Comment string `json:"comment"`
}

// transition builds the handler for one workflow action. The route-level
// permission gate is coarse; ownership and capability rules live in the
// service so they also hold for non-HTTP callers.
func (h *HistoryHandler) transition(action service.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
			return
		}

		actorID, ok := middleware.CurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing actor identity"))
			return
		}

		var payload transitionPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			payload.Comment = "" // body is optional on transitions
		}

		cr, err := h.historyService.Transition(c.Request.Context(), id, action, actorID, middleware.GetClientIP(c), payload.Comment)
		if err != nil {
			writeHistoryError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToChangeRequestResponse(cr)))
	}
}
