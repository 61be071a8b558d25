package handler

import (
	"errors"
	"net/http"

	"changerequest/internal/middleware"
	"changerequest/internal/repository"
	"changerequest/internal/service"
	"changerequest/pkg/pagination"
	"changerequest/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PersonHandler mirrors BookHandler for the simpler person entity: reads hit
// the store, writes become change requests.
type PersonHandler struct {
	persons        repository.PersonRepository
	historyService service.HistoryService
}

func NewPersonHandler(persons repository.PersonRepository, historyService service.HistoryService) *PersonHandler {
	return &PersonHandler{persons: persons, historyService: historyService}
}

func (h *PersonHandler) RegisterRoutes(router *gin.RouterGroup) {
	persons := router.Group("/api/persons")
	{
		persons.GET("", middleware.RequirePermission(middleware.PermHistoryView), h.ListPersons)
		persons.GET("/:id", middleware.RequirePermission(middleware.PermHistoryView), h.GetPerson)
		persons.GET("/:id/history", middleware.RequirePermission(middleware.PermHistoryView), h.GetPersonHistory)
		persons.POST("", middleware.RequirePermission(middleware.PermHistorySubmit), h.SubmitCreate)
		persons.PUT("/:id", middleware.RequirePermission(middleware.PermHistorySubmit), h.SubmitUpdate)
		persons.DELETE("/:id", middleware.RequirePermission(middleware.PermHistorySubmit), h.SubmitDelete)
	}
}

// ListPersons handles GET /api/persons
// @Summary      List persons
// @Tags         persons
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/persons [get]
func (h *PersonHandler) ListPersons(c *gin.Context) {
	params := pagination.Parse(c)

	persons, total, err := h.persons.List(c.Request.Context(), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(persons, total, params.Page, params.Limit))
}

// GetPerson handles GET /api/persons/:id
// @Summary      Get person detail
// @Tags         persons
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Person ID"
// @Success      200  {object}  response.Response{data=object}
// @Failure      404  {object}  response.Response
// @Router       /api/persons/{id} [get]
func (h *PersonHandler) GetPerson(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return
	}

	person, err := h.persons.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "person not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, person))
}

// GetPersonHistory handles GET /api/persons/:id/history
// @Summary      Change history of one person
// @Tags         persons
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true   "Person ID"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/persons/{id}/history [get]
func (h *PersonHandler) GetPersonHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return
	}
	params := pagination.Parse(c)

	records, total, err := h.historyService.ObjectHistory(c.Request.Context(), service.ObjectTypePerson, id, params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(service.ToChangeRequestResponses(records), total, params.Page, params.Limit))
}

type personMutationPayload struct {
	Fields  map[string]any `json:"fields" binding:"required"`
	Comment string         `json:"comment"`
}

// SubmitCreate handles POST /api/persons
// @Summary      Propose a new person
// @Tags         persons
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      object  true  "fields + optional comment"
// @Success      202      {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/persons [post]
func (h *PersonHandler) SubmitCreate(c *gin.Context) {
	h.submit(c, service.SubmitRequest{ObjectType: service.ObjectTypePerson})
}

// SubmitUpdate handles PUT /api/persons/:id
// @Summary      Propose changes to a person
// @Tags         persons
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Person ID"
// @Param        payload  body      object  true  "fields + optional comment"
// @Success      202      {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/persons/{id} [put]
func (h *PersonHandler) SubmitUpdate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return
	}
	h.submit(c, service.SubmitRequest{ObjectType: service.ObjectTypePerson, ObjectID: &id})
}

// SubmitDelete handles DELETE /api/persons/:id
// @Summary      Propose deleting a person
// @Tags         persons
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Person ID"
// @Success      202  {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/persons/{id} [delete]
func (h *PersonHandler) SubmitDelete(c *gin.Context) {
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

	var payload struct {
		Comment string `json:"comment"`
	}
	_ = c.ShouldBindJSON(&payload) // body optional

	cr, err := h.historyService.Submit(c.Request.Context(), service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &id,
		Delete:     true,
		Comment:    payload.Comment,
		ActorID:    actorID,
		ActorIP:    middleware.GetClientIP(c),
	})
	if err != nil {
		writeHistoryError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, service.ToChangeRequestResponse(cr)))
}

func (h *PersonHandler) submit(c *gin.Context, req service.SubmitRequest) {
	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing actor identity"))
		return
	}

	var payload personMutationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	req.Fields = payload.Fields
	req.Comment = payload.Comment
	req.ActorID = actorID
	req.ActorIP = middleware.GetClientIP(c)

	cr, err := h.historyService.Submit(c.Request.Context(), req)
	if err != nil {
		writeHistoryError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, service.ToChangeRequestResponse(cr)))
}
