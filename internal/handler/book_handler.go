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

// BookHandler serves book reads directly and funnels every write through the
// change request workflow: a mutation endpoint never touches the table, it
// records a request that moderation (or auto-approval) applies.
type BookHandler struct {
	books          repository.BookRepository
	historyService service.HistoryService
}

func NewBookHandler(books repository.BookRepository, historyService service.HistoryService) *BookHandler {
	return &BookHandler{books: books, historyService: historyService}
}

func (h *BookHandler) RegisterRoutes(router *gin.RouterGroup) {
	books := router.Group("/api/books")
	{
		books.GET("", middleware.RequirePermission(middleware.PermHistoryView), h.ListBooks)
		books.GET("/:id", middleware.RequirePermission(middleware.PermHistoryView), h.GetBook)
		books.GET("/:id/history", middleware.RequirePermission(middleware.PermHistoryView), h.GetBookHistory)
		books.POST("", middleware.RequirePermission(middleware.PermHistorySubmit), h.SubmitCreate)
		books.PUT("/:id", middleware.RequirePermission(middleware.PermHistorySubmit), h.SubmitUpdate)
		books.DELETE("/:id", middleware.RequirePermission(middleware.PermHistorySubmit), h.SubmitDelete)
		books.PUT("/:id/chapters", middleware.RequirePermission(middleware.PermHistorySubmit), h.SubmitChapters)
	}
}

type bookResponse struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Synopsis  string            `json:"synopsis"`
	AuthorID  string            `json:"author_id"`
	Author    string            `json:"author,omitempty"`
	Price     string            `json:"price"`
	Pages     int               `json:"pages"`
	InPrint   bool              `json:"in_print"`
	Published string            `json:"published"`
	Chapters  []chapterResponse `json:"chapters,omitempty"`
}

type chapterResponse struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
}

func toBookResponse(book *model.Book) bookResponse {
	resp := bookResponse{
		ID:        book.ID.String(),
		Title:     book.Title,
		Synopsis:  book.Synopsis,
		AuthorID:  book.AuthorID.String(),
		Price:     book.Price.String(),
		Pages:     book.Pages,
		InPrint:   book.InPrint,
		Published: book.Published.Format("2006-01-02"),
	}
	if book.Author != nil {
		resp.Author = book.Author.Name
	}
	for _, c := range book.Chapters {
		resp.Chapters = append(resp.Chapters, chapterResponse{
			ID:     c.ID.String(),
			Number: c.Number,
			Title:  c.Title,
		})
	}
	return resp
}

// ListBooks handles GET /api/books
// @Summary      List books
// @Tags         books
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/books [get]
func (h *BookHandler) ListBooks(c *gin.Context) {
	params := pagination.Parse(c)

	books, total, err := h.books.List(c.Request.Context(), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	items := make([]bookResponse, 0, len(books))
	for i := range books {
		items = append(items, toBookResponse(&books[i]))
	}
	c.JSON(http.StatusOK, response.Paginated(items, total, params.Page, params.Limit))
}

// GetBook handles GET /api/books/:id
// @Summary      Get book detail with chapters
// @Tags         books
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  response.Response{data=object}
// @Failure      404  {object}  response.Response
// @Router       /api/books/{id} [get]
func (h *BookHandler) GetBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return
	}

	book, err := h.books.GetByIDWithChapters(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "book not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, toBookResponse(book)))
}

// GetBookHistory handles GET /api/books/:id/history
// @Summary      Change history of one book
// @Tags         books
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true   "Book ID"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/books/{id}/history [get]
func (h *BookHandler) GetBookHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return
	}
	params := pagination.Parse(c)

	records, total, err := h.historyService.ObjectHistory(c.Request.Context(), service.ObjectTypeBook, id, params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(service.ToChangeRequestResponses(records), total, params.Page, params.Limit))
}

type bookMutationPayload struct {
	Fields  map[string]any `json:"fields" binding:"required"`
	Comment string         `json:"comment"`
}

// SubmitCreate handles POST /api/books
// @Summary      Propose a new book
// @Description  Records an ADD change request. The book is created when the request is approved.
// @Tags         books
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      object  true  "fields + optional comment"
// @Success      202      {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      429      {object}  response.Response
// @Router       /api/books [post]
func (h *BookHandler) SubmitCreate(c *gin.Context) {
	h.submit(c, service.SubmitRequest{ObjectType: service.ObjectTypeBook})
}

// SubmitUpdate handles PUT /api/books/:id
// @Summary      Propose changes to a book
// @Description  Records a MODIFY change request holding only the fields that differ.
// @Tags         books
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Book ID"
// @Param        payload  body      object  true  "fields + optional comment"
// @Success      202      {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      429      {object}  response.Response
// @Router       /api/books/{id} [put]
func (h *BookHandler) SubmitUpdate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return
	}
	h.submit(c, service.SubmitRequest{ObjectType: service.ObjectTypeBook, ObjectID: &id})
}

// SubmitDelete handles DELETE /api/books/:id
// @Summary      Propose deleting a book
// @Description  Records a DELETE change request carrying a full revert snapshot.
// @Tags         books
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Book ID"
// @Success      202  {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/books/{id} [delete]
func (h *BookHandler) SubmitDelete(c *gin.Context) {
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
		ObjectType: service.ObjectTypeBook,
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

type chaptersPayload struct {
	Chapters []map[string]any `json:"chapters" binding:"required"`
	Comment  string           `json:"comment"`
}

// SubmitChapters handles PUT /api/books/:id/chapters
// @Summary      Propose the full desired chapter list
// @Description  Records a RELATED change request diffed against current chapters. Omit a chapter's id to add it; omit a current chapter to delete it.
// @Tags         books
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Book ID"
// @Param        payload  body      object  true  "chapters + optional comment"
// @Success      202      {object}  response.Response{data=service.ChangeRequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/books/{id}/chapters [put]
func (h *BookHandler) SubmitChapters(c *gin.Context) {
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

	var payload chaptersPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	cr, err := h.historyService.Submit(c.Request.Context(), service.SubmitRequest{
		ObjectType:  service.ObjectTypeBook,
		ObjectID:    &id,
		RelatedType: service.RelatedTypeChapter,
		Members:     payload.Chapters,
		Comment:     payload.Comment,
		ActorID:     actorID,
		ActorIP:     middleware.GetClientIP(c),
	})
	if err != nil {
		writeHistoryError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, service.ToChangeRequestResponse(cr)))
}

// submit binds the common fields/comment payload and records the request.
func (h *BookHandler) submit(c *gin.Context, req service.SubmitRequest) {
	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "missing actor identity"))
		return
	}

	var payload bookMutationPayload
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
