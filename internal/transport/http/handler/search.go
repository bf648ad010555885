package handler

import (
	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/transport/http/response"
)

type SearchHandler struct {
	search *app.SearchService
}

type SearchRequest struct {
	Question   string `json:"question" binding:"required"`
	OwnerID    string `json:"owner_id"`
	Document   string `json:"document"`
	Collection string `json:"collection"`
	TopK       int    `json:"top_k" binding:"min=0,max=50"`
}

func NewSearchHandler(search *app.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// Search returns the scored chunks nearest to the question without asking
// the language model.
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, "invalid request payload")
		return
	}

	result, err := h.search.Search(c.Request.Context(), app.SearchInput{
		OwnerID:    middleware.OwnerID(c, req.OwnerID),
		Question:   req.Question,
		Document:   req.Document,
		Collection: req.Collection,
		TopK:       req.TopK,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}
