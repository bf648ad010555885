package handler

import (
	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/transport/http/response"
)

type CollectionHandler struct {
	collections *app.CollectionService
}

type CreateCollectionRequest struct {
	Name string `json:"name" binding:"required"`
}

func NewCollectionHandler(collections *app.CollectionService) *CollectionHandler {
	return &CollectionHandler{collections: collections}
}

func (h *CollectionHandler) List(c *gin.Context) {
	cols, err := h.collections.List(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, cols)
}

func (h *CollectionHandler) Create(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, "invalid request payload")
		return
	}
	info, err := h.collections.Create(c.Request.Context(), req.Name)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, info)
}

func (h *CollectionHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if err := h.collections.Delete(c.Request.Context(), name); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": name})
}

func (h *CollectionHandler) Reset(c *gin.Context) {
	name := c.Param("name")
	if err := h.collections.Reset(c.Request.Context(), name); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"reset": name})
}

func (h *CollectionHandler) Health(c *gin.Context) {
	response.OK(c, h.collections.Health(c.Request.Context()))
}
