package handler

import (
	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/transport/http/response"
)

type DocumentHandler struct {
	documents *app.DocumentService
}

func NewDocumentHandler(documents *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	filename := c.Param("filename")
	if err := h.documents.Delete(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")), filename); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": filename})
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	snap, err := h.documents.Reprocess(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")), c.Param("filename"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Accepted(c, gin.H{
		"task_id":  snap.ID,
		"status":   snap.Status,
		"filename": snap.Filename,
	})
}
