package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/rag"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/transport/http/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ChatHandler struct {
	chat    *app.ChatService
	history *app.HistoryService
}

type QueryRequest struct {
	Question   string     `json:"question" binding:"required"`
	OwnerID    string     `json:"owner_id"`
	Document   string     `json:"document"`
	Collection string     `json:"collection"`
	History    []rag.Turn `json:"history"`
	TopK       int        `json:"top_k" binding:"min=0,max=50"`
}

func NewChatHandler(chat *app.ChatService, history *app.HistoryService) *ChatHandler {
	return &ChatHandler{chat: chat, history: history}
}

func (h *ChatHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, "invalid request payload")
		return
	}

	result, err := h.chat.Ask(c.Request.Context(), app.AskInput{
		OwnerID:    middleware.OwnerID(c, req.OwnerID),
		Question:   req.Question,
		Document:   req.Document,
		Collection: req.Collection,
		History:    req.History,
		TopK:       req.TopK,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}

func (h *ChatHandler) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	messages, err := h.history.List(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")), limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, messages)
}

func (h *ChatHandler) ClearHistory(c *gin.Context) {
	n, err := h.history.Clear(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": n})
}

func (h *ChatHandler) ExportHistory(c *gin.Context) {
	data, err := h.history.Export(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")))
	if err != nil {
		response.Fail(c, err)
		return
	}
	filename := fmt.Sprintf("chat-history-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
