package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/transport/http/response"
)

type FeedbackHandler struct {
	feedback *app.FeedbackService
}

// FeedbackRequest accepts feedback_type as "like"/"dislike" or 1/0.
type FeedbackRequest struct {
	MessageID    string `json:"message_id" binding:"required"`
	OwnerID      string `json:"owner_id"`
	FeedbackType any    `json:"feedback_type"`
	Comment      string `json:"comment"`
}

func NewFeedbackHandler(feedback *app.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, "invalid request payload")
		return
	}

	msg, err := h.feedback.Submit(c.Request.Context(), app.FeedbackInput{
		OwnerID:   middleware.OwnerID(c, req.OwnerID),
		MessageID: req.MessageID,
		Type:      feedbackTypeString(req.FeedbackType),
		Comment:   req.Comment,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, msg)
}

func (h *FeedbackHandler) GetMessage(c *gin.Context) {
	msg, err := h.feedback.Get(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, msg)
}

func (h *FeedbackHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Invalid(c, "limit must be a number")
			return
		}
		limit = parsed
	}
	list, err := h.feedback.List(c.Request.Context(), middleware.OwnerID(c, c.Query("owner_id")), limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, list)
}

func feedbackTypeString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == 1 {
			return "1"
		}
		if t == 0 {
			return "0"
		}
	case bool:
		if t {
			return "1"
		}
		return "0"
	}
	return ""
}
