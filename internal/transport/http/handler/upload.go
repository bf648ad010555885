package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/apperr"
	"docuchat/internal/task"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/transport/http/response"
)

type UploadHandler struct {
	uploads *app.UploadService
	tracker task.Tracker
}

type TaskStatus struct {
	task.Snapshot
	IsCompleted bool `json:"is_completed"`
	IsError     bool `json:"is_error"`
}

func NewUploadHandler(uploads *app.UploadService, tracker task.Tracker) *UploadHandler {
	return &UploadHandler{uploads: uploads, tracker: tracker}
}

func statusOf(s task.Snapshot) TaskStatus {
	return TaskStatus{
		Snapshot:    s,
		IsCompleted: s.Status == task.StatusCompleted,
		IsError:     s.Status == task.StatusError,
	}
}

// Upload accepts a multipart form with "file" and optional "owner_id" and
// "collection". Processing continues in the background.
func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Invalid(c, "missing file")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.Invalid(c, "failed to read file")
		return
	}
	defer f.Close()

	snap, err := h.uploads.Accept(c.Request.Context(), app.UploadInput{
		OwnerID:    middleware.OwnerID(c, c.PostForm("owner_id")),
		Filename:   file.Filename,
		Collection: c.PostForm("collection"),
		Body:       f,
	})
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

func (h *UploadHandler) Status(c *gin.Context) {
	snap, err := h.owned(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, statusOf(snap))
}

// owned returns the requested task when it belongs to the caller. Tasks of
// other owners are reported as not found.
func (h *UploadHandler) owned(c *gin.Context) (task.Snapshot, error) {
	id := c.Param("task_id")
	snap, err := h.tracker.Get(id)
	if err != nil {
		return task.Snapshot{}, err
	}
	owner := middleware.OwnerID(c, c.Query("owner_id"))
	if owner == "" {
		owner = app.AnonymousOwner
	}
	if snap.OwnerID != owner {
		return task.Snapshot{}, fmt.Errorf("%w: task %s", apperr.ErrNotFound, id)
	}
	return snap, nil
}

// ListStatus returns every tracked task of the caller, oldest first.
func (h *UploadHandler) ListStatus(c *gin.Context) {
	owner := middleware.OwnerID(c, c.Query("owner_id"))
	if owner == "" {
		owner = app.AnonymousOwner
	}
	tasks := h.tracker.List(owner)
	out := make([]TaskStatus, len(tasks))
	for i, s := range tasks {
		out[i] = statusOf(s)
	}
	response.OK(c, out)
}

// StreamStatus pushes task snapshots as server-sent events until the task
// finishes or the client goes away.
func (h *UploadHandler) StreamStatus(c *gin.Context) {
	if _, err := h.owned(c); err != nil {
		response.Fail(c, err)
		return
	}
	updates, cancel, err := h.tracker.Watch(c.Param("task_id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			c.SSEvent("status", statusOf(s))
			c.Writer.Flush()
			if s.Terminal() {
				fmt.Fprint(c.Writer, "event: done\ndata: {}\n\n")
				c.Writer.Flush()
				return
			}
		}
	}
}
