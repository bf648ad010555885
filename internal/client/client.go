// Package client calls the docuchat REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docuchat/internal/model"
	"docuchat/internal/rag"
	"docuchat/internal/task"
)

type Config struct {
	BaseURL string
	OwnerID string
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	ownerID    string
	token      string
	httpClient *http.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

type Accepted struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

type TaskStatus struct {
	task.Snapshot
	IsCompleted bool `json:"is_completed"`
	IsError     bool `json:"is_error"`
}

type Answer struct {
	Answer       string       `json:"answer"`
	MessageID    string       `json:"message_id"`
	Sources      []rag.Source `json:"sources"`
	ContextFound bool         `json:"context_found"`
	Model        string       `json:"model"`
}

type Query struct {
	Question   string     `json:"question"`
	Document   string     `json:"document,omitempty"`
	Collection string     `json:"collection,omitempty"`
	History    []rag.Turn `json:"history,omitempty"`
	TopK       int        `json:"top_k,omitempty"`
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		ownerID:    cfg.OwnerID,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// UploadFile sends a local PDF and returns the task to poll.
func (c *Client) UploadFile(ctx context.Context, path, collection string) (*Accepted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s failed: %w", path, err)
	}
	if collection != "" {
		if err := mw.WriteField("collection", collection); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Accepted
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/upload-status/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	var out TaskStatus
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Ask(ctx context.Context, q Query) (*Answer, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out Answer
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Documents(ctx context.Context) ([]model.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/documents", nil)
	if err != nil {
		return nil, err
	}
	var out []model.Document
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Feedback rates an answer; like is true for thumbs up.
func (c *Client) Feedback(ctx context.Context, messageID string, like bool, comment string) error {
	feedbackType := model.FeedbackDislike
	if like {
		feedbackType = model.FeedbackLike
	}
	body, err := json.Marshal(map[string]string{
		"message_id":    messageID,
		"feedback_type": feedbackType,
		"comment":       comment,
	})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/feedback", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.ownerID != "" {
		req.Header.Set("X-Owner-ID", c.ownerID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Kind: env.Kind, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}
