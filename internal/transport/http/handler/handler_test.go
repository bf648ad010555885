package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"docuchat/internal/app"
	"docuchat/internal/apperr"
	"docuchat/internal/embedding"
	"docuchat/internal/model"
	"docuchat/internal/pkg/pdfextract/pdftest"
	"docuchat/internal/rag"
	"docuchat/internal/storage"
	"docuchat/internal/task"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/vectorstore"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	router   *gin.Engine
	store    *vectorstore.Local
	embedder *embedding.Generator
	tracker  *task.Memory
	docs     *memDocs
	messages *memMessages
	jobs     *jobRecorder
	asker    *cannedAsker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		tracker:  task.NewMemory(),
		docs:     newMemDocs(),
		messages: newMemMessages(),
		jobs:     &jobRecorder{},
		asker: &cannedAsker{answer: &rag.Answer{
			Text:         "Revenue grew 12% [1].",
			Sources:      []rag.Source{{Document: "report.pdf", Page: 1, Text: "Revenue grew 12%"}},
			ContextFound: true,
			Model:        "test-model",
		}},
	}
	store := vectorstore.NewMemory()
	_, err := store.CreateCollection(context.Background(), "documents")
	require.NoError(t, err)
	env.store = store
	env.embedder = embedding.NewGenerator(embedding.HashingLoader(64))
	blobs := storage.NewMemory()

	gate := app.NewTaskGate(env.tracker)
	collections := app.NewCollectionService(store, env.docs, blobs, "documents", app.WithEmbeddingStatus(env.embedder))
	uploads := app.NewUploadService(gate, env.tracker, blobs, env.docs, collections, env.jobs, 1<<20)
	documents := app.NewDocumentService(gate, env.tracker, env.docs, store, blobs, env.jobs)
	chat := app.NewChatService(env.asker, env.messages, nil, nil)
	history := app.NewHistoryService(env.messages, nil)
	feedback := app.NewFeedbackService(env.messages, nil, nil)
	search := app.NewSearchService(rag.NewOrchestrator(env.embedder, store, nil, "documents", 5))

	uploadHandler := NewUploadHandler(uploads, env.tracker)
	documentHandler := NewDocumentHandler(documents)
	chatHandler := NewChatHandler(chat, history)
	feedbackHandler := NewFeedbackHandler(feedback)
	collectionHandler := NewCollectionHandler(collections)
	searchHandler := NewSearchHandler(search)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity("", ""))
	r.POST("/upload", uploadHandler.Upload)
	r.GET("/upload-status/:task_id", uploadHandler.Status)
	r.GET("/upload-status/:task_id/stream", uploadHandler.StreamStatus)
	r.GET("/processing-status", uploadHandler.ListStatus)
	r.POST("/query", chatHandler.Query)
	r.POST("/search", searchHandler.Search)
	r.GET("/chat-history", chatHandler.History)
	r.DELETE("/chat-history", chatHandler.ClearHistory)
	r.GET("/chat-history/export", chatHandler.ExportHistory)
	r.POST("/feedback", feedbackHandler.Submit)
	r.GET("/feedback", feedbackHandler.List)
	r.GET("/messages/:id", feedbackHandler.GetMessage)
	r.GET("/documents", documentHandler.List)
	r.DELETE("/documents/:filename", documentHandler.Delete)
	r.POST("/documents/:filename/reprocess", documentHandler.Reprocess)
	r.GET("/collections", collectionHandler.List)
	r.POST("/collections", collectionHandler.Create)
	r.DELETE("/collections/:name", collectionHandler.Delete)
	r.POST("/collections/:name/reset", collectionHandler.Reset)
	r.GET("/vector-store/health", collectionHandler.Health)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var body envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, owner, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("owner_id", owner))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func samplePDF() []byte {
	return pdftest.Build(pdftest.Text("Quarterly revenue grew by twelve percent."))
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, uploadRequest(t, "u1", "report.pdf", samplePDF()))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted struct {
		TaskID   string `json:"task_id"`
		Status   string `json:"status"`
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &accepted))
	assert.NotEmpty(t, accepted.TaskID)
	assert.Equal(t, "pending", accepted.Status)
	assert.Equal(t, "report.pdf", accepted.Filename)

	jobs := env.jobs.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "u1", jobs[0].OwnerID)
	assert.Equal(t, "documents", jobs[0].Collection)

	t.Run("status is pollable", func(t *testing.T) {
		w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/upload-status/"+accepted.TaskID+"?owner_id=u1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var st TaskStatus
		require.NoError(t, json.Unmarshal(body.Data, &st))
		assert.Equal(t, task.StatusPending, st.Status)
		assert.False(t, st.IsCompleted)
		assert.False(t, st.IsError)
	})

	t.Run("second upload while pending conflicts", func(t *testing.T) {
		w, body := env.do(t, uploadRequest(t, "u1", "report.pdf", samplePDF()))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, string(apperr.KindConflict), body.Kind)
	})

	t.Run("listed for the owner only", func(t *testing.T) {
		_, body := env.do(t, httptest.NewRequest(http.MethodGet, "/processing-status?owner_id=u1", nil))
		var list []TaskStatus
		require.NoError(t, json.Unmarshal(body.Data, &list))
		assert.Len(t, list, 1)

		_, body = env.do(t, httptest.NewRequest(http.MethodGet, "/processing-status?owner_id=u2", nil))
		require.NoError(t, json.Unmarshal(body.Data, &list))
		assert.Empty(t, list)
	})
}

func TestUpload_Rejects(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		filename string
		data     []byte
		status   int
		kind     apperr.Kind
	}{
		{"wrong extension", "notes.txt", []byte("hello"), http.StatusBadRequest, apperr.KindUnsupportedFormat},
		{"not a pdf", "fake.pdf", []byte("plain text pretending"), http.StatusBadRequest, apperr.KindUnsupportedFormat},
		{"empty", "empty.pdf", nil, http.StatusBadRequest, apperr.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, uploadRequest(t, "u1", tt.filename, tt.data))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.kind), body.Kind)
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("owner_id=u1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w, body := env.do(t, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(apperr.KindInvalidInput), body.Kind)
	})

	assert.Empty(t, env.jobs.Jobs())
}

func TestUploadStatus_Unknown(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/upload-status/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.KindNotFound), body.Kind)
}

func TestStreamStatus_FinishedTask(t *testing.T) {
	env := newTestEnv(t)
	snap := env.tracker.Submit(task.Meta{OwnerID: "u1", Filename: "report.pdf"})
	require.NoError(t, env.tracker.Start(snap.ID, "extracting"))
	require.NoError(t, env.tracker.Complete(snap.ID, map[string]int{"chunks": 3}))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upload-status/"+snap.ID+"/stream?owner_id=u1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event:status")
	assert.Contains(t, w.Body.String(), `"is_completed":true`)
	assert.Contains(t, w.Body.String(), "event: done")
}

func TestUploadStatus_OtherOwnerIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	snap := env.tracker.Submit(task.Meta{OwnerID: "u1", Filename: "private.pdf"})

	for _, path := range []string{"/upload-status/" + snap.ID, "/upload-status/" + snap.ID + "/stream"} {
		w, body := env.do(t, httptest.NewRequest(http.MethodGet, path+"?owner_id=u2", nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, string(apperr.KindNotFound), body.Kind)
		assert.NotContains(t, w.Body.String(), "private.pdf")

		req := httptest.NewRequest(http.MethodGet, path, nil)
		w, _ = env.do(t, req)
		assert.Equal(t, http.StatusNotFound, w.Code, "anonymous caller does not see %s", path)
	}

	req := httptest.NewRequest(http.MethodGet, "/upload-status/"+snap.ID, nil)
	req.Header.Set(middleware.OwnerIDHeader, "u1")
	w, _ := env.do(t, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func (e *testEnv) seedChunks(t *testing.T, owner, document string, texts ...string) {
	t.Helper()
	ctx := context.Background()
	res, err := e.embedder.Embed(ctx, texts)
	require.NoError(t, err)
	records := make([]vectorstore.Record, len(texts))
	for i, text := range texts {
		records[i] = vectorstore.Record{
			ID:       fmt.Sprintf("%s:1:%d", document, i),
			Vector:   res.Vectors[i],
			Text:     text,
			Metadata: map[string]any{"owner_id": owner, "document": document, "page_number": i + 1},
		}
	}
	require.NoError(t, e.store.Add(ctx, "documents", res.Model, records))
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.seedChunks(t, "u1", "report.pdf", "Quarterly revenue grew twelve percent.", "The cafeteria opens at noon.")
	env.seedChunks(t, "u2", "report.pdf", "Revenue of another tenant.")

	w, body := env.do(t, jsonRequest(t, http.MethodPost, "/search", gin.H{
		"question": "quarterly revenue grew twelve percent",
		"owner_id": "u1",
		"document": "report.pdf",
		"top_k":    5,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res app.SearchResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, 2, res.TotalDocsFound)
	require.Len(t, res.Context, 2)
	assert.Equal(t, "Quarterly revenue grew twelve percent.", res.Context[0].Text)
	assert.InDelta(t, 1, res.Context[0].SimilarityScore, 1e-5)
	assert.Greater(t, res.Context[0].SimilarityScore, res.Context[1].SimilarityScore)
	assert.Equal(t, "hashing", res.EmbeddingModel)
	for _, hit := range res.Context {
		assert.Equal(t, "u1", hit.Metadata["owner_id"])
	}
	assert.Empty(t, env.messages.messages, "search records no chat turn")

	t.Run("no matches", func(t *testing.T) {
		w, body := env.do(t, jsonRequest(t, http.MethodPost, "/search", gin.H{"question": "revenue", "owner_id": "u3"}))
		require.Equal(t, http.StatusOK, w.Code)
		var res app.SearchResult
		require.NoError(t, json.Unmarshal(body.Data, &res))
		assert.Equal(t, 0, res.TotalDocsFound)
		assert.Empty(t, res.Context)
	})

	t.Run("missing question", func(t *testing.T) {
		w, body := env.do(t, jsonRequest(t, http.MethodPost, "/search", gin.H{"owner_id": "u1"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(apperr.KindInvalidInput), body.Kind)
	})

	t.Run("unknown collection", func(t *testing.T) {
		w, body := env.do(t, jsonRequest(t, http.MethodPost, "/search", gin.H{"question": "q", "collection": "nope"}))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, string(apperr.KindCollectionNotFound), body.Kind)
	})
}

func TestQuery(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, jsonRequest(t, http.MethodPost, "/query", gin.H{
		"question": "How much did revenue grow?",
		"owner_id": "u1",
		"document": "report.pdf",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result app.AskResult
	require.NoError(t, json.Unmarshal(body.Data, &result))
	assert.Equal(t, "Revenue grew 12% [1].", result.Answer)
	assert.True(t, result.ContextFound)
	assert.NotEmpty(t, result.MessageID)
	require.Len(t, result.Sources, 1)

	t.Run("history shows the turn", func(t *testing.T) {
		_, body := env.do(t, httptest.NewRequest(http.MethodGet, "/chat-history?owner_id=u1", nil))
		var msgs []map[string]any
		require.NoError(t, json.Unmarshal(body.Data, &msgs))
		require.Len(t, msgs, 1)
		assert.Equal(t, result.MessageID, msgs[0]["id"])
	})

	t.Run("export is a workbook", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat-history/export?owner_id=u1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

		f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("clear removes it", func(t *testing.T) {
		w, body := env.do(t, httptest.NewRequest(http.MethodDelete, "/chat-history?owner_id=u1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"deleted":1}`, string(body.Data))
	})
}

func TestQuery_Errors(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing question", func(t *testing.T) {
		w, body := env.do(t, jsonRequest(t, http.MethodPost, "/query", gin.H{"owner_id": "u1"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(apperr.KindInvalidInput), body.Kind)
	})

	t.Run("top_k out of range", func(t *testing.T) {
		w, _ := env.do(t, jsonRequest(t, http.MethodPost, "/query", gin.H{"question": "q", "top_k": 51}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("model failure", func(t *testing.T) {
		env.asker.err = errors.Join(apperr.ErrGeneration, errors.New("upstream 500"))
		defer func() { env.asker.err = nil }()

		w, body := env.do(t, jsonRequest(t, http.MethodPost, "/query", gin.H{"question": "q"}))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, string(apperr.KindGeneration), body.Kind)
	})
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, jsonRequest(t, http.MethodPost, "/query", gin.H{"question": "q", "owner_id": "u1"}))
	var result app.AskResult
	require.NoError(t, json.Unmarshal(body.Data, &result))
	require.NotEmpty(t, result.MessageID)

	w, body := env.do(t, jsonRequest(t, http.MethodPost, "/feedback", gin.H{
		"message_id":    result.MessageID,
		"owner_id":      "u1",
		"feedback_type": 1,
		"comment":       "helpful",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var msg map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &msg))
	assert.Equal(t, "like", msg["feedback_type"])

	t.Run("second submission conflicts", func(t *testing.T) {
		w, body := env.do(t, jsonRequest(t, http.MethodPost, "/feedback", gin.H{
			"message_id":    result.MessageID,
			"owner_id":      "u1",
			"feedback_type": "dislike",
		}))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, string(apperr.KindConflict), body.Kind)

		_, body = env.do(t, httptest.NewRequest(http.MethodGet, "/messages/"+result.MessageID+"?owner_id=u1", nil))
		require.NoError(t, json.Unmarshal(body.Data, &msg))
		assert.Equal(t, "like", msg["feedback_type"])
	})

	t.Run("another owner cannot see it", func(t *testing.T) {
		w, _ := env.do(t, jsonRequest(t, http.MethodPost, "/feedback", gin.H{
			"message_id":    result.MessageID,
			"owner_id":      "u2",
			"feedback_type": "like",
		}))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		w, _ := env.do(t, jsonRequest(t, http.MethodPost, "/feedback", gin.H{
			"message_id":    result.MessageID,
			"feedback_type": "meh",
		}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("listed for the owner", func(t *testing.T) {
		w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/feedback?owner_id=u1&limit=10", nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var list app.FeedbackList
		require.NoError(t, json.Unmarshal(body.Data, &list))
		require.Equal(t, 1, list.Total)
		assert.Equal(t, result.MessageID, list.Feedback[0].ID)
		assert.Equal(t, "helpful", list.Feedback[0].FeedbackComment)

		_, body = env.do(t, httptest.NewRequest(http.MethodGet, "/feedback?owner_id=u2", nil))
		require.NoError(t, json.Unmarshal(body.Data, &list))
		assert.Equal(t, 0, list.Total)
	})

	t.Run("bad limit", func(t *testing.T) {
		w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/feedback?owner_id=u1&limit=abc", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/feedback?owner_id=u1&limit=9999", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDocuments(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.docs.Create(context.Background(), &model.Document{
		UID:        "doc-1",
		OwnerID:    "u1",
		Filename:   "report.pdf",
		SizeBytes:  1024,
		PageCount:  2,
		ChunkCount: 4,
		Generation: 1,
		StorageKey: storage.ObjectKey("u1", "doc-1"),
		Collection: "documents",
		UploadedAt: time.Now().UTC(),
	}))

	w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/documents?owner_id=u1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "report.pdf", docs[0]["filename"])
	assert.NotContains(t, docs[0], "storage_key")

	t.Run("reprocess queues the next generation", func(t *testing.T) {
		w, _ := env.do(t, httptest.NewRequest(http.MethodPost, "/documents/report.pdf/reprocess?owner_id=u1", nil))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		jobs := env.jobs.Jobs()
		require.Len(t, jobs, 1)
		assert.True(t, jobs[0].Reprocess)
		assert.Equal(t, 2, jobs[0].Generation)
	})

	t.Run("delete while reprocessing conflicts", func(t *testing.T) {
		w, _ := env.do(t, httptest.NewRequest(http.MethodDelete, "/documents/report.pdf?owner_id=u1", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown document", func(t *testing.T) {
		w, body := env.do(t, httptest.NewRequest(http.MethodDelete, "/documents/missing.pdf?owner_id=u1", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, string(apperr.KindNotFound), body.Kind)
	})
}

func TestCollections(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, jsonRequest(t, http.MethodPost, "/collections", gin.H{"name": "contracts"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, body := env.do(t, httptest.NewRequest(http.MethodGet, "/collections", nil))
	var cols []vectorstore.CollectionInfo
	require.NoError(t, json.Unmarshal(body.Data, &cols))
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"documents", "contracts"}, names)

	t.Run("invalid name", func(t *testing.T) {
		w, body := env.do(t, jsonRequest(t, http.MethodPost, "/collections", gin.H{"name": "no spaces!"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(apperr.KindInvalidInput), body.Kind)
	})

	t.Run("default cannot be deleted", func(t *testing.T) {
		w, _ := env.do(t, httptest.NewRequest(http.MethodDelete, "/collections/documents", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("delete then unknown", func(t *testing.T) {
		w, _ := env.do(t, httptest.NewRequest(http.MethodDelete, "/collections/contracts", nil))
		require.Equal(t, http.StatusOK, w.Code)
		w, body := env.do(t, httptest.NewRequest(http.MethodPost, "/collections/contracts/reset", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, string(apperr.KindCollectionNotFound), body.Kind)
	})

	t.Run("health", func(t *testing.T) {
		w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/vector-store/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var h vectorstore.Health
		require.NoError(t, json.Unmarshal(body.Data, &h))
		assert.Equal(t, vectorstore.ModeMemory, h.Mode)
	})
}

func TestVectorStoreHealth_ReportsModelMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	vec, _, err := env.embedder.EmbedOne(ctx, "built by another backend")
	require.NoError(t, err)
	require.NoError(t, env.store.Add(ctx, "documents", "onnx", []vectorstore.Record{
		{ID: "r:1:0", Vector: vec, Text: "built by another backend", Metadata: map[string]any{"owner_id": "u1", "document": "report.pdf"}},
	}))

	w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/vector-store/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var h app.VectorStoreHealth
	require.NoError(t, json.Unmarshal(body.Data, &h))
	assert.Equal(t, map[string]string{"documents": "onnx"}, h.Models)
	assert.Equal(t, "hashing", h.EmbeddingBackend)
	assert.Equal(t, embedding.StateReady, h.EmbeddingState)
	assert.Equal(t, []string{"documents"}, h.Mismatched)

	_, body = env.do(t, jsonRequest(t, http.MethodPost, "/search", gin.H{"question": "backend", "owner_id": "u1"}))
	assert.Equal(t, string(apperr.KindModelUnavailable), body.Kind)
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	failing := func(context.Context) error { return errors.New("down") }
	passing := func(context.Context) error { return nil }

	serve := func(deps []Dependency) (*httptest.ResponseRecorder, map[string]any) {
		h := NewHealthHandler("docuchat", "test", time.Now(), deps, func(context.Context) gin.H {
			return gin.H{"dispatcher": "inprocess"}
		})
		r := gin.New()
		r.GET("/healthz", h.Check)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return w, body
	}

	t.Run("optional failure keeps it healthy", func(t *testing.T) {
		w, body := serve([]Dependency{
			{Name: "database", Check: passing},
			{Name: "rabbitmq", Optional: true, Check: failing},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "inprocess", body["dispatcher"])
	})

	t.Run("required failure", func(t *testing.T) {
		w, body := serve([]Dependency{{Name: "database", Check: failing}})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unavailable", body["status"])
		deps := body["dependencies"].(map[string]any)
		assert.Equal(t, "down", deps["database"].(map[string]any)["message"])
	})
}
