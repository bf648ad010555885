package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docuchat/internal/apperr"
	"docuchat/internal/ingest"
	"docuchat/internal/logger"
	"docuchat/internal/pkg/pdfextract"
	"docuchat/internal/storage"
	"docuchat/internal/task"
)

type UploadInput struct {
	OwnerID    string
	Filename   string
	Collection string
	Body       io.Reader
}

type UploadService struct {
	gate        *TaskGate
	tracker     task.Tracker
	blobs       storage.Storage
	docs        DocumentRepository
	collections *CollectionService
	dispatcher  ingest.Dispatcher
	maxBytes    int64
}

func NewUploadService(
	gate *TaskGate,
	tracker task.Tracker,
	blobs storage.Storage,
	docs DocumentRepository,
	collections *CollectionService,
	dispatcher ingest.Dispatcher,
	maxBytes int64,
) *UploadService {
	if maxBytes <= 0 {
		maxBytes = pdfextract.DefaultMaxSize
	}
	return &UploadService{
		gate:        gate,
		tracker:     tracker,
		blobs:       blobs,
		docs:        docs,
		collections: collections,
		dispatcher:  dispatcher,
		maxBytes:    maxBytes,
	}
}

// Accept validates an upload, stores the raw file and schedules ingestion.
// The returned snapshot is the pending task the client polls.
func (s *UploadService) Accept(ctx context.Context, in UploadInput) (task.Snapshot, error) {
	owner := ownerOrAnonymous(in.OwnerID)
	filename, err := CleanFilename(in.Filename)
	if err != nil {
		return task.Snapshot{}, err
	}
	if in.Body == nil {
		return task.Snapshot{}, fmt.Errorf("%w: file is required", apperr.ErrInvalidInput)
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("%w: read upload: %v", apperr.ErrInvalidInput, err)
	}
	switch {
	case len(data) == 0:
		return task.Snapshot{}, fmt.Errorf("%w: file is empty", apperr.ErrInvalidInput)
	case int64(len(data)) > s.maxBytes:
		return task.Snapshot{}, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrInvalidInput, s.maxBytes)
	case !pdfextract.IsPDF(data):
		return task.Snapshot{}, fmt.Errorf("%w: %s is not a PDF", apperr.ErrUnsupportedFormat, filename)
	}

	collection, err := s.collections.Resolve(ctx, in.Collection)
	if err != nil {
		return task.Snapshot{}, err
	}

	snap, err := s.gate.Admit(task.Meta{OwnerID: owner, Filename: filename}, func() error {
		existing, err := s.docs.GetByOwnerAndFilename(ctx, owner, filename)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s already exists", apperr.ErrConflict, filename)
		}
		return nil
	})
	if err != nil {
		return task.Snapshot{}, err
	}

	uid := uuid.NewString()
	key := storage.ObjectKey(owner, uid)
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: "application/pdf",
	}); err != nil {
		s.abandon(snap.ID, "", err)
		return task.Snapshot{}, err
	}

	job := ingest.Job{
		TaskID:      snap.ID,
		OwnerID:     owner,
		Filename:    filename,
		DocumentUID: uid,
		Generation:  1,
		StorageKey:  key,
		Size:        int64(len(data)),
		Collection:  collection,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.abandon(snap.ID, key, err)
		return task.Snapshot{}, fmt.Errorf("dispatch ingestion failed: %w", err)
	}

	logger.Info("upload accepted", "task_id", snap.ID, "owner_id", owner, "document", filename, "size", len(data))
	return snap, nil
}

// abandon fails a task that never reached the pipeline and removes its blob.
func (s *UploadService) abandon(taskID, key string, cause error) {
	if key != "" {
		if err := s.blobs.Delete(context.Background(), key); err != nil {
			logger.Warn("remove abandoned upload failed", "key", key, "error", err)
		}
	}
	if err := s.tracker.Fail(taskID, cause); err != nil {
		logger.Warn("fail abandoned task failed", "task_id", taskID, "error", err)
	}
}

// CleanFilename strips directories and requires a .pdf extension.
func CleanFilename(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: filename is required", apperr.ErrInvalidInput)
	}
	if len(name) > 255 {
		return "", fmt.Errorf("%w: filename is too long", apperr.ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", fmt.Errorf("%w: only .pdf files are accepted", apperr.ErrUnsupportedFormat)
	}
	return name, nil
}
