package app

import (
	"context"
	"errors"
	"fmt"

	"docuchat/internal/apperr"
	"docuchat/internal/ingest"
	"docuchat/internal/logger"
	"docuchat/internal/model"
	"docuchat/internal/storage"
	"docuchat/internal/task"
	"docuchat/internal/vectorstore"
)

type DocumentService struct {
	gate       *TaskGate
	tracker    task.Tracker
	docs       DocumentRepository
	store      vectorstore.Store
	blobs      storage.Storage
	dispatcher ingest.Dispatcher
}

func NewDocumentService(
	gate *TaskGate,
	tracker task.Tracker,
	docs DocumentRepository,
	store vectorstore.Store,
	blobs storage.Storage,
	dispatcher ingest.Dispatcher,
) *DocumentService {
	return &DocumentService{
		gate:       gate,
		tracker:    tracker,
		docs:       docs,
		store:      store,
		blobs:      blobs,
		dispatcher: dispatcher,
	}
}

func (s *DocumentService) List(ctx context.Context, ownerID string) ([]model.Document, error) {
	return s.docs.ListByOwner(ctx, ownerOrAnonymous(ownerID))
}

func (s *DocumentService) get(ctx context.Context, ownerID, filename string) (*model.Document, error) {
	doc, err := s.docs.GetByOwnerAndFilename(ctx, ownerID, filename)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, filename)
	}
	return doc, nil
}

// Delete removes a document's record, its chunks and its stored upload. The
// record goes first so a failed delete never leaves a listed document without
// chunks; if the chunks cannot be removed the record is restored.
func (s *DocumentService) Delete(ctx context.Context, ownerID, filename string) error {
	owner := ownerOrAnonymous(ownerID)
	var removed int
	err := s.gate.Hold(owner, filename, func() error {
		doc, err := s.get(ctx, owner, filename)
		if err != nil {
			return err
		}
		if err := s.docs.DeleteByID(ctx, doc.ID); err != nil {
			return err
		}

		removed, err = s.store.DeleteWhere(ctx, doc.Collection, vectorstore.Filter{
			"owner_id": owner,
			"document": filename,
		})
		if err != nil && !errors.Is(err, apperr.ErrCollectionNotFound) {
			if rerr := s.docs.Create(ctx, doc); rerr != nil {
				logger.Error("restore document record failed", "document", filename, "error", rerr)
			}
			return err
		}

		if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			logger.Warn("delete document upload failed", "document", filename, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("document deleted", "owner_id", owner, "document", filename, "chunks", removed)
	return nil
}

// Reprocess schedules a new generation of a document built from its stored
// upload. The current chunks stay searchable until the new ones are written.
func (s *DocumentService) Reprocess(ctx context.Context, ownerID, filename string) (task.Snapshot, error) {
	owner := ownerOrAnonymous(ownerID)
	var doc *model.Document
	snap, err := s.gate.Admit(task.Meta{OwnerID: owner, Filename: filename}, func() error {
		var err error
		doc, err = s.get(ctx, owner, filename)
		return err
	})
	if err != nil {
		return task.Snapshot{}, err
	}

	job := ingest.Job{
		TaskID:      snap.ID,
		OwnerID:     owner,
		Filename:    filename,
		DocumentUID: doc.UID,
		Generation:  doc.Generation + 1,
		StorageKey:  doc.StorageKey,
		Size:        doc.SizeBytes,
		Collection:  doc.Collection,
		Reprocess:   true,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		if ferr := s.tracker.Fail(snap.ID, err); ferr != nil {
			logger.Warn("fail reprocess task failed", "task_id", snap.ID, "error", ferr)
		}
		return task.Snapshot{}, fmt.Errorf("dispatch reprocessing failed: %w", err)
	}
	logger.Info("reprocess scheduled", "task_id", snap.ID, "document", filename, "generation", job.Generation)
	return snap, nil
}
