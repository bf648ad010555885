// Package ingest turns an uploaded PDF into embedded chunks in the vector
// store and a document record, reporting progress through the task tracker.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docuchat/internal/apperr"
	"docuchat/internal/chunker"
	"docuchat/internal/embedding"
	"docuchat/internal/logger"
	"docuchat/internal/metrics"
	"docuchat/internal/model"
	"docuchat/internal/pkg/pdfextract"
	"docuchat/internal/storage"
	"docuchat/internal/task"
	"docuchat/internal/vectorstore"
)

const DefaultBatchSize = 16

// Job describes one ingestion. Reprocess jobs rebuild the chunks of an
// existing document from its stored blob under a new generation.
type Job struct {
	TaskID      string `json:"task_id"`
	OwnerID     string `json:"owner_id"`
	Filename    string `json:"filename"`
	DocumentUID string `json:"document_uid"`
	Generation  int    `json:"generation"`
	StorageKey  string `json:"storage_key"`
	Size        int64  `json:"size"`
	Collection  string `json:"collection"`
	Reprocess   bool   `json:"reprocess"`
}

type Summary struct {
	Document   string `json:"document"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	Tables     int    `json:"tables"`
	Collection string `json:"collection"`
	Generation int    `json:"generation"`
	DurationMS int64  `json:"duration_ms"`
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) (embedding.Result, error)
}

type DocumentStore interface {
	GetByOwnerAndFilename(ctx context.Context, ownerID, filename string) (*model.Document, error)
	Create(ctx context.Context, doc *model.Document) error
	Save(ctx context.Context, doc *model.Document) error
	ExistsByStorageKey(ctx context.Context, key string) (bool, error)
}

type Pipeline struct {
	tracker   task.Tracker
	blobs     storage.Storage
	chunker   *chunker.Chunker
	embedder  Embedder
	store     vectorstore.Store
	docs      DocumentStore
	metrics   *metrics.Metrics
	batchSize int
	maxSize   int64
	now       func() time.Time
}

type Option func(*Pipeline)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithMaxSize(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

func NewPipeline(
	tracker task.Tracker,
	blobs storage.Storage,
	chunks *chunker.Chunker,
	embedder Embedder,
	store vectorstore.Store,
	docs DocumentStore,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		tracker:   tracker,
		blobs:     blobs,
		chunker:   chunks,
		embedder:  embedder,
		store:     store,
		docs:      docs,
		batchSize: DefaultBatchSize,
		maxSize:   pdfextract.DefaultMaxSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run holds the state one job accumulates so a failure can undo it.
type run struct {
	job     Job
	claimed bool
	written []string
}

// Run executes a job to completion. Every outcome is recorded on the task;
// the returned error is the same one the task ends with.
func (p *Pipeline) Run(ctx context.Context, job Job) (err error) {
	ctx, span := otel.Tracer("docuchat/ingest").Start(ctx, "ingest.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("ingest.task_id", job.TaskID),
		attribute.String("ingest.document", job.Filename),
		attribute.Bool("ingest.reprocess", job.Reprocess),
	)

	start := p.now()
	p.metrics.IngestStarted()
	r := &run{job: job}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ingestion panicked: %v", rec)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			p.rollback(r)
			if !r.claimed {
				p.metrics.IngestSkipped()
				logger.Warn("ingestion skipped", "task_id", job.TaskID, "error", err)
				if errors.Is(err, apperr.ErrNotFound) {
					p.dropOrphanUpload(job)
				}
				return
			}
			p.metrics.IngestFailed(string(apperr.KindOf(err)))
			if ferr := p.tracker.Fail(job.TaskID, err); ferr != nil {
				logger.Warn("record task failure failed", "task_id", job.TaskID, "error", ferr)
			}
			logger.Error("ingestion failed",
				"task_id", job.TaskID,
				"document", job.Filename,
				"kind", apperr.KindOf(err),
				"error", err,
			)
		}
	}()

	summary, err := p.execute(ctx, r)
	if err != nil {
		return err
	}
	summary.DurationMS = p.now().Sub(start).Milliseconds()
	if err := p.tracker.Complete(job.TaskID, summary); err != nil {
		return err
	}
	p.metrics.IngestSucceeded(p.now().Sub(start), summary.Chunks)
	logger.Info("ingestion completed",
		"task_id", job.TaskID,
		"document", job.Filename,
		"chunks", summary.Chunks,
		"pages", summary.Pages,
		"duration_ms", summary.DurationMS,
	)
	return nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*Summary, error) {
	job := r.job
	if err := p.tracker.Start(job.TaskID, "processing"); err != nil {
		return nil, err
	}
	r.claimed = true
	if job.Reprocess {
		if _, err := p.current(ctx, job); err != nil {
			return nil, err
		}
	}
	if err := p.progress(job, 10, "processing"); err != nil {
		return nil, err
	}

	data, err := p.fetch(ctx, job.StorageKey)
	if err != nil {
		return nil, err
	}
	if err := p.progress(job, 20, "extracting text"); err != nil {
		return nil, err
	}

	extracted, err := pdfextract.Extract(data, p.maxSize)
	if err != nil {
		return nil, err
	}
	if err := p.progress(job, 35, "chunking text"); err != nil {
		return nil, err
	}

	records, err := p.buildRecords(job, extracted)
	if err != nil {
		return nil, err
	}
	if err := p.progress(job, 45, fmt.Sprintf("embedding %d chunks", len(records))); err != nil {
		return nil, err
	}

	embeddingModel, err := p.embed(ctx, job, records)
	if err != nil {
		return nil, err
	}

	if err := p.progress(job, 90, "storing chunks"); err != nil {
		return nil, err
	}
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	r.written = ids
	if err := p.store.Add(ctx, job.Collection, embeddingModel, records); err != nil {
		return nil, err
	}

	stale, err := p.saveDocument(ctx, job, extracted, len(records))
	if err != nil {
		return nil, err
	}
	// The new generation is committed; old chunks are garbage from here on.
	r.written = nil
	if len(stale) > 0 {
		if err := p.store.Delete(ctx, job.Collection, stale); err != nil {
			logger.Warn("delete previous generation failed", "document", job.Filename, "error", err)
		}
	}

	return &Summary{
		Document:   job.Filename,
		Pages:      len(extracted.Pages),
		Chunks:     len(records),
		Tables:     len(extracted.Tables),
		Collection: job.Collection,
		Generation: job.Generation,
	}, nil
}

func (p *Pipeline) progress(job Job, percent int, message string) error {
	return p.tracker.Update(job.TaskID, percent, message)
}

func (p *Pipeline) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := p.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch upload: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, p.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func (p *Pipeline) buildRecords(job Job, extracted *pdfextract.Result) ([]vectorstore.Record, error) {
	text, offsets := extracted.Text()
	if strings.TrimSpace(text) == "" && len(extracted.Tables) == 0 {
		return nil, fmt.Errorf("%w: %s contains no extractable text", apperr.ErrExtraction, job.Filename)
	}

	addedAt := p.now().UTC().Format(time.RFC3339)
	textLength := len([]rune(text))
	var records []vectorstore.Record
	// Table chunks are cut from the rendered table, not the document text,
	// so they carry no document offsets.
	add := func(c chunker.Chunk, page int, isTable bool) {
		seq := len(records)
		meta := map[string]any{
			"owner_id":    job.OwnerID,
			"document":    job.Filename,
			"chunk_index": seq,
			"page_number": page,
			"is_table":    isTable,
			"char_count":  len([]rune(c.Text)),
			"word_count":  c.WordCount(),
			"added_at":    addedAt,
			"text_length": textLength,
		}
		if !isTable {
			meta["start_offset"] = c.Start
			meta["end_offset"] = c.End
		}
		records = append(records, vectorstore.Record{
			ID:       ChunkID(job.DocumentUID, job.Generation, seq),
			Text:     c.Text,
			Metadata: meta,
		})
	}

	for c := range p.chunker.Chunks(text) {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		add(c, pdfextract.PageAt(offsets, c.Start), false)
	}
	// Tables are chunked on their own so rows stay together.
	for _, t := range extracted.Tables {
		for c := range p.chunker.Chunks(t.Render()) {
			add(c, t.Page, true)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s produced no chunks", apperr.ErrExtraction, job.Filename)
	}
	return records, nil
}

// embed fills in the record vectors and returns the backend that produced
// them. A backend switch between batches fails the job rather than mixing
// vector spaces in one document.
func (p *Pipeline) embed(ctx context.Context, job Job, records []vectorstore.Record) (string, error) {
	total := len(records)
	var embeddingModel string
	for start := 0; start < total; start += p.batchSize {
		end := min(start+p.batchSize, total)
		texts := make([]string, 0, end-start)
		for _, r := range records[start:end] {
			texts = append(texts, r.Text)
		}
		res, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return "", err
		}
		if len(res.Vectors) != len(texts) {
			return "", fmt.Errorf("embedder returned %d vectors for %d texts", len(res.Vectors), len(texts))
		}
		if start == 0 {
			embeddingModel = res.Model
		} else if res.Model != embeddingModel {
			return "", fmt.Errorf("%w: embedding backend changed from %s to %s during ingestion",
				apperr.ErrModelUnavailable, embeddingModel, res.Model)
		}
		for i, v := range res.Vectors {
			records[start+i].Vector = v
		}
		percent := 45 + 40*end/total
		if err := p.progress(job, percent, fmt.Sprintf("embedded %d/%d chunks", end, total)); err != nil {
			return "", err
		}
	}
	return embeddingModel, nil
}

// saveDocument creates or updates the document record and returns the chunk
// ids of the generation it replaces.
func (p *Pipeline) saveDocument(ctx context.Context, job Job, extracted *pdfextract.Result, chunks int) ([]string, error) {
	now := p.now().UTC()
	if !job.Reprocess {
		doc := &model.Document{
			UID:        job.DocumentUID,
			OwnerID:    job.OwnerID,
			Filename:   job.Filename,
			SizeBytes:  job.Size,
			PageCount:  len(extracted.Pages),
			ChunkCount: chunks,
			TableCount: len(extracted.Tables),
			Generation: job.Generation,
			StorageKey: job.StorageKey,
			Collection: job.Collection,
			UploadedAt: now,
		}
		if err := p.docs.Create(ctx, doc); err != nil {
			return nil, err
		}
		return nil, nil
	}

	doc, err := p.current(ctx, job)
	if err != nil {
		return nil, err
	}
	stale := make([]string, doc.ChunkCount)
	for i := range stale {
		stale[i] = ChunkID(doc.UID, doc.Generation, i)
	}
	doc.Generation = job.Generation
	doc.Reprocessed = true
	doc.PageCount = len(extracted.Pages)
	doc.ChunkCount = chunks
	doc.TableCount = len(extracted.Tables)
	if err := p.docs.Save(ctx, doc); err != nil {
		return nil, err
	}
	return stale, nil
}

// current returns the document a reprocess job replaces, provided the job
// still targets a newer generation.
func (p *Pipeline) current(ctx context.Context, job Job) (*model.Document, error) {
	doc, err := p.docs.GetByOwnerAndFilename(ctx, job.OwnerID, job.Filename)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, job.Filename)
	}
	if doc.Generation >= job.Generation {
		return nil, fmt.Errorf("%w: document %s is already at generation %d", apperr.ErrConflict, job.Filename, doc.Generation)
	}
	return doc, nil
}

// rollback removes what a failed job wrote. Fresh uploads also lose their blob;
// a reprocess keeps it because the existing document still needs it.
func (p *Pipeline) rollback(r *run) {
	// A job whose task was already finished or swept belongs to someone else.
	if !r.claimed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(r.written) > 0 {
		if err := p.store.Delete(ctx, r.job.Collection, r.written); err != nil && !errors.Is(err, apperr.ErrCollectionNotFound) {
			logger.Warn("rollback chunks failed", "task_id", r.job.TaskID, "error", err)
		}
	}
	if !r.job.Reprocess && r.job.StorageKey != "" {
		if err := p.blobs.Delete(ctx, r.job.StorageKey); err != nil {
			logger.Warn("rollback upload failed", "task_id", r.job.TaskID, "error", err)
		}
	}
}

// dropOrphanUpload removes the upload of a fresh job whose task this process
// does not know, such as one queued before a restart. The blob is kept while
// any document record points at it.
func (p *Pipeline) dropOrphanUpload(job Job) {
	if job.Reprocess || job.StorageKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	referenced, err := p.docs.ExistsByStorageKey(ctx, job.StorageKey)
	if err != nil {
		logger.Warn("check orphan upload failed", "task_id", job.TaskID, "key", job.StorageKey, "error", err)
		return
	}
	if referenced {
		return
	}
	if err := p.blobs.Delete(ctx, job.StorageKey); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		logger.Warn("delete orphan upload failed", "task_id", job.TaskID, "key", job.StorageKey, "error", err)
		return
	}
	logger.Info("orphan upload removed", "task_id", job.TaskID, "key", job.StorageKey)
}

// ChunkID is the vector store id of chunk seq of a document generation.
func ChunkID(documentUID string, generation, seq int) string {
	return fmt.Sprintf("%s:%d:%d", documentUID, generation, seq)
}
