package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"docuchat/internal/ingest"
	"docuchat/internal/model"
	"docuchat/internal/rag"
	"docuchat/internal/repository"
)

type memDocs struct {
	mu   sync.Mutex
	next uint
	docs map[uint]model.Document
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[uint]model.Document{}}
}

func (d *memDocs) Create(_ context.Context, doc *model.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	doc.ID = d.next
	d.docs[doc.ID] = *doc
	return nil
}

func (d *memDocs) Save(_ context.Context, doc *model.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[doc.ID] = *doc
	return nil
}

func (d *memDocs) where(keep func(model.Document) bool) []model.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Document
	for _, doc := range d.docs {
		if keep(doc) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *memDocs) ListByOwner(_ context.Context, owner string) ([]model.Document, error) {
	return d.where(func(doc model.Document) bool { return doc.OwnerID == owner }), nil
}

func (d *memDocs) GetByOwnerAndFilename(_ context.Context, owner, filename string) (*model.Document, error) {
	found := d.where(func(doc model.Document) bool { return doc.OwnerID == owner && doc.Filename == filename })
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (d *memDocs) DeleteByID(_ context.Context, id uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.docs, id)
	return nil
}

func (d *memDocs) ListByCollection(_ context.Context, collection string) ([]model.Document, error) {
	return d.where(func(doc model.Document) bool { return doc.Collection == collection }), nil
}

func (d *memDocs) CountByCollection(ctx context.Context, collection string) (int64, error) {
	docs, _ := d.ListByCollection(ctx, collection)
	return int64(len(docs)), nil
}

func (d *memDocs) DeleteByCollection(_ context.Context, collection string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, doc := range d.docs {
		if doc.Collection == collection {
			delete(d.docs, id)
		}
	}
	return nil
}

type memMessages struct {
	mu       sync.Mutex
	messages map[string]model.ChatMessage
}

func newMemMessages() *memMessages {
	return &memMessages{messages: map[string]model.ChatMessage{}}
}

func (m *memMessages) Create(_ context.Context, msg *model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = *msg
	return nil
}

func (m *memMessages) GetByID(_ context.Context, id string) (*model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (m *memMessages) ListByOwner(_ context.Context, owner string, limit int) ([]model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChatMessage
	for _, msg := range m.messages {
		if msg.OwnerID == owner {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) ListWithFeedback(_ context.Context, owner string, limit int) ([]model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChatMessage
	for _, msg := range m.messages {
		if msg.OwnerID == owner && msg.FeedbackType != nil {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedbackAt.After(*out[j].FeedbackAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) DeleteByOwner(_ context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, msg := range m.messages {
		if msg.OwnerID == owner {
			delete(m.messages, id)
			n++
		}
	}
	return n, nil
}

func (m *memMessages) SetFeedback(_ context.Context, id, feedbackType, comment string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.FeedbackType != nil {
		return repository.ErrFeedbackAlreadySet
	}
	msg.FeedbackType = &feedbackType
	msg.FeedbackComment = comment
	msg.FeedbackAt = &at
	m.messages[id] = msg
	return nil
}

type jobRecorder struct {
	mu   sync.Mutex
	jobs []ingest.Job
}

func (r *jobRecorder) Dispatch(_ context.Context, job ingest.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *jobRecorder) Jobs() []ingest.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ingest.Job(nil), r.jobs...)
}

type cannedAsker struct {
	answer *rag.Answer
	err    error
}

func (a *cannedAsker) Ask(context.Context, rag.Question) (*rag.Answer, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.answer, nil
}
