package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"docuchat/internal/ingest"
	"docuchat/internal/model"
	"docuchat/internal/rag"
	"docuchat/internal/repository"
)

type fakeDocs struct {
	mu   sync.Mutex
	next uint
	docs map[uint]*model.Document
}

func newFakeDocs(docs ...model.Document) *fakeDocs {
	f := &fakeDocs{docs: map[uint]*model.Document{}}
	for i := range docs {
		_ = f.Create(context.Background(), &docs[i])
	}
	return f
}

func (f *fakeDocs) Create(_ context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	doc.ID = f.next
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) Save(_ context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) ListByOwner(_ context.Context, owner string) ([]model.Document, error) {
	return f.filter(func(d *model.Document) bool { return d.OwnerID == owner }), nil
}

func (f *fakeDocs) ListByCollection(_ context.Context, collection string) ([]model.Document, error) {
	return f.filter(func(d *model.Document) bool { return d.Collection == collection }), nil
}

func (f *fakeDocs) filter(keep func(*model.Document) bool) []model.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Document
	for _, d := range f.docs {
		if keep(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeDocs) GetByOwnerAndFilename(_ context.Context, owner, filename string) (*model.Document, error) {
	for _, d := range f.filter(func(d *model.Document) bool { return d.OwnerID == owner && d.Filename == filename }) {
		return &d, nil
	}
	return nil, nil
}

func (f *fakeDocs) DeleteByID(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) CountByCollection(_ context.Context, collection string) (int64, error) {
	return int64(len(f.filter(func(d *model.Document) bool { return d.Collection == collection }))), nil
}

func (f *fakeDocs) DeleteByCollection(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, d := range f.docs {
		if d.Collection == collection {
			delete(f.docs, id)
		}
	}
	return nil
}

type fakeMessages struct {
	mu        sync.Mutex
	messages  map[string]model.ChatMessage
	createErr error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{messages: map[string]model.ChatMessage{}}
}

func (f *fakeMessages) Create(_ context.Context, msg *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.messages[msg.ID] = *msg
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id string) (*model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeMessages) ListByOwner(_ context.Context, owner string, limit int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChatMessage
	for _, m := range f.messages {
		if m.OwnerID == owner {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessages) ListWithFeedback(_ context.Context, owner string, limit int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChatMessage
	for _, msg := range f.messages {
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

func (f *fakeMessages) DeleteByOwner(_ context.Context, owner string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, m := range f.messages {
		if m.OwnerID == owner {
			delete(f.messages, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) SetFeedback(_ context.Context, id, feedbackType, comment string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok || m.FeedbackType != nil {
		return repository.ErrFeedbackAlreadySet
	}
	m.FeedbackType = &feedbackType
	m.FeedbackComment = comment
	m.FeedbackAt = &at
	f.messages[id] = m
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]model.ChatMessage
	gets    int
	hits    int
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]model.ChatMessage{}}
}

func (c *fakeCache) GetHistory(_ context.Context, owner string) ([]model.ChatMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	m, ok := c.entries[owner]
	if ok {
		c.hits++
	}
	return m, ok, nil
}

func (c *fakeCache) SetHistory(_ context.Context, owner string, messages []model.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[owner] = messages
	return nil
}

func (c *fakeCache) DeleteHistory(_ context.Context, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, owner)
	return nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []ingest.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job ingest.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type stubAsker struct {
	answer *rag.Answer
	err    error
	last   rag.Question
}

func (s *stubAsker) Ask(_ context.Context, q rag.Question) (*rag.Answer, error) {
	s.last = q
	if s.err != nil {
		return nil, s.err
	}
	return s.answer, nil
}

var errBroker = errors.New("broker unavailable")
