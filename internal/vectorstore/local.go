package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"math"
	"reflect"
	"sort"
	"sync"
	"time"

	"docuchat/internal/apperr"
)

const DefaultTopK = 5

// Local is a brute-force in-memory store. Collections are independent: each
// has its own lock and the store lock only guards the collection map.
type Local struct {
	mu          sync.RWMutex
	collections map[string]*collection
	health      Health
	now         func() time.Time
}

type collection struct {
	mu        sync.RWMutex
	name      string
	dim       int
	model     string
	createdAt time.Time
	records   []Record
	index     map[string]int
	deleted   bool
}

// NewMemory returns a store that never touches disk.
func NewMemory() *Local {
	return newLocal(Health{Mode: ModeMemory})
}

func newLocal(h Health) *Local {
	return &Local{
		collections: make(map[string]*collection),
		health:      h,
		now:         time.Now,
	}
}

func (s *Local) CreateCollection(ctx context.Context, name string) (CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return CollectionInfo{}, err
	}
	if err := ValidateCollectionName(name); err != nil {
		return CollectionInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c.info(), nil
	}
	c := &collection{name: name, createdAt: s.now().UTC(), index: map[string]int{}}
	s.collections[name] = c
	return c.info(), nil
}

func (s *Local) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]CollectionInfo, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c.info())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Local) Add(ctx context.Context, name, model string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(name)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	dim, err := validateRecords(records)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return notFound(name)
	}
	if err := compatible(name, c.dim, c.model, dim, model); err != nil {
		return err
	}

	c.dim = dim
	if c.model == "" {
		c.model = model
	}
	for _, r := range records {
		stored := Record{
			ID:       r.ID,
			Vector:   append([]float32(nil), r.Vector...),
			Text:     r.Text,
			Metadata: maps.Clone(r.Metadata),
		}
		if pos, ok := c.index[r.ID]; ok {
			c.records[pos] = stored
			continue
		}
		c.index[r.ID] = len(c.records)
		c.records = append(c.records, stored)
	}
	return nil
}

func (s *Local) Query(ctx context.Context, name, model string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.records) == 0 {
		return []Match{}, nil
	}
	if err := compatible(name, c.dim, c.model, len(vector), model); err != nil {
		return nil, err
	}
	candidates := make([]Match, 0, len(c.records))
	for _, r := range c.records {
		if !filter.matches(r.Metadata) {
			continue
		}
		candidates = append(candidates, Match{ID: r.ID, Text: r.Text, Metadata: r.Metadata, Distance: cosineDistance(vector, r.Vector)})
	}
	out := nearest(candidates, topK)
	for i := range out {
		out[i].Metadata = maps.Clone(out[i].Metadata)
	}
	return out, nil
}

func (s *Local) Delete(ctx context.Context, name string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(name)
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(func(r Record) bool {
		_, ok := drop[r.ID]
		return ok
	})
	return nil
}

// DeleteWhere removes every record matching filter and reports how many went.
func (s *Local) DeleteWhere(ctx context.Context, name string, filter Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: delete filter must not be empty", apperr.ErrInvalidInput)
	}
	c, err := s.get(name)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(func(r Record) bool { return filter.matches(r.Metadata) }), nil
}

func (s *Local) Reset(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.get(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dim, c.model, c.records, c.index = 0, "", nil, map[string]int{}
	return nil
}

func (s *Local) DeleteCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return notFound(name)
	}
	c.mu.Lock()
	c.deleted = true
	c.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Local) Health(context.Context) Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.health
	h.Collections = len(s.collections)
	for _, c := range s.collections {
		c.mu.RLock()
		h.Records += len(c.records)
		if c.model != "" {
			if h.Models == nil {
				h.Models = map[string]string{}
			}
			h.Models[c.name] = c.model
		}
		c.mu.RUnlock()
	}
	return h
}

func (s *Local) get(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, notFound(name)
	}
	return c, nil
}

func (c *collection) info() CollectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CollectionInfo{Name: c.name, Dimension: c.dim, Model: c.model, Count: len(c.records), CreatedAt: c.createdAt}
}

// remove drops matching records, keeping the order of the rest. Callers hold c.mu.
func (c *collection) remove(drop func(Record) bool) int {
	kept := c.records[:0]
	removed := 0
	for _, r := range c.records {
		if drop(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0
	}
	clear(c.records[len(kept):])
	c.records = kept
	c.index = make(map[string]int, len(kept))
	for i, r := range kept {
		c.index[r.ID] = i
	}
	if len(kept) == 0 {
		c.dim, c.model = 0, ""
	}
	return removed
}

// nearest sorts candidates by distance and keeps the first topK. Equal
// distances keep the candidates' order.
func nearest(candidates []Match, topK int) []Match {
	if topK <= 0 {
		topK = DefaultTopK
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if topK > len(candidates) {
		topK = len(candidates)
	}
	return candidates[:topK]
}

func (f Filter) matches(meta map[string]any) bool {
	for k, want := range f {
		got, ok := meta[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares numbers by value so metadata survives a JSON round trip.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	return float32(max(d, 0))
}
