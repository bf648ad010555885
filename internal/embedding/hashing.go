package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const DefaultHashingDimension = 384

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Hashing is a local embedder that needs no model files or network. Tokens and
// adjacent token pairs are hashed into a fixed number of signed buckets with
// sublinear term frequency.
type Hashing struct {
	dim int
}

func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &Hashing{dim: dim}
}

// HashingLoader returns a Loader that always succeeds.
func HashingLoader(dim int) Loader {
	return func(context.Context) (Backend, error) {
		return NewHashing(dim), nil
	}
}

func (h *Hashing) Name() string   { return "hashing" }
func (h *Hashing) Dimension() int { return h.dim }

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}

	v := make([]float32, h.dim)
	for term, n := range counts {
		idx, sign := h.bucket(term)
		v[idx] += sign * float32(1+math.Log(float64(n)))
	}
	if len(counts) == 0 {
		idx, _ := h.bucket(text)
		v[idx] = 1
	}
	Normalize(v)
	return v
}

func (h *Hashing) bucket(term string) (int, float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(term))
	sum := f.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(h.dim)), sign
}
