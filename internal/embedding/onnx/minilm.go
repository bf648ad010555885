// Package onnx runs a sentence-transformer model (all-MiniLM-L6-v2 export)
// locally through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"docuchat/internal/embedding"
)

type Config struct {
	ModelPath     string
	VocabPath     string
	SharedLibPath string
	MaxSeqLen     int
	Lowercase     bool
}

const defaultMaxSeqLen = 256

var envOnce sync.Once
var envErr error

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("onnx init environment: %w", err)
		}
	})
	return envErr
}

// Encoder holds one session with fixed-size tensors. Runs are serialized on mu.
type Encoder struct {
	tok    *WordPiece
	seqLen int
	dim    int

	mu      sync.Mutex
	ids     *ort.Tensor[int64]
	mask    *ort.Tensor[int64]
	types   *ort.Tensor[int64]
	output  *ort.Tensor[float32]
	session *ort.AdvancedSession
}

var openEncoder = Open

// Loader returns an embedding.Loader that opens the model on first use. A
// context cancelled while the model loads discards the opened encoder.
func Loader(cfg Config) embedding.Loader {
	return func(ctx context.Context) (embedding.Backend, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("onnx load cancelled: %w", err)
		}
		enc, err := openEncoder(cfg)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			enc.Close()
			return nil, fmt.Errorf("onnx load cancelled: %w", err)
		}
		return enc, nil
	}
}

func Open(cfg Config) (*Encoder, error) {
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultMaxSeqLen
	}
	if err := initEnvironment(cfg.SharedLibPath); err != nil {
		return nil, err
	}

	tok, err := LoadVocab(cfg.VocabPath, cfg.Lowercase)
	if err != nil {
		return nil, fmt.Errorf("load vocab: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx model has no inputs or outputs")
	}
	outDims := outputs[0].Dimensions
	if len(outDims) != 3 || outDims[2] <= 0 {
		return nil, fmt.Errorf("onnx output %s has shape %v, want [batch, seq, hidden]", outputs[0].Name, outDims)
	}

	e := &Encoder{tok: tok, seqLen: cfg.MaxSeqLen, dim: int(outDims[2])}
	shape := ort.NewShape(1, int64(e.seqLen))
	if e.ids, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return nil, fmt.Errorf("onnx new input tensor: %w", err)
	}
	if e.mask, err = ort.NewEmptyTensor[int64](shape); err != nil {
		e.Close()
		return nil, fmt.Errorf("onnx new mask tensor: %w", err)
	}
	if e.types, err = ort.NewEmptyTensor[int64](shape); err != nil {
		e.Close()
		return nil, fmt.Errorf("onnx new token type tensor: %w", err)
	}
	if e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.seqLen), int64(e.dim))); err != nil {
		e.Close()
		return nil, fmt.Errorf("onnx new output tensor: %w", err)
	}

	inputNames := make([]string, 0, len(inputs))
	inputValues := make([]ort.Value, 0, len(inputs))
	for _, in := range inputs {
		switch in.Name {
		case "input_ids":
			inputValues = append(inputValues, e.ids)
		case "attention_mask":
			inputValues = append(inputValues, e.mask)
		case "token_type_ids":
			inputValues = append(inputValues, e.types)
		default:
			e.Close()
			return nil, fmt.Errorf("onnx model has unexpected input %q", in.Name)
		}
		inputNames = append(inputNames, in.Name)
	}

	e.session, err = ort.NewAdvancedSession(cfg.ModelPath, inputNames, []string{outputs[0].Name},
		inputValues, []ort.Value{e.output}, nil)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("onnx new session: %w", err)
	}
	return e, nil
}

func (e *Encoder) Name() string   { return "onnx:minilm" }
func (e *Encoder) Dimension() int { return e.dim }

func (e *Encoder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.embedOne(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Encoder) embedOne(text string) ([]float32, error) {
	ids := e.tok.Encode(text, e.seqLen)

	e.mu.Lock()
	defer e.mu.Unlock()

	idData, maskData, typeData := e.ids.GetData(), e.mask.GetData(), e.types.GetData()
	for i := 0; i < e.seqLen; i++ {
		typeData[i] = 0
		if i < len(ids) {
			idData[i], maskData[i] = ids[i], 1
		} else {
			idData[i], maskData[i] = e.tok.PadID(), 0
		}
	}
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return meanPool(e.output.GetData(), maskData, e.seqLen, e.dim), nil
}

// meanPool averages the hidden states of unmasked tokens.
func meanPool(hidden []float32, mask []int64, seqLen, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for t := 0; t < seqLen; t++ {
		if mask[t] == 0 {
			continue
		}
		n++
		row := hidden[t*dim : (t+1)*dim]
		for d := range out {
			out[d] += row[d]
		}
	}
	if n > 0 {
		for d := range out {
			out[d] /= n
		}
	}
	embedding.Normalize(out)
	return out
}

func (e *Encoder) Close() {
	if e.session != nil {
		_ = e.session.Destroy()
	}
	for _, t := range []*ort.Tensor[int64]{e.ids, e.mask, e.types} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.output != nil {
		_ = e.output.Destroy()
	}
}
