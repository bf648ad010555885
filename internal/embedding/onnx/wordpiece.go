package onnx

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxCharsPerWord = 100

// WordPiece is the BERT uncased tokenizer used by sentence-transformer models.
type WordPiece struct {
	vocab map[string]int64
	lower bool

	unk, cls, sep, pad int64
}

func LoadVocab(path string, lower bool) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		tokens = append(tokens, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return NewWordPiece(tokens, lower)
}

// NewWordPiece builds a tokenizer where the i-th token has id i.
func NewWordPiece(tokens []string, lower bool) (*WordPiece, error) {
	w := &WordPiece{vocab: make(map[string]int64, len(tokens)), lower: lower}
	for i, t := range tokens {
		if t == "" {
			continue
		}
		if _, dup := w.vocab[t]; !dup {
			w.vocab[t] = int64(i)
		}
	}
	for name, dst := range map[string]*int64{"[UNK]": &w.unk, "[CLS]": &w.cls, "[SEP]": &w.sep, "[PAD]": &w.pad} {
		id, ok := w.vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocab is missing special token %s", name)
		}
		*dst = id
	}
	return w, nil
}

// Encode returns [CLS] tokens [SEP] truncated to maxLen ids.
func (w *WordPiece) Encode(text string, maxLen int) []int64 {
	ids := []int64{w.cls}
	for _, tok := range w.Tokenize(text) {
		if len(ids) >= maxLen-1 {
			break
		}
		ids = append(ids, w.vocab[tok])
	}
	return append(ids, w.sep)
}

func (w *WordPiece) PadID() int64 { return w.pad }

// Tokenize splits text into vocabulary pieces, unknown words become [UNK].
func (w *WordPiece) Tokenize(text string) []string {
	var out []string
	for _, word := range w.basic(text) {
		out = append(out, w.pieces(word)...)
	}
	return out
}

func (w *WordPiece) basic(text string) []string {
	if w.lower {
		text = strings.ToLower(text)
		text = stripAccents(text)
	}
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunct(r) || isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func (w *WordPiece) pieces(word string) []string {
	runes := []rune(word)
	if len(runes) > maxCharsPerWord {
		return []string{"[UNK]"}
	}
	var out []string
	for start := 0; start < len(runes); {
		end := len(runes)
		found := ""
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := w.vocab[sub]; ok {
				found = sub
				break
			}
		}
		if found == "" {
			return []string{"[UNK]"}
		}
		out = append(out, found)
		start = end
	}
	return out
}

func stripAccents(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}
