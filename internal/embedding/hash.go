package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashModel embeds text by feature hashing unigrams and bigrams into a
// signed, L2-normalized vector. It needs no model weights, is bit-for-bit
// deterministic, and serves offline setups and tests.
type HashModel struct {
	dimension int
}

func NewHashModel(dimension int) *HashModel {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashModel{dimension: dimension}
}

func (m *HashModel) Name() string { return "hash-v1" }

func (m *HashModel) Ping(context.Context) error { return nil }

func (m *HashModel) Close() error { return nil }

func (m *HashModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.embed(t)
	}
	return out, nil
}

func (m *HashModel) embed(text string) []float32 {
	vec := make([]float64, m.dimension)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{strings.TrimSpace(text)}
	}

	for i, tok := range tokens {
		m.add(vec, tok, 1.0)
		if i > 0 {
			m.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, m.dimension)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (m *HashModel) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(m.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
