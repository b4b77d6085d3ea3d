package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultDimensions = 256

// Hash is a deterministic bag-of-tokens embedder: unigrams and adjacent
// bigrams are FNV-1a hashed into a fixed-length vector, which is then
// L2-normalized. It is an offline approximation, not a semantic model;
// cosine over these vectors measures lexical overlap with mild phrase
// sensitivity.
type Hash struct {
	dim int
}

func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Hash{dim: dim}
}

func (h *Hash) Dimensions() int {
	return h.dim
}

func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	for i, tok := range tokens {
		vec[h.bucket(tok)]++
		if i > 0 {
			vec[h.bucket(tokens[i-1]+"_"+tok)] += 0.5
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (h *Hash) bucket(token string) int {
	hasher := fnv.New64a()
	hasher.Write([]byte(token))
	return int(hasher.Sum64() % uint64(h.dim))
}

func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() >= 3 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}
