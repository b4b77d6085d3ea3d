package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
	"unicode"
)

var errNotFound = errors.New("not found")

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FactKey builds the per-chat uniqueness key for a triple: each part is
// lowercased with runs of whitespace collapsed, joined with '|'.
func FactKey(subject, predicate, object string) string {
	return normalizePart(subject) + "|" + normalizePart(predicate) + "|" + normalizePart(object)
}

func normalizePart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// marshalStrings serializes a string slice for a JSON column; nil becomes [].
func marshalStrings(vals []string) string {
	if vals == nil {
		vals = []string{}
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// unmarshalStrings parses a JSON string-array column, degrading to an empty
// slice on malformed input.
func unmarshalStrings(raw string) []string {
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return []string{}
	}
	return vals
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var merged []string
	for _, t := range a {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	for _, t := range b {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}

func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

const (
	ftsMaxTokens = 12
	ftsMinLen    = 3
)

// ftsQuery turns free text into an OR-joined FTS5 MATCH expression built
// from the first dozen alphanumeric tokens of at least three characters.
// Returns "" when nothing usable remains.
func ftsQuery(text string) string {
	tokens := Tokenize(text)
	if len(tokens) > ftsMaxTokens {
		tokens = tokens[:ftsMaxTokens]
	}
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Tokenize lowercases text and returns alphanumeric runs of at least three
// characters, deduplicated in order of first appearance.
func Tokenize(text string) []string {
	var tokens []string
	seen := make(map[string]bool)
	var cur strings.Builder

	flush := func() {
		if cur.Len() >= ftsMinLen {
			tok := cur.String()
			if !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
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
