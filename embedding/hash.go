package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const DefaultHashDimensions = 384

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"what": {}, "which": {}, "who": {}, "will": {}, "with": {}, "does": {}, "do": {},
}

// HashEmbedder is a local bag-of-words embedder using feature hashing.
// It needs no backend and is deterministic.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}

	return &HashEmbedder{dims}
}

func (e *HashEmbedder) Model() string {
	return "hash-" + strconv.Itoa(e.dims)
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)

	tokens := tokenize(text)
	for i, token := range tokens {
		vec[e.bucket(token)] += 1

		if i > 0 {
			vec[e.bucket(tokens[i-1]+" "+token)] += 0.5
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		// text without tokens still needs a unit vector
		vec[0] = 1
		return vec, nil
	}

	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}

	return vec, nil
}

func (e *HashEmbedder) bucket(token string) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32() % uint32(e.dims))
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := stopwords[f]; ok {
			continue
		}

		tokens = append(tokens, f)
	}

	return tokens
}
