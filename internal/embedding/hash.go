package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/vecpager/pkg/utils"
)

// Weights of the word and bigram feature vectors in a hashed embedding.
const (
	wordWeight   = 0.75
	bigramWeight = 0.25
)

// HashEmbedder is a deterministic feature-hashing embedder. Each lowercase
// word and word bigram adds ±1 to a bucket chosen by its hash. Word and
// bigram features are normalized separately and blended, so texts sharing
// words land close under cosine and shared phrasing pulls them closer.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns an embedder producing vectors of the given dimensions.
func NewHashEmbedder(dimensions int) (*HashEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}
	return &HashEmbedder{dimensions: dimensions}, nil
}

// Embed returns the hashed embedding of text. Empty text embeds to the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unigrams := make([]float32, e.dimensions)
	bigrams := make([]float32, e.dimensions)
	words := splitWords(text)
	for i, w := range words {
		e.add(unigrams, w)
		if i > 0 {
			e.add(bigrams, words[i-1]+" "+w)
		}
	}
	utils.NormalizeL2(unigrams)
	utils.NormalizeL2(bigrams)
	return utils.Combine([][]float32{unigrams, bigrams}, []float32{wordWeight, bigramWeight})
}

func (e *HashEmbedder) add(emb []float32, feature string) {
	h := xxhash.Sum64String(feature)
	bucket := h % uint64(e.dimensions)
	if h>>63 == 1 {
		emb[bucket]--
	} else {
		emb[bucket]++
	}
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
