package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kalambet/kindred/internal/engine"
	"golang.org/x/sync/errgroup"
)

// ErrUnavailable wraps every failure to produce a vector: the engine is
// unreachable, timed out, or answered with something unusable.
var ErrUnavailable = errors.New("embedding unavailable")

// DefaultTimeout bounds a single Embed call when none is configured.
const DefaultTimeout = 10 * time.Second

// batchSize is the number of texts sent per request to engines that embed
// in batches.
const batchSize = 32

// Embedder wraps an Engine and a model name. It holds no other state and is
// safe for concurrent use.
type Embedder struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

// NewEmbedder creates an Embedder. A non-positive timeout uses DefaultTimeout.
func NewEmbedder(e engine.Engine, model string, timeout time.Duration) *Embedder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Embedder{engine: e, model: model, timeout: timeout}
}

// Model returns the configured model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, e.model, err)
	}
	if err := checkVector(vec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, e.model, err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts, in input order.
// Engines that support batching get chunks of batchSize texts; others get one
// request per text. At most four requests are in flight.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	be, batching := e.engine.(engine.BatchEngine)
	if !batching {
		for i, text := range texts {
			g.Go(func() error {
				vec, err := e.Embed(gCtx, text)
				if err != nil {
					return fmt.Errorf("embedding text %d: %w", i, err)
				}
				results[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gCtx, e.timeout)
			defer cancel()
			vecs, err := be.EmbedMany(cctx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: %s: texts %d-%d: %w", ErrUnavailable, e.model, start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: %s: got %d vectors for %d texts", ErrUnavailable, e.model, len(vecs), end-start)
			}
			for j, vec := range vecs {
				if err := checkVector(vec); err != nil {
					return fmt.Errorf("%w: %s: text %d: %w", ErrUnavailable, e.model, start+j, err)
				}
				results[start+j] = vec
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func checkVector(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("empty vector")
	}
	var sumSq float64
	for i, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("non-finite component at %d", i)
		}
		sumSq += float64(f) * float64(f)
	}
	// A zero vector has no direction, so its cosine score is undefined.
	if sumSq == 0 {
		return errors.New("zero vector")
	}
	return nil
}
