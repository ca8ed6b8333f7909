package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/kindred/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(_ context.Context) bool               { return true }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(_ context.Context, _ string) bool      { return true }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return engine.ErrPullUnsupported
}

// mockBatchEngine also implements engine.BatchEngine.
type mockBatchEngine struct {
	mockEngine
	calls  atomic.Int32
	manyFn func(texts []string) ([][]float32, error)
}

func (m *mockBatchEngine) EmbedMany(_ context.Context, _ string, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	return m.manyFn(texts)
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, model string, _ string) ([]float32, error) {
			if model != "all-minilm" {
				t.Errorf("model = %q", model)
			}
			return makeVector(384), nil
		},
	}
	vec, err := NewEmbedder(mock, "all-minilm", 0).Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_Deterministic(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			return []float32{float32(len(text)), 1}, nil
		},
	}
	e := NewEmbedder(mock, "m", 0)
	a, _ := e.Embed(context.Background(), "same text")
	b, _ := e.Embed(context.Background(), "same text")
	if a[0] != b[0] || a[1] != b[1] {
		t.Errorf("vectors differ: %v vs %v", a, b)
	}
}

func TestEmbed_EngineErrorIsUnavailable(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	_, err := NewEmbedder(mock, "all-minilm", 0).Embed(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("cause lost: %v", err)
	}
}

func TestEmbed_Timeout(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(ctx context.Context, _ string, _ string) ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	start := time.Now()
	_, err := NewEmbedder(mock, "m", 20*time.Millisecond).Embed(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrUnavailable wrapping DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not applied")
	}
}

func TestEmbed_RejectsUnusableVectors(t *testing.T) {
	for name, vec := range map[string][]float32{
		"empty": {},
		"nan":   {1, float32(math.NaN())},
		"inf":   {float32(math.Inf(1))},
		"zero":  {0, 0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			mock := &mockEngine{
				embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) { return vec, nil },
			}
			if _, err := NewEmbedder(mock, "m", 0).Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
				t.Errorf("err = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestEmbedBatch_CountMatches(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			return []float32{float32(text[0])}, nil
		},
	}
	vecs, err := NewEmbedder(mock, "m", 0).EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	if vecs[1][0] != 'b' {
		t.Errorf("results out of order: %v", vecs)
	}
}

func TestEmbedBatch_EngineError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "b" {
				return nil, errors.New("embedding failed")
			}
			return makeVector(8), nil
		},
	}
	_, err := NewEmbedder(mock, "m", 0).EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrUnavailable) || !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	vecs, err := NewEmbedder(mock, "m", 0).EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil, got %v", vecs)
	}
}

func TestEmbedBatch_UsesBatchEngine(t *testing.T) {
	mock := &mockBatchEngine{
		manyFn: func(texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, s := range texts {
				out[i] = []float32{float32(len(s)), 1}
			}
			return out, nil
		},
	}
	texts := make([]string, 70)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vecs, err := NewEmbedder(mock, "m", 0).EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got := mock.calls.Load(); got != 3 {
		t.Errorf("EmbedMany calls = %d, want 3", got)
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Fatalf("vecs[%d][0] = %v, want %d", i, v[0], i+1)
		}
	}
}
