package engine

import (
	"context"
	"errors"
)

// ErrPullUnsupported is returned by hosted engines that cannot download models.
var ErrPullUnsupported = errors.New("engine does not support pulling models")

// Engine abstracts the embedding backend (a local Ollama server, an
// OpenAI-compatible API or Gemini). Consumers such as the embedder and the
// startup check use this interface instead of depending on a concrete client.
type Engine interface {
	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all models the backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// BatchEngine is implemented by engines that can embed several texts in one
// round trip. Results are in input order.
type BatchEngine interface {
	Engine
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

func hasModel(models []string, name string) bool {
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}
