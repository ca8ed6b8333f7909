package api

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/kindred/internal/index"
	"github.com/kalambet/kindred/internal/match"
	"github.com/kalambet/kindred/internal/profile"
	"github.com/kalambet/kindred/internal/reembed"
	"github.com/kalambet/kindred/internal/storage"
)

// nameEmbedder maps the name in the canonical text to a fixed vector.
type nameEmbedder struct {
	vectors map[string][]float32
	down    bool
}

func (e *nameEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.down {
		return nil, errors.New("connection refused")
	}
	for name, v := range e.vectors {
		if strings.HasPrefix(text, "My name is "+name+",") {
			return v, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

type testEnv struct {
	store    *storage.Store
	embedder *nameEmbedder
	service  *match.Service
	planner  *reembed.Planner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	idx := index.NewMemory()
	emb := &nameEmbedder{vectors: map[string][]float32{
		"Ana":  {1, 0, 0},
		"Ann":  {0.99, 0.14, 0},
		"Cris": {0, 1, 0},
	}}
	return &testEnv{
		store:    store,
		embedder: emb,
		service:  match.NewService(emb, idx, store, match.DefaultConfig()),
		planner:  reembed.NewPlanner(store, idx),
	}
}

func testProfile(id, name string) profile.Profile {
	return profile.Profile{
		ID:                     id,
		Name:                   name,
		Age:                    "27",
		Location:               "Berlin",
		SocialEnergy:           profile.Extrovert,
		Hobbies:                "running",
		ConversationPreference: profile.Group,
		LoveLanguages:          []profile.LoveLanguage{profile.ActsOfService},
	}
}
