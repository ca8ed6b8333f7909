package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/kindred/internal/index"
	"github.com/kalambet/kindred/internal/profile"
	"github.com/kalambet/kindred/internal/storage"
)

// Defaults applied by NewService and the configuration layer.
const (
	DefaultThreshold    float32 = 0.7
	DefaultCount                = 3
	DefaultIndexTimeout         = 5 * time.Second
)

// DuplicatePolicy decides what a resubmitted id does.
type DuplicatePolicy string

const (
	// PolicyReembed embeds and upserts every submission.
	PolicyReembed DuplicatePolicy = "reembed"
	// PolicySkip reuses the stored vector when the id is already indexed.
	PolicySkip DuplicatePolicy = "skip"
)

// ParsePolicy accepts "reembed", "skip" or "" (reembed).
func ParsePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", PolicyReembed:
		return PolicyReembed, nil
	case PolicySkip:
		return PolicySkip, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (want %q or %q)", s, PolicyReembed, PolicySkip)
}

// Embedder turns canonical text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can embed many texts per call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RawStore records questionnaire answers next to the index.
type RawStore interface {
	SaveProfile(p profile.Profile) (created bool, err error)
	DeleteProfile(id string) error
}

// Config tunes a Service.
type Config struct {
	// Threshold is the minimum cosine similarity for a match, on [-1, 1].
	Threshold float32
	// Count is the number of matches returned when a caller asks for n <= 0.
	Count int
	// Policy controls resubmission of an already indexed id.
	Policy DuplicatePolicy
	// IndexTimeout bounds each index call.
	IndexTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		Count:        DefaultCount,
		Policy:       PolicyReembed,
		IndexTimeout: DefaultIndexTimeout,
	}
}

// Match is one suggested friend.
type Match struct {
	ID      string          `json:"id"`
	Score   float32         `json:"score"`
	Profile profile.Profile `json:"profile"`
}

// Stats summarizes the index behind a Service.
type Stats struct {
	Entries   int             `json:"entries"`
	Dimension int             `json:"dimension"`
	Threshold float32         `json:"threshold"`
	Count     int             `json:"count"`
	Policy    DuplicatePolicy `json:"duplicate_policy"`
}

// Service runs the submit-and-match pipeline: validate, canonicalize, embed,
// record, upsert, search, drop self, truncate. A failure at any step stops the
// pipeline; an embedding failure leaves the index untouched.
type Service struct {
	embedder Embedder
	index    index.Index
	store    RawStore
	cfg      Config
	logger   *slog.Logger
}

// NewService wires the pipeline. store may be nil when raw answers are kept
// elsewhere. Zero Count, Policy and IndexTimeout fall back to defaults;
// Threshold is used as given.
func NewService(e Embedder, idx index.Index, store RawStore, cfg Config) *Service {
	if cfg.Count <= 0 {
		cfg.Count = DefaultCount
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReembed
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = DefaultIndexTimeout
	}
	return &Service{
		embedder: e,
		index:    idx,
		store:    store,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// WithLogger replaces the default logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// SubmitAndMatch indexes p and returns up to n other profiles whose
// similarity clears the threshold, best first. n <= 0 uses the configured
// count. An empty result is not an error.
func (s *Service) SubmitAndMatch(ctx context.Context, p profile.Profile, n int) ([]Match, error) {
	p = profile.Normalize(p)
	if err := p.Validate(); err != nil {
		return nil, stageErr(StageValidate, ErrInvalidProfile, err)
	}
	if n <= 0 {
		n = s.cfg.Count
	}

	if s.cfg.Policy == PolicySkip {
		e, err := s.get(ctx, p.ID)
		switch {
		case err == nil:
			s.logger.Debug("profile already indexed, reusing stored vector", "id", p.ID)
			return s.search(ctx, p.ID, e.Vector, n)
		case errors.Is(err, index.ErrNotFound):
		default:
			return nil, stageErr(StageLookup, ErrIndexUnavailable, err)
		}
	}

	vec, err := s.embedAndUpsert(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, p.ID, vec, n)
}

// Index validates, embeds and upserts p without searching or recording raw
// answers. The re-embed worker uses it after a model change.
func (s *Service) Index(ctx context.Context, p profile.Profile) error {
	p = profile.Normalize(p)
	if err := p.Validate(); err != nil {
		return stageErr(StageValidate, ErrInvalidProfile, err)
	}
	_, err := s.embedAndUpsert(ctx, p, false)
	return err
}

func (s *Service) embedAndUpsert(ctx context.Context, p profile.Profile, record bool) ([]float32, error) {
	text := profile.Canonicalize(p)

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, stageErr(StageEmbed, ErrEmbeddingUnavailable, err)
	}

	created := false
	if record && s.store != nil {
		created, err = s.store.SaveProfile(p)
		if err != nil {
			return nil, stageErr(StageRecord, ErrStorageUnavailable, err)
		}
		if !created {
			s.logger.Info("profile resubmitted; keeping first answers", "id", p.ID)
		}
	}

	if err := s.upsert(ctx, p, vec); err != nil {
		if created {
			s.forget(p.ID)
		}
		return nil, stageErr(StageUpsert, ErrIndexUnavailable, err)
	}
	s.logger.Debug("profile indexed", "id", p.ID, "dims", len(vec))
	return vec, nil
}

// Import records and indexes many profiles without searching. Every profile
// is validated and embedded before anything is written, so a bad profile or
// an embedding outage leaves both stores untouched. Writes then happen one id
// at a time; on a write failure the returned count says how many landed.
func (s *Service) Import(ctx context.Context, ps []profile.Profile) (int, error) {
	texts := make([]string, len(ps))
	for i := range ps {
		ps[i] = profile.Normalize(ps[i])
		if err := ps[i].Validate(); err != nil {
			return 0, stageErr(StageValidate, ErrInvalidProfile, fmt.Errorf("profile %d: %w", i, err))
		}
		texts[i] = profile.Canonicalize(ps[i])
	}

	vecs, err := s.embedAll(ctx, texts)
	if err != nil {
		return 0, stageErr(StageEmbed, ErrEmbeddingUnavailable, err)
	}

	for i, p := range ps {
		created := false
		if s.store != nil {
			if created, err = s.store.SaveProfile(p); err != nil {
				return i, stageErr(StageRecord, ErrStorageUnavailable, err)
			}
		}
		if err := s.upsert(ctx, p, vecs[i]); err != nil {
			if created {
				s.forget(p.ID)
			}
			return i, stageErr(StageUpsert, ErrIndexUnavailable, err)
		}
	}
	s.logger.Info("profiles imported", "count", len(ps))
	return len(ps), nil
}

func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if be, ok := s.embedder.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.embedder.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// forget drops raw answers recorded for a new id whose upsert failed, so the
// id does not exist in one store only.
func (s *Service) forget(id string) {
	if err := s.store.DeleteProfile(id); err != nil {
		s.logger.Warn("could not drop raw answers after failed upsert", "id", id, "error", err)
	}
}

func (s *Service) upsert(ctx context.Context, p profile.Profile, vec []float32) error {
	ictx, cancel := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()
	return s.index.Upsert(ictx, index.Entry{ID: p.ID, Vector: vec, Payload: profile.ToPayload(p)})
}

// MatchesFor recomputes matches for an already indexed id from its stored
// vector.
func (s *Service) MatchesFor(ctx context.Context, id string, n int) ([]Match, error) {
	if n <= 0 {
		n = s.cfg.Count
	}
	e, err := s.get(ctx, id)
	if errors.Is(err, index.ErrNotFound) {
		return nil, stageErr(StageLookup, ErrNotIndexed, err)
	}
	if err != nil {
		return nil, stageErr(StageLookup, ErrIndexUnavailable, err)
	}
	return s.search(ctx, id, e.Vector, n)
}

// Remove deletes the index entry and the raw answers for id.
func (s *Service) Remove(ctx context.Context, id string) error {
	ictx, cancel := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()

	found := false
	switch err := s.index.Delete(ictx, id); {
	case err == nil:
		found = true
	case !errors.Is(err, index.ErrNotFound):
		return stageErr(StageRemove, ErrIndexUnavailable, err)
	}
	if s.store != nil {
		switch err := s.store.DeleteProfile(id); {
		case err == nil:
			found = true
		case !errors.Is(err, storage.ErrNotFound):
			return stageErr(StageRemove, ErrStorageUnavailable, err)
		}
	}
	if !found {
		return stageErr(StageRemove, ErrNotIndexed, nil)
	}
	return nil
}

// Stats reports the index size and the active settings.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	ictx, cancel := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()

	n, err := s.index.Count(ictx)
	if err != nil {
		return Stats{}, stageErr(StageLookup, ErrIndexUnavailable, err)
	}
	dim, err := s.index.Dimension(ictx)
	if err != nil {
		return Stats{}, stageErr(StageLookup, ErrIndexUnavailable, err)
	}
	return Stats{
		Entries:   n,
		Dimension: dim,
		Threshold: s.cfg.Threshold,
		Count:     s.cfg.Count,
		Policy:    s.cfg.Policy,
	}, nil
}

func (s *Service) get(ctx context.Context, id string) (index.Entry, error) {
	ictx, cancel := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()
	return s.index.Get(ictx, id)
}

// search asks for one extra hit so that dropping selfID still leaves n.
func (s *Service) search(ctx context.Context, selfID string, vec []float32, n int) ([]Match, error) {
	ictx, cancel := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()

	hits, err := s.index.Search(ictx, vec, n+1, s.cfg.Threshold)
	if err != nil {
		return nil, stageErr(StageSearch, ErrIndexUnavailable, err)
	}

	matches := make([]Match, 0, n)
	for _, h := range hits {
		if h.ID == selfID {
			continue
		}
		matches = append(matches, Match{
			ID:      h.ID,
			Score:   h.Score,
			Profile: profile.FromPayload(h.ID, h.Payload),
		})
		if len(matches) == n {
			break
		}
	}
	return matches, nil
}
