package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/kindred/internal/match"
	"github.com/kalambet/kindred/internal/profile"
	"github.com/kalambet/kindred/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const maxImportBodySize = 16 << 20

// maxMatches caps the limit query parameter on match routes.
const maxMatches = 50

// Matcher runs the submit-and-match pipeline.
type Matcher interface {
	SubmitAndMatch(ctx context.Context, p profile.Profile, n int) ([]match.Match, error)
	MatchesFor(ctx context.Context, id string, n int) ([]match.Match, error)
	Import(ctx context.Context, ps []profile.Profile) (int, error)
	Remove(ctx context.Context, id string) error
	Stats(ctx context.Context) (match.Stats, error)
}

// ProfileReader reads recorded raw answers.
type ProfileReader interface {
	GetProfile(id string) (storage.StoredProfile, error)
	ListProfiles(limit, offset int) ([]storage.StoredProfile, error)
	CountProfiles() (int, error)
}

// Reindexer schedules a background rebuild of the index.
type Reindexer interface {
	Reindex(ctx context.Context, reset bool) (int, error)
	Progress() (storage.JobCounts, error)
}

type AppDeps struct {
	Matcher   Matcher
	Profiles  ProfileReader
	Reindexer Reindexer // optional; if nil, /reindex answers 501
	Token     string    // optional bearer token
}

// MatchResponse is the body returned for a submission or a match lookup.
type MatchResponse struct {
	ProfileID string        `json:"profile_id"`
	Matches   []match.Match `json:"matches"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/profiles", handleSubmitProfile(deps))
		r.Post("/profiles/import", handleImportProfiles(deps))
		r.Get("/profiles", handleListProfiles(deps))
		r.Get("/profiles/{id}", handleGetProfile(deps))
		r.Get("/profiles/{id}/matches", handleMatchesFor(deps))
		r.Delete("/profiles/{id}", handleDeleteProfile(deps))
		r.Post("/reindex", handleReindex(deps))
		r.Get("/reindex", handleReindexProgress(deps))
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Matcher.Stats(r.Context())
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		resp := map[string]any{"status": "ok", "index": stats}
		if n, err := deps.Profiles.CountProfiles(); err == nil {
			resp["profiles"] = n
		}
		writeJSON(w, resp)
	}
}

func handleSubmitProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var p profile.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(p.ID) == "" {
			p.ID = uuid.NewString()
		}

		matches, err := deps.Matcher.SubmitAndMatch(r.Context(), p, parseIntParam(r, "limit", 0, maxMatches))
		if err != nil {
			matchError(w, err)
			return
		}
		writeJSON(w, MatchResponse{ProfileID: p.ID, Matches: matches})
	}
}

func handleImportProfiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var ps []profile.Profile
		if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		for i := range ps {
			if strings.TrimSpace(ps[i].ID) == "" {
				ps[i].ID = uuid.NewString()
			}
		}

		n, err := deps.Matcher.Import(r.Context(), ps)
		if err != nil {
			matchError(w, err)
			return
		}
		writeJSON(w, map[string]int{"imported": n})
	}
}

func handleListProfiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		profiles, err := deps.Profiles.ListProfiles(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list profiles: %v", err)
			return
		}
		if profiles == nil {
			profiles = []storage.StoredProfile{}
		}
		writeJSON(w, profiles)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.GetProfile(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handleMatchesFor(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		matches, err := deps.Matcher.MatchesFor(r.Context(), id, parseIntParam(r, "limit", 0, maxMatches))
		if err != nil {
			matchError(w, err)
			return
		}
		writeJSON(w, MatchResponse{ProfileID: id, Matches: matches})
	}
}

func handleDeleteProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Matcher.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
			matchError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleReindex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Reindexer == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "reindexing is not available")
			return
		}
		reset, _ := strconv.ParseBool(r.URL.Query().Get("reset"))

		n, err := deps.Reindexer.Reindex(r.Context(), reset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to schedule reindex: %v", err)
			return
		}
		writeJSON(w, map[string]any{"status": "queued", "queued": n, "reset": reset})
	}
}

func handleReindexProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Reindexer == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "reindexing is not available")
			return
		}
		counts, err := deps.Reindexer.Progress()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read progress: %v", err)
			return
		}
		writeJSON(w, counts)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
