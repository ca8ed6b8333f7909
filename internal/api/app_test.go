package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/kindred/internal/storage"
)

const testToken = "test-token-12345"

func setupAppHandler(t *testing.T, token string) (http.Handler, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	handler := NewAppHandler(AppDeps{
		Matcher:   env.service,
		Profiles:  env.store,
		Reindexer: env.planner,
		Token:     token,
	})
	return handler, env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func submit(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profiles", body, testToken))
	return rr
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return resp.Error
}

func TestSubmitProfile_EmptyIndex(t *testing.T) {
	h, env := setupAppHandler(t, testToken)

	rr := submit(t, h, `{"id":"u1","name":"Ana","social_energy":"introvert","love_languages":["quality_time"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}

	var resp MatchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.ProfileID != "u1" {
		t.Errorf("profile_id = %q, want u1", resp.ProfileID)
	}
	if resp.Matches == nil || len(resp.Matches) != 0 {
		t.Errorf("matches = %#v, want empty list", resp.Matches)
	}

	if _, err := env.store.GetProfile("u1"); err != nil {
		t.Errorf("raw answers not recorded: %v", err)
	}
}

func TestSubmitProfile_ReturnsMatches(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	if rr := submit(t, h, `{"id":"u1","name":"Ana"}`); rr.Code != http.StatusOK {
		t.Fatalf("first submit: %d %s", rr.Code, rr.Body.String())
	}
	rr := submit(t, h, `{"id":"u2","name":"Ann","love_languages":["Quality Time"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp MatchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Matches) != 1 || resp.Matches[0].ID != "u1" {
		t.Fatalf("matches = %+v, want [u1]", resp.Matches)
	}
	if resp.Matches[0].Profile.Name != "Ana" {
		t.Errorf("match profile name = %q, want Ana", resp.Matches[0].Profile.Name)
	}
}

func TestSubmitProfile_InvalidBody(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := submit(t, h, `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSubmitProfile_Validation(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := submit(t, h, `{"id":"u1","social_energy":"sometimes"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	d := decodeError(t, rr)
	if d.Stage != "validate" || d.Retryable {
		t.Errorf("error = %+v, want stage validate, not retryable", d)
	}
}

func TestSubmitProfile_EmbeddingDown(t *testing.T) {
	h, env := setupAppHandler(t, testToken)
	env.embedder.down = true

	rr := submit(t, h, `{"id":"u1","name":"Ana"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	d := decodeError(t, rr)
	if d.Type != "embedding_unavailable" || d.Stage != "embed" || !d.Retryable {
		t.Errorf("error = %+v", d)
	}
	if _, err := env.store.GetProfile("u1"); err != storage.ErrNotFound {
		t.Errorf("GetProfile err = %v, want ErrNotFound", err)
	}
}

func TestSubmitProfile_DimensionMismatch(t *testing.T) {
	h, env := setupAppHandler(t, testToken)

	submit(t, h, `{"id":"u1","name":"Ana"}`)
	env.embedder.vectors["Cris"] = []float32{1, 0}

	rr := submit(t, h, `{"id":"u2","name":"Cris"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if d := decodeError(t, rr); d.Retryable {
		t.Errorf("dimension mismatch reported as retryable")
	}
}

func TestSubmitProfile_GeneratesID(t *testing.T) {
	h, env := setupAppHandler(t, testToken)

	rr := submit(t, h, `{"name":"Ana"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp MatchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.ProfileID) != 36 {
		t.Fatalf("profile_id = %q, want a generated uuid", resp.ProfileID)
	}
	if _, err := env.store.GetProfile(resp.ProfileID); err != nil {
		t.Errorf("GetProfile: %v", err)
	}
}

func TestImportProfiles(t *testing.T) {
	h, env := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	body := `[{"id":"u1","name":"Ana"},{"name":"Ann"},{"id":"u3","name":"Cris"}]`
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profiles/import", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]int
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["imported"] != 3 {
		t.Errorf("imported = %d, want 3", resp["imported"])
	}
	if n, _ := env.store.CountProfiles(); n != 3 {
		t.Errorf("CountProfiles = %d, want 3", n)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles/u1/matches", "", testToken))
	var mr MatchResponse
	json.NewDecoder(rr.Body).Decode(&mr)
	if len(mr.Matches) != 1 || mr.Matches[0].Profile.Name != "Ann" {
		t.Errorf("matches = %+v, want the imported Ann", mr.Matches)
	}
}

func TestImportProfiles_InvalidEntry(t *testing.T) {
	h, env := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	body := `[{"id":"u1","name":"Ana"},{"id":"u2","conversation_preference":"shouting"}]`
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profiles/import", body, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if n, _ := env.store.CountProfiles(); n != 0 {
		t.Errorf("CountProfiles = %d, want 0", n)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles", "", "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestNoTokenDisablesAuth(t *testing.T) {
	h, _ := setupAppHandler(t, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	submit(t, h, `{"id":"u1","name":"Ana"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp struct {
		Status string `json:"status"`
		Index  struct {
			Entries   int `json:"entries"`
			Dimension int `json:"dimension"`
		} `json:"index"`
		Profiles int `json:"profiles"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "ok" || resp.Index.Entries != 1 || resp.Index.Dimension != 3 || resp.Profiles != 1 {
		t.Errorf("health = %+v", resp)
	}
}

func TestListAndGetProfiles(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	submit(t, h, `{"id":"u1","name":"Ana"}`)
	submit(t, h, `{"id":"u2","name":"Cris"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles?limit=10", "", testToken))
	var list []storage.StoredProfile
	json.NewDecoder(rr.Body).Decode(&list)
	if len(list) != 2 {
		t.Fatalf("listed %d profiles, want 2", len(list))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles/u2", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got storage.StoredProfile
	json.NewDecoder(rr.Body).Decode(&got)
	if got.Name != "Cris" || got.CreatedAt.IsZero() {
		t.Errorf("profile = %+v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles/ghost", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestMatchesFor(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	submit(t, h, `{"id":"u1","name":"Ana"}`)
	submit(t, h, `{"id":"u2","name":"Ann"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles/u2/matches?limit=5", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp MatchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Matches) != 1 || resp.Matches[0].ID != "u1" {
		t.Errorf("matches = %+v", resp.Matches)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profiles/ghost/matches", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestDeleteProfile(t *testing.T) {
	h, env := setupAppHandler(t, testToken)
	submit(t, h, `{"id":"u1","name":"Ana"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/profiles/u1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if _, err := env.store.GetProfile("u1"); err != storage.ErrNotFound {
		t.Errorf("GetProfile err = %v, want ErrNotFound", err)
	}
	stats, _ := env.service.Stats(context.Background())
	if stats.Entries != 0 {
		t.Errorf("index entries = %d, want 0", stats.Entries)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/profiles/u1", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}

func TestReindex(t *testing.T) {
	h, env := setupAppHandler(t, testToken)
	submit(t, h, `{"id":"u1","name":"Ana"}`)
	submit(t, h, `{"id":"u2","name":"Cris"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/reindex?reset=true", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Queued int  `json:"queued"`
		Reset  bool `json:"reset"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Queued != 2 || !resp.Reset {
		t.Errorf("reindex = %+v", resp)
	}

	stats, _ := env.service.Stats(context.Background())
	if stats.Entries != 0 {
		t.Errorf("index entries after reset = %d, want 0", stats.Entries)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/reindex", "", testToken))
	var counts storage.JobCounts
	json.NewDecoder(rr.Body).Decode(&counts)
	if counts.Pending != 2 {
		t.Errorf("progress = %+v, want 2 pending", counts)
	}
}

func TestReindex_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	h := NewAppHandler(AppDeps{Matcher: env.service, Profiles: env.store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/reindex", "", ""))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rr.Code)
	}
}

func TestParseIntParam(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=-1", 20},
		{"limit=abc", 20},
		{"limit=500", 100},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/profiles?"+tc.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tc.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}
