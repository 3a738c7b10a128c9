package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brunobiangulo/mentormatch"
	"github.com/brunobiangulo/mentormatch/ranking"
	"github.com/brunobiangulo/mentormatch/store"
)

// fakeEngine implements the handful of Engine methods the tests hit.
// Anything else panics through the nil embedded interface.
type fakeEngine struct {
	mentormatch.Engine

	approved []string
	exported string
	user     store.User
	topic    store.Topic
}

func (f *fakeEngine) RankAndStore(ctx context.Context, dir store.Direction, subjectID int64) (*mentormatch.MatchResult, error) {
	if subjectID == 404 {
		return nil, fmt.Errorf("topic 404: %w", mentormatch.ErrNotFound)
	}
	if subjectID == 500 {
		return nil, fmt.Errorf("%w: reconcile: disk I/O error", mentormatch.ErrPersistence)
	}
	return &mentormatch.MatchResult{
		Direction: dir.Name,
		SubjectID: subjectID,
		Policy:    ranking.PolicySimilarity,
		Candidates: []mentormatch.Candidate{
			{ObjectID: 42, Name: "Dr. Who", Score: 0.9, Rank: 1, Source: "cosine"},
		},
	}, nil
}

func (f *fakeEngine) Approve(ctx context.Context, dir store.Direction, subjectID, objectID int64, makePrimary bool) error {
	if objectID == 42 && subjectID == 7 {
		return fmt.Errorf("edge 7->42: %w", mentormatch.ErrNotFound)
	}
	f.approved = append(f.approved, fmt.Sprintf("%s:%d:%d:%v", dir.Name, subjectID, objectID, makePrimary))
	return nil
}

func (f *fakeEngine) UpsertUser(ctx context.Context, u store.User) (int64, error) {
	if u.FullName == "" {
		return 0, fmt.Errorf("%w: full_name is required", mentormatch.ErrInvalidInput)
	}
	f.user = u
	return 11, nil
}

func (f *fakeEngine) UpsertTopic(ctx context.Context, t store.Topic) (int64, error) {
	f.topic = t
	return 12, nil
}

func (f *fakeEngine) ExportCandidates(ctx context.Context, dir store.Direction, w io.Writer) error {
	f.exported = dir.Name
	_, err := io.WriteString(w, "PK-fake-xlsx")
	return err
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *fakeEngine) {
	t.Helper()
	fe := &fakeEngine{}
	var h http.Handler = newRouter(newHandler(fe))
	h = logMiddleware(h)
	h = authMiddleware(apiKey, h)
	h = recoveryMiddleware(h)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, fe
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp, out
}

func TestMatchRoute(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, body := do(t, http.MethodPost, srv.URL+"/match/topic_users/3", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%v)", resp.StatusCode, body)
	}
	if body["direction"] != "topic_users" || body["policy"] != "similarity" {
		t.Errorf("body: %v", body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}

	// Short alias.
	resp, _ = do(t, http.MethodPost, srv.URL+"/match/topic/3", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("alias: got %d", resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown direction", http.MethodPost, "/match/sideways/3", "", http.StatusBadRequest},
		{"bad id", http.MethodPost, "/match/topic_users/abc", "", http.StatusBadRequest},
		{"missing subject", http.MethodPost, "/match/topic_users/404", "", http.StatusNotFound},
		{"storage fault", http.MethodPost, "/match/topic_users/500", "", http.StatusInternalServerError},
		{"missing edge", http.MethodPost, "/candidates/topic_users/7/approve", `{"object_id": 42}`, http.StatusNotFound},
		{"no object id", http.MethodPost, "/candidates/topic_users/7/approve", `{}`, http.StatusBadRequest},
		{"invalid user", http.MethodPost, "/users", `{"role": "student"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/users", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
			if _, ok := body["error"]; !ok {
				t.Errorf("expected error body, got %v", body)
			}
		})
	}
}

func TestUpsertDefaultsToActive(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want bool
	}{
		{"user without flag", "/users", `{"full_name": "Dr New", "email": "new@uni.edu", "role": "supervisor"}`, true},
		{"user explicitly inactive", "/users", `{"full_name": "Dr Old", "role": "supervisor", "is_active": false}`, false},
		{"topic without flag", "/topics", `{"title": "Graph ML", "author_user_id": 1}`, true},
		{"topic explicitly inactive", "/topics", `{"title": "Archived", "author_user_id": 1, "is_active": false}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fe := newTestServer(t, "")
			resp, body := do(t, http.MethodPost, srv.URL+tt.path, tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status: got %d (%v)", resp.StatusCode, body)
			}
			got := fe.user.IsActive
			if tt.path == "/topics" {
				got = fe.topic.IsActive
			}
			if got != tt.want {
				t.Errorf("is_active: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStorageFaultHidesDetails(t *testing.T) {
	srv, _ := newTestServer(t, "")
	_, body := do(t, http.MethodPost, srv.URL+"/match/topic_users/500", "")
	if msg, _ := body["error"].(string); strings.Contains(msg, "disk") {
		t.Errorf("internal error leaked: %q", msg)
	}
}

func TestApproveRoute(t *testing.T) {
	srv, fe := newTestServer(t, "")
	resp, body := do(t, http.MethodPost, srv.URL+"/candidates/supervisor/5/approve",
		`{"object_id": 9, "make_primary": true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d (%v)", resp.StatusCode, body)
	}
	if len(fe.approved) != 1 || fe.approved[0] != "supervisor_topics:5:9:true" {
		t.Errorf("approved: %v", fe.approved)
	}
}

func TestExportRoute(t *testing.T) {
	srv, fe := newTestServer(t, "")
	resp, _ := do(t, http.MethodGet, srv.URL+"/export/role_students", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("content type: got %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "role_students.xlsx") {
		t.Errorf("content disposition: got %q", cd)
	}
	if fe.exported != "role_students" {
		t.Errorf("exported: got %q", fe.exported)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	resp, _ := do(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should skip auth, got %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/match/topic_users/3", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/match/topic_users/3", "", "Authorization", "Bearer wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: got %d, want 401", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/match/topic_users/3", "", "Authorization", "Bearer secret")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: got %d, want 200", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "")
	// DELETE /topics/{id} is not implemented by fakeEngine and panics.
	resp, body := do(t, http.MethodDelete, srv.URL+"/topics/1", "")
	if resp.StatusCode != http.StatusInternalServerError || body["error"] != "internal server error" {
		t.Errorf("got %d %v", resp.StatusCode, body)
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := corsMiddleware("https://a.example, https://b.example", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://b.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://b.example" {
		t.Errorf("allowed origin: got %q", got)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin should get no CORS headers, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/match/topic/1", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight: got %d, want 204", rec.Code)
	}
}
