//go:build cgo

package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/mentormatch"
)

func newEngineServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := mentormatch.DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "test.db")
	cfg.MediaDir = filepath.Join(dir, "media")
	cfg.EmbeddingDim = 64

	eng, err := mentormatch.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	srv := httptest.NewServer(newRouter(newHandler(eng)))
	t.Cleanup(srv.Close)
	return srv
}

func postID(t *testing.T, url, body string) int64 {
	t.Helper()
	resp, out := do(t, http.MethodPost, url, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: got %d (%v)", url, resp.StatusCode, out)
	}
	id, _ := out["id"].(float64)
	return int64(id)
}

func TestRegisteredSupervisorJoinsPool(t *testing.T) {
	srv := newEngineServer(t)

	author := postID(t, srv.URL+"/users", `{"full_name": "Ada Student", "email": "ada@uni.edu", "role": "student"}`)
	sup := postID(t, srv.URL+"/users", `{"full_name": "Dr New", "email": "new@uni.edu", "role": "supervisor"}`)

	resp, out := do(t, http.MethodPut, fmt.Sprintf("%s/users/%d/supervisor-profile", srv.URL, sup),
		`{"interests": "graph neural networks, machine learning"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile: got %d (%v)", resp.StatusCode, out)
	}

	topic := postID(t, srv.URL+"/topics", fmt.Sprintf(
		`{"author_user_id": %d, "title": "Graph ML", "description": "graph neural networks for molecules"}`, author))

	_, got := do(t, http.MethodGet, fmt.Sprintf("%s/topics/%d", srv.URL, topic), "")
	if got["is_active"] != true {
		t.Errorf("topic is_active: got %v", got["is_active"])
	}

	resp, res := do(t, http.MethodPost, fmt.Sprintf("%s/match/topic_users/%d", srv.URL, topic), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("match: got %d (%v)", resp.StatusCode, res)
	}
	cands, _ := res["candidates"].([]any)
	found := false
	for _, c := range cands {
		if m, ok := c.(map[string]any); ok && m["object_id"] == float64(sup) {
			found = true
		}
	}
	if !found {
		t.Errorf("supervisor %d missing from candidates %v (pool_size=%v)", sup, cands, res["pool_size"])
	}
}
