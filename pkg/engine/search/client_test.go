package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Search(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header=%q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"results": [
			{"id": "doc-1", "title": "Roadmap", "content": "Q3 plans", "score": 0.91},
			{"id": "doc-2", "title": "Notes", "content": "standup", "score": 0.52}
		]}`))
	}))
	defer server.Close()

	c := NewClient("sk-test", server.URL, nil)
	got, err := c.Search(context.Background(), "what are the q3 plans", Scope{ProjectRef: "p1", OrgRef: "o1"}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates=%d, want 2", len(got))
	}
	if got[0].ContentID != "doc-1" || got[0].Similarity != 0.91 {
		t.Fatalf("first candidate=%+v", got[0])
	}
	if gotBody["project_ref"] != "p1" || gotBody["org_ref"] != "o1" {
		t.Fatalf("scope not forwarded: %v", gotBody)
	}
}

func TestClient_SearchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient("", server.URL, nil)
	if _, err := c.Search(context.Background(), "q", Scope{}, 3); err == nil {
		t.Fatal("want error on 500")
	}
	if _, err := c.Search(context.Background(), "  ", Scope{}, 3); err == nil {
		t.Fatal("want error on empty query")
	}

	unconfigured := NewClient("", "", nil)
	if _, err := unconfigured.Search(context.Background(), "q", Scope{}, 3); err == nil {
		t.Fatal("want error when unconfigured")
	}
}
