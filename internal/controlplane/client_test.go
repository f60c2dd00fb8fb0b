package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/airdropkit/internal/ferr"
)

func TestGetStateNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.GetState(context.Background(), srv.URL+"/state", "tok", "su1", "req1")
	if err != ferr.ErrStateNotFound {
		t.Fatalf("err = %v, want ErrStateNotFound", err)
	}
}

func TestGetStateOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "rawtoken" {
			t.Errorf("Authorization = %q, want raw token (no Bearer prefix)", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"state": `{"snapInVersionId":"v1"}`})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	s, err := c.GetState(context.Background(), srv.URL+"/state", "rawtoken", "su1", "req1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if s != `{"snapInVersionId":"v1"}` {
		t.Fatalf("state = %q", s)
	}
}

func TestArtifactUploadURLUsesBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sometoken" {
			t.Errorf("Authorization = %q, want Bearer prefix", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"artifact_id": "art1",
			"url":         "http://upload",
			"form_data":   map[string]string{"key": "value"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	out, err := c.GetArtifactUploadURL(context.Background(), "sometoken", "data.jsonl.gz", "application/x-gzip", 100, "req1")
	if err != nil {
		t.Fatalf("GetArtifactUploadURL: %v", err)
	}
	if out.ArtifactID != "art1" {
		t.Fatalf("artifact id = %q", out.ArtifactID)
	}
}
