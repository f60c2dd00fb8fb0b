package artifact

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devrev/airdropkit/internal/controlplane"
	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/ferr"
)

type fakeCP struct {
	uploadURL    string
	confirmCalls int
	lastArtifact string
}

func (f *fakeCP) GetArtifactUploadURL(ctx context.Context, token, fileName, fileType string, fileSize int64, requestID string) (controlplane.ArtifactToUpload, error) {
	return controlplane.ArtifactToUpload{
		ArtifactID: "art-1",
		URL:        f.uploadURL,
		FormData:   map[string]string{"key": "uploads/art-1"},
	}, nil
}

func (f *fakeCP) ConfirmArtifactUpload(ctx context.Context, token, artifactID, requestID string) error {
	f.confirmCalls++
	f.lastArtifact = artifactID
	return nil
}

func TestUploadBatchEncodesAndConfirms(t *testing.T) {
	var receivedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			t.Fatalf("MultipartReader: %v", err)
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("NextPart: %v", err)
			}
			if part.FormName() == "file" {
				receivedBody, _ = io.ReadAll(part)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cp := &fakeCP{uploadURL: srv.URL}
	u := New(cp, "tok", "req1", nil, nil)

	objects := []interface{}{
		map[string]string{"id": "1"},
		map[string]string{"id": "2"},
	}
	art, err := u.UploadBatch(context.Background(), "items", objects)
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if art.ID != "art-1" {
		t.Fatalf("artifact id = %q", art.ID)
	}
	if art.ItemCount != 2 {
		t.Fatalf("item count = %d, want 2", art.ItemCount)
	}
	if cp.confirmCalls != 1 || cp.lastArtifact != "art-1" {
		t.Fatalf("expected confirm to be called once with art-1, got %d calls for %q", cp.confirmCalls, cp.lastArtifact)
	}

	gz, err := gzip.NewReader(bytes.NewReader(receivedBody))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	dec := json.NewDecoder(gz)
	var lines int
	for dec.More() {
		var m map[string]string
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("jsonl lines = %d, want 2", lines)
	}
}

func TestUploadAccepts3xxWithoutFollowing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Location", "http://example.invalid/elsewhere")
		w.WriteHeader(http.StatusSeeOther)
	}))
	defer srv.Close()

	cp := &fakeCP{uploadURL: srv.URL}
	u := New(cp, "tok", "req1", nil, nil)

	_, err := u.UploadBatch(context.Background(), "items", []interface{}{map[string]string{"id": "1"}})
	if err != nil {
		t.Fatalf("UploadBatch with 303 response: %v", err)
	}
}

func TestUploadRejectsOther4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cp := &fakeCP{uploadURL: srv.URL}
	u := New(cp, "tok", "req1", nil, nil)

	_, err := u.UploadBatch(context.Background(), "items", []interface{}{map[string]string{"id": "1"}})
	if err == nil {
		t.Fatalf("expected error for 403 upload response")
	}
}

func TestStreamUploadRejectsOversize(t *testing.T) {
	cp := &fakeCP{uploadURL: "http://unused.invalid"}
	u := New(cp, "tok", "req1", nil, nil)

	body := io.NopCloser(strings.NewReader("hello"))
	_, err := u.StreamUpload(context.Background(), "attachments", body, event.MaxArtifactSizeBytes+1, "big.bin")
	if !ferr.Is(err, ferr.KindSkippable) {
		t.Fatalf("expected KindSkippable for oversize stream, got %v", err)
	}
}

func TestSanitizeFileNameTruncatesLongNames(t *testing.T) {
	name := strings.Repeat("a", 300) + ".bin"
	got := sanitizeFileName(name)
	if len(got) != maxFileNameLen {
		t.Fatalf("truncated length = %d, want %d", len(got), maxFileNameLen)
	}
	if !strings.HasSuffix(got, name[len(name)-20:]) {
		t.Fatalf("truncated name does not preserve last 20 chars: %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Fatalf("truncated name missing ellipsis marker: %q", got)
	}
}

func TestSanitizeFileNameLeavesShortNamesAlone(t *testing.T) {
	if got := sanitizeFileName("short.json"); got != "short.json" {
		t.Fatalf("short name altered: %q", got)
	}
}
