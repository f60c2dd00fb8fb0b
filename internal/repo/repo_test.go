package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/devrev/airdropkit/internal/event"
)

func TestPushFlushesAtBatchThreshold(t *testing.T) {
	var flushedBatches [][]interface{}
	sink := func(ctx context.Context, itemType string, items []interface{}) (event.Artifact, error) {
		cp := make([]interface{}, len(items))
		copy(cp, items)
		flushedBatches = append(flushedBatches, cp)
		return event.Artifact{ID: "a", ItemType: itemType, ItemCount: len(items)}, nil
	}

	r := New("tickets", sink, nil)
	for i := 0; i < event.ArtifactBatchSize; i++ {
		if err := r.Push(context.Background(), i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}

	if len(flushedBatches) != 1 {
		t.Fatalf("flush count = %d, want 1 (automatic flush at threshold)", len(flushedBatches))
	}
	if len(flushedBatches[0]) != event.ArtifactBatchSize {
		t.Fatalf("batch size = %d, want %d", len(flushedBatches[0]), event.ArtifactBatchSize)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending after auto-flush = %d, want 0", r.Pending())
	}
}

func TestFlushIsNoOpWhenEmpty(t *testing.T) {
	called := false
	sink := func(ctx context.Context, itemType string, items []interface{}) (event.Artifact, error) {
		called = true
		return event.Artifact{}, nil
	}
	r := New("tickets", sink, nil)
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush on empty repo: %v", err)
	}
	if called {
		t.Fatalf("sink should not be called when nothing is pending")
	}
}

func TestFailedFlushRetainsPendingItems(t *testing.T) {
	attempts := 0
	sink := func(ctx context.Context, itemType string, items []interface{}) (event.Artifact, error) {
		attempts++
		if attempts == 1 {
			return event.Artifact{}, errors.New("upload failed")
		}
		return event.Artifact{ID: "a", ItemType: itemType, ItemCount: len(items)}, nil
	}
	r := New("tickets", sink, nil)
	if err := r.Push(context.Background(), "item1"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := r.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error on first attempt")
	}
	if r.Pending() != 1 {
		t.Fatalf("pending after failed flush = %d, want 1 (item retained)", r.Pending())
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending after successful retry = %d, want 0", r.Pending())
	}
}

func TestReservedItemTypesBypassNormalization(t *testing.T) {
	cases := []struct {
		itemType string
		reserved bool
	}{
		{"external_domain_metadata", true},
		{"attachments", true},
		{"ssor_attachment", true},
		{"tickets", false},
	}
	for _, c := range cases {
		if got := IsReserved(c.itemType); got != c.reserved {
			t.Errorf("IsReserved(%q) = %v, want %v", c.itemType, got, c.reserved)
		}
	}
}

// upperCaseName normalizes a connector-shaped {"name": string} record to
// the platform's {"display_name": string} shape, upper-cased.
func upperCaseName(item interface{}) interface{} {
	m := item.(map[string]string)
	return map[string]string{"display_name": strings.ToUpper(m["name"])}
}

func TestPushAppliesNormalizeForNonReservedItemType(t *testing.T) {
	var flushed []interface{}
	sink := func(ctx context.Context, itemType string, items []interface{}) (event.Artifact, error) {
		flushed = append(flushed, items...)
		return event.Artifact{ID: "a", ItemType: itemType, ItemCount: len(items)}, nil
	}

	r := New("tickets", sink, upperCaseName)
	if err := r.Push(context.Background(), map[string]string{"name": "bug report"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(flushed) != 1 {
		t.Fatalf("flushed %d items, want 1", len(flushed))
	}
	got, ok := flushed[0].(map[string]string)
	if !ok || got["display_name"] != "BUG REPORT" {
		t.Fatalf("uploaded payload = %#v, want normalized {display_name: BUG REPORT}", flushed[0])
	}
}

func TestPushSkipsNormalizeForReservedItemType(t *testing.T) {
	var flushed []interface{}
	sink := func(ctx context.Context, itemType string, items []interface{}) (event.Artifact, error) {
		flushed = append(flushed, items...)
		return event.Artifact{ID: "a", ItemType: itemType, ItemCount: len(items)}, nil
	}

	r := New("attachments", sink, upperCaseName)
	raw := map[string]string{"name": "bug report"}
	if err := r.Push(context.Background(), raw); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(flushed) != 1 {
		t.Fatalf("flushed %d items, want 1", len(flushed))
	}
	got, ok := flushed[0].(map[string]string)
	if !ok || got["name"] != "bug report" {
		t.Fatalf("reserved item type should bypass normalize, got %#v", flushed[0])
	}
}
