package attach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestRunSkipsAlreadyProcessedIds(t *testing.T) {
	items := []Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	alreadyProcessed := map[string]bool{"a": true}

	var mu sync.Mutex
	var streamed []string
	stream := func(ctx context.Context, item Item) Outcome {
		mu.Lock()
		streamed = append(streamed, item.ID)
		mu.Unlock()
		return Outcome{Stream: strings.NewReader("data")}
	}
	upload := func(ctx context.Context, item Item, s interface{ Read([]byte) (int, error) }) error {
		return nil
	}

	p := New(4, nil)
	res := p.Run(context.Background(), items, alreadyProcessed, stream, upload)

	if res.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", res.Skipped)
	}
	if len(res.Processed) != 2 {
		t.Fatalf("processed = %v, want 2 ids", res.Processed)
	}
	for _, id := range streamed {
		if id == "a" {
			t.Fatalf("stream should not be invoked for already-processed id %q", id)
		}
	}
}

func TestRunContinuesAfterPerItemError(t *testing.T) {
	items := []Item{{ID: "a"}, {ID: "b"}}
	stream := func(ctx context.Context, item Item) Outcome {
		if item.ID == "a" {
			return Outcome{Err: errors.New("fetch failed")}
		}
		return Outcome{Stream: strings.NewReader("data")}
	}
	upload := func(ctx context.Context, item Item, s interface{ Read([]byte) (int, error) }) error {
		return nil
	}

	p := New(2, nil)
	res := p.Run(context.Background(), items, nil, stream, upload)

	if res.ItemErrors != 1 {
		t.Fatalf("item errors = %d, want 1", res.ItemErrors)
	}
	if len(res.Processed) != 1 || res.Processed[0] != "b" {
		t.Fatalf("processed = %v, want [b]", res.Processed)
	}
}

func TestRunStopsOnDelaySignal(t *testing.T) {
	items := make([]Item, 50)
	for i := range items {
		items[i] = Item{ID: string(rune('a' + i%26))}
	}
	var delayed sync.Once
	stream := func(ctx context.Context, item Item) Outcome {
		delayedOnce := false
		delayed.Do(func() { delayedOnce = true })
		if delayedOnce {
			return Outcome{Delayed: true}
		}
		return Outcome{Stream: strings.NewReader("data")}
	}
	upload := func(ctx context.Context, item Item, s interface{ Read([]byte) (int, error) }) error {
		return nil
	}

	p := New(1, nil)
	res := p.Run(context.Background(), items, nil, stream, upload)

	if !res.Delayed {
		t.Fatalf("expected Result.Delayed to be true")
	}
	if len(res.Processed)+res.ItemErrors >= len(items) {
		t.Fatalf("expected early drain to stop before processing all %d items, processed %d", len(items), len(res.Processed))
	}
}
