// Package repo implements the per-item-type push/flush buffer (spec
// §4.4): callers push normalized items, the repo batches them to
// ArtifactBatchSize and flushes full batches as artifacts through a
// caller-supplied sink, mirroring how camput's uploader.go accumulates
// blob refs before a batched stat/upload round rather than sending one
// request per file.
package repo

import (
	"context"
	"fmt"

	"github.com/devrev/airdropkit/internal/event"
)

// reservedItemTypes bypass normalization: the platform already owns
// their shape (metadata records, attachment descriptors), so the repo
// must not run them through a connector's record transform.
var reservedItemTypes = map[string]bool{
	"external_domain_metadata": true,
	"attachments":              true,
	"ssor_attachment":          true,
}

// IsReserved reports whether itemType bypasses normalization.
func IsReserved(itemType string) bool { return reservedItemTypes[itemType] }

// Sink uploads a full batch as one artifact. The repo never reads the
// artifact list back; the sink is responsible for recording it wherever
// the caller's terminal event construction needs it.
type Sink func(ctx context.Context, itemType string, items []interface{}) (event.Artifact, error)

// Normalize transforms one connector-shaped item into the record the
// platform expects, per item type (spec §4.4 step 1). Reserved item
// types never run through it: the platform already owns their shape.
type Normalize func(item interface{}) interface{}

// Repo buffers items for one item type until a batch threshold is hit.
type Repo struct {
	itemType  string
	sink      Sink
	normalize Normalize
	pending   []interface{}
}

// New returns a Repo for itemType, flushing full batches through sink.
// normalize may be nil, in which case items are pushed through unchanged
// (the caller already normalized them, or itemType is reserved).
func New(itemType string, sink Sink, normalize Normalize) *Repo {
	return &Repo{itemType: itemType, sink: sink, normalize: normalize}
}

// Push appends item to the pending batch, running it through the
// configured Normalize first unless itemType is reserved, and flushing
// automatically once ArtifactBatchSize items have accumulated. On flush
// failure, pushed items remain buffered (not lost) so the caller can
// retry by calling Flush again.
func (r *Repo) Push(ctx context.Context, item interface{}) error {
	if r.normalize != nil && !IsReserved(r.itemType) {
		item = r.normalize(item)
	}
	r.pending = append(r.pending, item)
	if len(r.pending) < event.ArtifactBatchSize {
		return nil
	}
	return r.Flush(ctx)
}

// Flush uploads whatever is pending as one artifact, regardless of
// whether it has reached the batch threshold. A no-op when nothing is
// pending.
func (r *Repo) Flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if _, err := r.sink(ctx, r.itemType, r.pending); err != nil {
		return fmt.Errorf("repo: flush %s: %w", r.itemType, err)
	}
	r.pending = r.pending[:0]
	return nil
}

// Pending returns the number of items currently buffered, for tests and
// diagnostics.
func (r *Repo) Pending() int { return len(r.pending) }
