// Package attach implements the bounded-concurrency attachment streaming
// pool (spec §4.5.2): batchSize workers pull from a shared queue, each
// invoking a user-supplied stream function, with idempotent resume and
// cooperative early-drain on a delay signal. Grounded on
// internal/chanworker's buffered-pull-queue shape, adapted from a
// fire-and-forget fn callback to a bounded worker count that must be
// cancellable mid-run (chanworker itself has no cancellation hook).
package attach

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/xlog"
)

// Item is one attachment to stream, as listed in a previously uploaded
// attachment-metadata artifact.
type Item struct {
	ID       string
	ParentID string
}

// Outcome is what a single stream invocation returns.
type Outcome struct {
	Stream  interface{ Read([]byte) (int, error) } // an io.Reader-shaped httpStream, left loosely typed here: the uploader owns the concrete type
	Err     error
	Delayed bool
}

// StreamFunc fetches one attachment, returning a stream to upload, a
// per-item error (skip, non-fatal), or a delay signal (stop the pool).
type StreamFunc func(ctx context.Context, item Item) Outcome

// UploadFunc uploads a successfully fetched attachment's bytes.
type UploadFunc func(ctx context.Context, item Item, stream interface{ Read([]byte) (int, error) }) error

// Result summarizes one pool run.
type Result struct {
	Delayed     bool
	Processed   []string // ids successfully uploaded, in completion order
	Skipped     int      // already-processed ids skipped via resume
	ItemErrors  int      // per-item stream/upload errors, non-fatal
}

// Pool drives streamAttachments over a fixed item list.
type Pool struct {
	batchSize int
	log       *xlog.Logger
}

// New returns a Pool with the given worker concurrency (spec default 10).
func New(batchSize int, log *xlog.Logger) *Pool {
	if batchSize <= 0 {
		batchSize = 10
	}
	if log == nil {
		log = xlog.New("attach", nil)
	}
	return &Pool{batchSize: batchSize, log: log}
}

// Run streams items concurrently, skipping any whose id is already in
// alreadyProcessed. It stops early (without canceling in-flight work) the
// moment any worker reports a delay, per spec §4.5.2's "drain in-flight,
// then stop" rule.
func (p *Pool) Run(ctx context.Context, items []Item, alreadyProcessed map[string]bool, stream StreamFunc, upload UploadFunc) Result {
	queue := make(chan Item, len(items))
	var skipped int
	for _, it := range items {
		if alreadyProcessed[it.ID] {
			skipped++
			continue
		}
		queue <- it
	}
	close(queue)

	var (
		mu        sync.Mutex
		processed []string
		itemErrs  int
	)
	var delayed atomic.Bool

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < p.batchSize; w++ {
		g.Go(func() error {
			for {
				if delayed.Load() {
					return nil
				}
				select {
				case <-gctx.Done():
					return nil
				case item, ok := <-queue:
					if !ok {
						return nil
					}
					p.handle(gctx, item, stream, upload, &delayed, &mu, &processed, &itemErrs)
				}
			}
		})
	}
	// errgroup.Wait only returns an error if a worker returns one; our
	// workers never do (per-item failures are swallowed as non-fatal),
	// so the error is ignored here by design.
	_ = g.Wait()

	return Result{
		Delayed:    delayed.Load(),
		Processed:  processed,
		Skipped:    skipped,
		ItemErrors: itemErrs,
	}
}

func (p *Pool) handle(ctx context.Context, item Item, stream StreamFunc, upload UploadFunc, delayed *atomic.Bool, mu *sync.Mutex, processed *[]string, itemErrs *int) {
	out := stream(ctx, item)
	switch {
	case out.Delayed:
		delayed.Store(true)
		return
	case out.Err != nil:
		p.log.Warnf("attachment %s: stream error, skipping: %v", item.ID, out.Err)
		mu.Lock()
		*itemErrs++
		mu.Unlock()
		return
	}

	if err := upload(ctx, item, out.Stream); err != nil {
		p.log.Warnf("attachment %s: upload error, skipping: %v", item.ID, err)
		mu.Lock()
		*itemErrs++
		mu.Unlock()
		return
	}

	mu.Lock()
	*processed = append(*processed, item.ID)
	mu.Unlock()
}

// ApplyResume returns the subset of state's lastProcessedAttachmentsIdsList
// as a lookup set, for callers wiring Run's alreadyProcessed argument.
func ApplyResume(st event.AdapterState) map[string]bool {
	seen := make(map[string]bool, len(st.ToDevRev.AttachmentsMetadata.LastProcessedAttachmentsIDsList))
	for _, rec := range st.ToDevRev.AttachmentsMetadata.LastProcessedAttachmentsIDsList {
		seen[rec.ID] = true
	}
	return seen
}
