// Package worker implements the in-worker adapter surface (spec §4.5):
// state access, repo management, attachment streaming, and the emit path
// with its size-guard and at-most-once cooperation with the supervisor's
// soft timeout. Grounded on camput's uploader.go, which plays a similar
// role of being the single object user phase code pushes items and
// attachments through.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devrev/airdropkit/internal/attach"
	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/ferr"
	"github.com/devrev/airdropkit/internal/repo"
	"github.com/devrev/airdropkit/internal/state"
	"github.com/devrev/airdropkit/internal/xlog"
)

// Uploader is the subset of artifact.Uploader the adapter calls.
type Uploader interface {
	UploadBatch(ctx context.Context, itemType string, objects []interface{}) (event.Artifact, error)
}

// CallbackClient is the subset of the control-plane client needed to
// emit a terminal event.
type CallbackClient interface {
	Emit(ctx context.Context, callbackURL, token string, ev event.TerminalEvent) error
}

// Supervisor is the narrow channel the adapter uses to tell the parent
// process it has emitted, matching spec §4.6's WorkerMessageEmitted hop.
type Supervisor interface {
	NotifyEmitted()
}

// RepoDef names an item type to initialize a Repo for, with an optional
// connector-supplied Normalize transform (spec §4.4 step 1). Normalize is
// ignored for reserved item types, which bypass normalization entirely.
type RepoDef struct {
	ItemType  string
	Normalize repo.Normalize
}

// Adapter is the per-invocation worker surface handed to user phase code.
type Adapter struct {
	ev     event.Event
	store  *state.Store
	up     Uploader
	cp     CallbackClient
	sup    Supervisor
	log    *xlog.Logger
	pool   *attach.Pool

	repos map[string]*repo.Repo

	pendingArtifacts []event.Artifact
	isTimeout        bool
	sizeLimitTriggered bool
	onTimeoutExecuted bool
	alreadyEmitted    bool
}

// New returns an Adapter bound to one invocation's event, state store,
// uploader, and callback client.
func New(ev event.Event, store *state.Store, up Uploader, cp CallbackClient, sup Supervisor, log *xlog.Logger) *Adapter {
	if log == nil {
		log = xlog.New("worker", nil)
	}
	return &Adapter{
		ev:    ev,
		store: store,
		up:    up,
		cp:    cp,
		sup:   sup,
		log:   log,
		pool:  attach.New(10, log),
		repos: make(map[string]*repo.Repo),
	}
}

// State returns the current AdapterState. During a cooperative timeout,
// callers should prefer StateProxy for the read-only write-blocking view.
func (a *Adapter) State() event.AdapterState { return a.store.State() }

// SetState replaces the AdapterState document.
func (a *Adapter) SetState(st event.AdapterState) { a.store.SetState(st) }

// StateProxy returns a read-only wrapper over the state: its SetState is
// a no-op that logs a warning. The adapter does not install it by itself;
// RunOnTimeout hands its handler the Adapter, whose SetState still writes.
func (a *Adapter) StateProxy() *ReadOnlyState { return &ReadOnlyState{a: a} }

// ReadOnlyState mirrors Adapter's state accessors but blocks writes.
type ReadOnlyState struct{ a *Adapter }

func (r *ReadOnlyState) State() event.AdapterState { return r.a.store.State() }

func (r *ReadOnlyState) SetState(event.AdapterState) {
	r.a.log.Warnf("state.SetState called after timeout; write ignored")
}

// InitializeRepos creates a Repo for each listed item type, wired to
// upload full batches as artifacts through the adapter's uploader and
// onUpload hook.
func (a *Adapter) InitializeRepos(defs []RepoDef) {
	for _, d := range defs {
		itemType := d.ItemType
		a.repos[itemType] = repo.New(itemType, func(ctx context.Context, itemType string, items []interface{}) (event.Artifact, error) {
			art, err := a.up.UploadBatch(ctx, itemType, items)
			if err != nil {
				return event.Artifact{}, err
			}
			a.onUpload(art)
			return art, nil
		}, d.Normalize)
	}
}

// GetRepo returns the Repo for itemType, or nil if it was never
// initialized via InitializeRepos.
func (a *Adapter) GetRepo(itemType string) *repo.Repo { return a.repos[itemType] }

// Push pushes items through itemType's repo, which applies the
// RepoDef's Normalize to non-reserved item types.
func (a *Adapter) Push(ctx context.Context, itemType string, items []interface{}) error {
	r := a.GetRepo(itemType)
	if r == nil {
		return fmt.Errorf("worker: push: repo %q was never initialized", itemType)
	}
	for _, it := range items {
		if err := r.Push(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// FlushRepos flushes every initialized repo's tail batch. Called before
// a terminal emit so no buffered items are lost.
func (a *Adapter) FlushRepos(ctx context.Context) error {
	for _, r := range a.repos {
		if err := r.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StreamAttachments drives the attachment pool (spec §4.5.2) over items,
// resuming from the current state's lastProcessedAttachmentsIdsList and
// recording newly processed ids back into it on return.
func (a *Adapter) StreamAttachments(ctx context.Context, items []attach.Item, batchSize int, stream attach.StreamFunc, upload attach.UploadFunc) attach.Result {
	if batchSize <= 0 {
		batchSize = 10
	}
	pool := attach.New(batchSize, a.log)
	st := a.store.State()
	seen := attach.ApplyResume(st)

	res := pool.Run(ctx, items, seen, stream, upload)

	for _, id := range res.Processed {
		st.ToDevRev.AttachmentsMetadata.LastProcessedAttachmentsIDsList = append(
			st.ToDevRev.AttachmentsMetadata.LastProcessedAttachmentsIDsList,
			event.ProcessedAttachment{ID: id},
		)
	}
	a.store.SetState(st)
	return res
}

// IsTimeout reports whether the cooperative timeout signal has fired,
// either from the supervisor's soft-timeout message or the wire-size
// guard.
func (a *Adapter) IsTimeout() bool { return a.isTimeout }

// SizeLimitTriggered reports whether isTimeout was set by the wire-size
// guard specifically, as opposed to the supervisor's timeout message.
func (a *Adapter) SizeLimitTriggered() bool { return a.sizeLimitTriggered }

// NotifyExitMessage is called by the supervisor transport when the
// parent's soft-timeout WorkerMessageExit arrives.
func (a *Adapter) NotifyExitMessage() { a.isTimeout = true }

// onUpload appends art to the pending artifact list and enforces the
// wire-size guard (spec §4.5.1): once the JSON-serialized pending list
// exceeds PendingSizeThreshold, isTimeout is set so the user task yields
// at its next natural checkpoint.
func (a *Adapter) onUpload(art event.Artifact) {
	a.pendingArtifacts = append(a.pendingArtifacts, art)
	encoded, err := json.Marshal(a.pendingArtifacts)
	if err != nil {
		a.log.Warnf("onUpload: failed to size pending artifacts: %v", err)
		return
	}
	if len(encoded) > event.PendingSizeThreshold {
		a.isTimeout = true
		a.sizeLimitTriggered = true
	}
}

// RunOnTimeout runs handler at most once, after the user task returns, if
// isTimeout is true and onTimeout has not already executed (spec
// §4.5.1's onTimeoutExecuted guard against the size-limit and supervisor
// timeout racing).
func (a *Adapter) RunOnTimeout(ctx context.Context, handler func(ctx context.Context, a *Adapter)) {
	if !a.isTimeout || a.onTimeoutExecuted {
		return
	}
	a.onTimeoutExecuted = true
	handler(ctx, a)
}

// Emit implements spec §4.5.3's terminal emit path.
func (a *Adapter) Emit(ctx context.Context, eventType event.EventType, data *event.TerminalData) error {
	if a.alreadyEmitted {
		a.log.Warnf("emit(%s) dropped: already emitted", eventType)
		return nil
	}

	if a.isTimeout && eventType.IsDoneOutcome() {
		a.log.Warnf("emit(%s) blocked: phase is in cooperative timeout", eventType)
		return ferr.ErrEmitBlocked
	}

	if data != nil && data.Error != nil {
		data.Error.Message = event.TruncateMessage(data.Error.Message)
	}

	if err := a.FlushRepos(ctx); err != nil {
		return fmt.Errorf("worker: emit: flush repos: %w", err)
	}

	if !a.ev.Type.Stateless() {
		if err := a.store.Save(ctx, a.ev); err != nil {
			return ferr.Fatalf("worker: emit: save state before terminal event: %w", err)
		}
	}

	out := event.TerminalData{}
	if data != nil {
		out = *data
	}
	out.Artifacts = a.pendingArtifacts

	term := event.TerminalEvent{
		EventType: eventType,
		EventContext: event.EventContext{
			CallbackURL: a.ev.EventContext.CallbackURL,
			SyncUnitID:  a.ev.EventContext.SyncUnitID,
			RunID:       a.ev.EventContext.RunID,
			RequestID:   a.ev.EventContext.RequestID,
		},
		EventData: &out,
	}

	if err := a.cp.Emit(ctx, a.ev.EventContext.CallbackURL, a.ev.Context.SecretToken, term); err != nil {
		return fmt.Errorf("worker: emit: %w", err)
	}

	a.alreadyEmitted = true
	if a.sup != nil {
		a.sup.NotifyEmitted()
	}
	return nil
}

// AlreadyEmitted reports whether a terminal event has been sent.
func (a *Adapter) AlreadyEmitted() bool { return a.alreadyEmitted }
