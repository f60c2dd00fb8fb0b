// Package state implements the per-sync-unit AdapterState lifecycle:
// fetch-or-initialize, initial-domain-mapping install on version change,
// and on-demand persistence (spec §4.2). Grounded on pkg/client/config.go's
// read-then-default-then-persist shape, generalized from a local JSON file
// to the platform's get/put state endpoints.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/ferr"
	"github.com/devrev/airdropkit/internal/xlog"
)

// Client is the subset of the control-plane client the store needs.
type Client interface {
	GetState(ctx context.Context, workerDataURL, token, syncUnit, requestID string) (string, error)
	PutState(ctx context.Context, workerDataURL, token, syncUnit, requestID, state string) error
	InstallInitialDomainMapping(ctx context.Context, token string, mapping json.RawMessage) error
}

// Store owns the AdapterState for a single invocation.
type Store struct {
	cp    Client
	log   *xlog.Logger
	state event.AdapterState
}

// New returns a Store bound to the given control-plane client.
func New(cp Client, log *xlog.Logger) *Store {
	if log == nil {
		log = xlog.New("state", nil)
	}
	return &Store{cp: cp, log: log}
}

// State returns the current in-memory state document.
func (s *Store) State() event.AdapterState { return s.state }

// SetState replaces the in-memory state document (the worker adapter's
// setter, spec §4.5).
func (s *Store) SetState(st event.AdapterState) { s.state = st }

// Initialize implements spec §4.2's Initialize algorithm.
func (s *Store) Initialize(ctx context.Context, ev event.Event, initialConnectorState json.RawMessage, initialDomainMapping json.RawMessage) error {
	if ev.Type.Stateless() {
		s.state = defaultState(ev, initialConnectorState)
		return nil
	}

	raw, err := s.cp.GetState(ctx, ev.EventContext.WorkerDataURL, ev.Context.SecretToken, ev.EventContext.SyncUnitID, ev.EventContext.RequestID)
	switch {
	case errors.Is(err, ferr.ErrStateNotFound):
		s.state = defaultState(ev, initialConnectorState)
		encoded, encErr := json.Marshal(s.state)
		if encErr != nil {
			return ferr.Fatalf("state: encode default state: %w", encErr)
		}
		if putErr := s.cp.PutState(ctx, ev.EventContext.WorkerDataURL, ev.Context.SecretToken, ev.EventContext.SyncUnitID, ev.EventContext.RequestID, string(encoded)); putErr != nil {
			return ferr.Fatalf("state: persist default state: %w", putErr)
		}
	case err != nil:
		return ferr.Fatalf("state: fetch: %w", err)
	default:
		if raw == "" {
			return ferr.Fatalf("state: empty body for existing state")
		}
		var st event.AdapterState
		if jsonErr := json.Unmarshal([]byte(raw), &st); jsonErr != nil {
			return ferr.Fatalf("state: parse: %w", jsonErr)
		}
		s.state = st
	}

	if s.state.SnapInVersionID != ev.Context.SnapInVersionID {
		if initialDomainMapping == nil {
			return ferr.Fatalf("state: %w", ferr.ErrMissingDomainMapping)
		}
		if err := s.cp.InstallInitialDomainMapping(ctx, ev.Context.SecretToken, initialDomainMapping); err != nil {
			return ferr.Fatalf("state: install initial domain mapping: %w", err)
		}
		s.state.SnapInVersionID = ev.Context.SnapInVersionID
	}

	if ev.Type == event.ExtractionDataStart && s.state.LastSyncStarted == "" {
		s.state.LastSyncStarted = time.Now().UTC().Format(time.RFC3339)
	}

	return nil
}

// Save persists the current state document. Called before every
// stateful terminal emit (spec §4.2 invariant).
func (s *Store) Save(ctx context.Context, ev event.Event) error {
	encoded, err := json.Marshal(s.state)
	if err != nil {
		return ferr.Fatalf("state: encode: %w", err)
	}
	if err := s.cp.PutState(ctx, ev.EventContext.WorkerDataURL, ev.Context.SecretToken, ev.EventContext.SyncUnitID, ev.EventContext.RequestID, string(encoded)); err != nil {
		return ferr.Fatalf("state: save: %w", err)
	}
	return nil
}

func defaultState(ev event.Event, initialConnectorState json.RawMessage) event.AdapterState {
	// SnapInVersionID is deliberately left unset here: the version
	// compare in Initialize must see a mismatch against ev.Context.SnapInVersionID
	// even for a brand-new sync unit, so the initial-domain-mapping
	// install (spec §4.2 step 4) runs on first creation too.
	st := event.AdapterState{
		Connector: initialConnectorState,
	}
	switch ev.EventContext.Mode {
	case event.ModeLoading:
		st.FromDevRev = event.FromDevRevState{}
	default:
		st.ToDevRev = event.ToDevRevState{}
	}
	return st
}
