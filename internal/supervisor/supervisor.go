// Package supervisor implements the parent process of spec §4.6: it
// spawns the worker, enforces soft/hard timeouts and a memory cap,
// routes framed messages, and runs the terminal-event arbiter that
// guarantees exactly one terminal event reaches the platform per
// invocation. Grounded on the teacher's two-process mental model absent
// from Perkeep itself (Perkeep has no supervisor/worker split); the
// timer/sampler/message-loop shape instead follows pkg/cmdmain's
// Stdout/Stderr indirection for testability and internal/osutil's
// platform-conditional syscall files for resource sampling.
package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/xlog"
)

// EmitClient is the subset of the control-plane client the arbiter needs
// to emit the canonical error event when a worker exits silently.
type EmitClient interface {
	Emit(ctx context.Context, callbackURL, token string, ev event.TerminalEvent) error
}

// Process is one spawned worker invocation: a message transport plus
// exit/kill/memory-sample hooks. The real implementation wraps os/exec;
// tests supply an in-memory double.
type Process interface {
	Transport() *Transport
	Wait() (exitCode int, err error)
	Kill() error
	SampleMemoryMB() (int, error)
}

// Spawner starts a worker process for one invocation.
type Spawner interface {
	Spawn(ctx context.Context, ev event.Event) (Process, error)
}

// Config holds the supervisor's timing and resource knobs (spec §5).
type Config struct {
	SoftTimeout          time.Duration
	MemorySampleInterval time.Duration
}

// HardTimeout is 1.3x SoftTimeout (spec §4.6 step 3).
func (c Config) HardTimeout() time.Duration {
	return time.Duration(float64(c.SoftTimeout) * 1.3)
}

// Supervisor runs one invocation's parent-side lifecycle.
type Supervisor struct {
	cfg Config
	cp  EmitClient
	log *xlog.Logger
}

// New returns a Supervisor with the given config and control-plane client.
func New(cfg Config, cp EmitClient, log *xlog.Logger) *Supervisor {
	if cfg.MemorySampleInterval <= 0 {
		cfg.MemorySampleInterval = 30 * time.Second
	}
	if log == nil {
		log = xlog.New("supervisor", nil)
	}
	return &Supervisor{cfg: cfg, cp: cp, log: log}
}

// Run spawns ev's worker, supervises it to completion, and guarantees
// exactly one terminal event is emitted to the platform (spec §4.6).
func (s *Supervisor) Run(ctx context.Context, ev event.Event, spawner Spawner) error {
	resolved := event.CanonicalErrorEvent(ev.Type)
	if resolved == event.UnknownEventType && !knownInputType(ev.Type) {
		return s.emitUnknownEventType(ctx, ev)
	}

	proc, err := spawner.Spawn(ctx, ev)
	if err != nil {
		return fmt.Errorf("supervisor: spawn: %w", err)
	}

	var alreadyEmitted atomic.Bool
	var alreadyArbitrated atomic.Bool

	softTimer := time.AfterFunc(s.cfg.SoftTimeout, func() {
		if err := proc.Transport().Send(Message{Kind: WorkerMessageExit}); err != nil {
			s.log.Warnf("failed to send soft-timeout exit message: %v", err)
		}
	})
	hardTimer := time.AfterFunc(s.cfg.HardTimeout(), func() {
		s.log.Warnf("hard timeout reached, terminating worker")
		if err := proc.Kill(); err != nil {
			s.log.Warnf("failed to kill worker on hard timeout: %v", err)
		}
	})
	defer softTimer.Stop()
	defer hardTimer.Stop()

	samplerDone := make(chan struct{})
	go s.runMemorySampler(proc, samplerDone)
	defer close(samplerDone)

	msgDone := make(chan struct{})
	go func() {
		defer close(msgDone)
		s.routeMessages(proc, &alreadyEmitted)
	}()

	_, waitErr := proc.Wait()
	softTimer.Stop()
	hardTimer.Stop()
	<-msgDone

	return s.arbitrate(ctx, ev, resolved, alreadyEmitted.Load(), &alreadyArbitrated, waitErr)
}

func knownInputType(t event.EventType) bool {
	switch t {
	case event.ExtractionExternalSyncUnitsStart, event.ExtractionMetadataStart,
		event.ExtractionDataStart, event.ExtractionDataContinue, event.ExtractionDataDelete,
		event.ExtractionAttachmentsStart, event.ExtractionAttachmentsContinue, event.ExtractionAttachmentsDelete,
		event.StartLoadingData, event.ContinueLoadingData,
		event.StartLoadingAttachments, event.ContinueLoadingAttachments,
		event.StartDeletingLoaderState, event.StartDeletingLoaderAttachmentState:
		return true
	}
	return false
}

func (s *Supervisor) emitUnknownEventType(ctx context.Context, ev event.Event) error {
	term := event.TerminalEvent{
		EventType: event.UnknownEventType,
		EventContext: event.EventContext{
			CallbackURL: ev.EventContext.CallbackURL,
			SyncUnitID:  ev.EventContext.SyncUnitID,
			RunID:       ev.EventContext.RunID,
			RequestID:   ev.EventContext.RequestID,
		},
		EventData: &event.TerminalData{
			Error: &event.ErrorData{Message: fmt.Sprintf("unrecognized event type %q", ev.Type)},
		},
	}
	return s.cp.Emit(ctx, ev.EventContext.CallbackURL, ev.Context.SecretToken, term)
}

func (s *Supervisor) routeMessages(proc Process, alreadyEmitted *atomic.Bool) {
	t := proc.Transport()
	for {
		msg, err := t.Recv()
		if err != nil {
			return // EOF or pipe closed: the worker has exited.
		}
		switch msg.Kind {
		case WorkerMessageLog:
			s.log.Infof("[worker %s] %s", msg.Level, msg.Text)
		case WorkerMessageEmitted:
			alreadyEmitted.Store(true)
		}
	}
}

func (s *Supervisor) runMemorySampler(proc Process, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.MemorySampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mb, err := proc.SampleMemoryMB()
			if err != nil {
				s.log.Warnf("memory sampler: %v (stopping sampler)", err)
				return
			}
			s.log.Infof("worker rss_mb=%d", mb)
		}
	}
}

// arbitrate implements spec §4.6's terminal-event arbiter: if the worker
// already emitted, nothing more happens; otherwise the canonical error
// event for the invocation's event type is POSTed. Guarded by
// alreadyArbitrated so the hard-timeout kill path and the normal exit
// path can never both fire it.
func (s *Supervisor) arbitrate(ctx context.Context, ev event.Event, resolved event.EventType, alreadyEmitted bool, alreadyArbitrated *atomic.Bool, waitErr error) error {
	if !alreadyArbitrated.CompareAndSwap(false, true) {
		return nil
	}
	if alreadyEmitted {
		return nil
	}

	msg := "Worker exited the process without emitting an event."
	if waitErr != nil {
		msg = fmt.Sprintf("%s (%v)", msg, waitErr)
	}
	term := event.TerminalEvent{
		EventType: resolved,
		EventContext: event.EventContext{
			CallbackURL: ev.EventContext.CallbackURL,
			SyncUnitID:  ev.EventContext.SyncUnitID,
			RunID:       ev.EventContext.RunID,
			RequestID:   ev.EventContext.RequestID,
		},
		EventData: &event.TerminalData{
			Error: &event.ErrorData{Message: event.TruncateMessage(msg)},
		},
	}
	return s.cp.Emit(ctx, ev.EventContext.CallbackURL, ev.Context.SecretToken, term)
}
