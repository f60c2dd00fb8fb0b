// Command airdropkit-worker is the child process the supervisor spawns
// for one invocation (spec §4.6 step 2): it reads the start payload from
// stdin, runs the connector's phase handler against a worker.Adapter,
// and exits. All its log output and its emitted-notification travel back
// to the parent over the framed message protocol on stdout.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/devrev/airdropkit/internal/artifact"
	azurestorage "github.com/devrev/airdropkit/internal/azure/storage"
	"github.com/devrev/airdropkit/internal/controlplane"
	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/state"
	"github.com/devrev/airdropkit/internal/supervisor"
	"github.com/devrev/airdropkit/internal/worker"
	"github.com/devrev/airdropkit/internal/xlog"
)

// Handler is the connector-supplied phase function, keyed by EventType
// in the registry a connector binary builds on top of this package.
type Handler func(ctx context.Context, a *worker.Adapter, ev event.Event) error

// registry is populated through Register; it starts empty since
// airdropkit-worker by itself has no phase logic of its own, only the
// plumbing a connector links against.
var registry = map[event.EventType]Handler{}

// Register adds a phase handler for eventType, called from a connector's
// own init() before run executes.
func Register(eventType event.EventType, h Handler) { registry[eventType] = h }

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if mb, err := strconv.Atoi(os.Getenv("AIRDROPKIT_MEMORY_CAP_MB")); err == nil && mb > 0 {
		if err := supervisor.ApplyMemoryCap(mb); err != nil {
			fmt.Fprintf(os.Stderr, "airdropkit-worker: %v\n", err)
		}
	}

	payload, err := supervisor.ReadStartPayload(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "airdropkit-worker: read start payload: %v\n", err)
		return 1
	}

	transport := supervisor.NewTransport(os.Stdout, os.Stdin)
	notifier := &transportNotifier{t: transport}
	log := xlog.New("worker", &transportLogWriter{t: transport})

	cp := controlplane.New(payload.Event.ExecutionMetadata.DevrevEndpoint, log)
	store := state.New(cp, log)
	if err := store.Initialize(context.Background(), payload.Event, payload.InitialConnectorState, payload.InitialDomainMapping); err != nil {
		fmt.Fprintf(os.Stderr, "airdropkit-worker: initialize state: %v\n", err)
		return 1
	}

	mirror, err := buildMirrorBackend(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "airdropkit-worker: mirror backend: %v\n", err)
		return 1
	}
	up := artifact.New(cp, payload.Event.Context.SecretToken, payload.Event.EventContext.RequestID, mirror, log)

	adapter := worker.New(payload.Event, store, up, cp, notifier, log)
	go watchForExitMessage(transport, adapter)

	h, ok := registry[payload.Event.Type]
	if !ok {
		fmt.Fprintf(os.Stderr, "airdropkit-worker: no handler registered for %s\n", payload.Event.Type)
		return 1
	}
	if err := h(context.Background(), adapter, payload.Event); err != nil {
		fmt.Fprintf(os.Stderr, "airdropkit-worker: handler error: %v\n", err)
		return 1
	}
	return 0
}

// buildMirrorBackend constructs the artifact.Backend named by
// AIRDROPKIT_MIRROR_BACKEND (set by cmd/airdropkit-local or the
// platform's own launcher), defaulting to the local-development
// filesystem mirror when unset.
func buildMirrorBackend(ctx context.Context) (artifact.Backend, error) {
	switch os.Getenv("AIRDROPKIT_MIRROR_BACKEND") {
	case "", "local":
		return artifact.NewLocalBackend(os.Getenv("AIRDROPKIT_LOCAL_ARTIFACT_DIR"))
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs: new client: %w", err)
		}
		return artifact.NewGCSBackend(client, os.Getenv("AIRDROPKIT_MIRROR_BUCKET"), os.Getenv("AIRDROPKIT_MIRROR_PREFIX")), nil
	case "s3":
		sess, err := session.NewSession(&aws.Config{Region: aws.String(os.Getenv("AIRDROPKIT_MIRROR_REGION"))})
		if err != nil {
			return nil, fmt.Errorf("s3: new session: %w", err)
		}
		return artifact.NewS3Backend(s3.New(sess), os.Getenv("AIRDROPKIT_MIRROR_BUCKET"), os.Getenv("AIRDROPKIT_MIRROR_PREFIX")), nil
	case "azure":
		key, err := base64.StdEncoding.DecodeString(os.Getenv("AIRDROPKIT_AZURE_KEY"))
		if err != nil {
			return nil, fmt.Errorf("azure: decode account key: %w", err)
		}
		client := &azurestorage.Client{
			Auth: &azurestorage.Auth{
				Account:   os.Getenv("AIRDROPKIT_AZURE_ACCOUNT"),
				AccessKey: key,
			},
		}
		return artifact.NewAzureBackend(client, os.Getenv("AIRDROPKIT_MIRROR_BUCKET")), nil
	default:
		return nil, fmt.Errorf("unknown AIRDROPKIT_MIRROR_BACKEND %q", os.Getenv("AIRDROPKIT_MIRROR_BACKEND"))
	}
}

// watchForExitMessage reads frames off transport until the parent's
// soft-timeout WorkerMessageExit arrives or the stream closes, and tells
// a to begin cooperative shutdown. Runs for the lifetime of the process;
// it stops naturally when the parent closes its side of the pipe.
func watchForExitMessage(t *supervisor.Transport, a *worker.Adapter) {
	for {
		msg, err := t.Recv()
		if err != nil {
			return
		}
		if msg.Kind == supervisor.WorkerMessageExit {
			a.NotifyExitMessage()
		}
	}
}

// transportNotifier bridges worker.Adapter's Supervisor interface to the
// real parent/child message transport: NotifyEmitted sends
// WorkerMessageEmitted over the pipe instead of an in-process call.
type transportNotifier struct{ t *supervisor.Transport }

func (n *transportNotifier) NotifyEmitted() {
	n.t.Send(supervisor.Message{Kind: supervisor.WorkerMessageEmitted})
}

// transportLogWriter adapts xlog's io.Writer sink to the message
// transport, wrapping each write as a WorkerMessageLog frame instead of
// writing raw bytes (which would corrupt the framed stdout stream the
// parent is also reading Emitted notifications from).
type transportLogWriter struct{ t *supervisor.Transport }

func (w *transportLogWriter) Write(p []byte) (int, error) {
	if err := w.t.Send(supervisor.Message{Kind: supervisor.WorkerMessageLog, Level: "INFO", Text: string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}
