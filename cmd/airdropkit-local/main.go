// Command airdropkit-local is the local-development driver named in spec
// §6's isLocalDevelopment/-local option: it reads a JSON event fixture
// from disk, spawns the real airdropkit-worker binary under the
// supervisor exactly as the platform would, and by default also mirrors
// every artifact the worker uploads to the platform into a local
// extracted_files/ directory. Grounded on pkg/cmdmain's single-binary
// flag registration (RegisterCommand/modeCommand), collapsed to one
// mode since this driver has only one job.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/devrev/airdropkit/internal/config"
	"github.com/devrev/airdropkit/internal/controlplane"
	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/supervisor"
	"github.com/devrev/airdropkit/internal/xlog"
)

// mirrorFlags is the set of mirror-backend options passed through to the
// worker subprocess as environment variables (the same channel already
// used for AIRDROPKIT_LOCAL_ARTIFACT_DIR), since the worker is the
// process that actually constructs the artifact.Backend.
type mirrorFlags struct {
	backend      string
	bucket       string
	prefix       string
	region       string
	azureAccount string
	azureKey     string
}

func main() {
	eventPath := flag.String("event", "", "path to a JSON event fixture (required)")
	workerPath := flag.String("worker-path", "", "path to the airdropkit-worker binary (defaults to a sibling of this binary)")
	outDir := flag.String("out-dir", "extracted_files", "directory uploaded artifacts are mirrored into when -mirror-backend=local")
	devrevEndpoint := flag.String("devrev-endpoint", "", "override the event's execution_metadata.devrev_endpoint")
	var mf mirrorFlags
	flag.StringVar(&mf.backend, "mirror-backend", "local", "artifact mirror backend: local, gcs, s3, or azure")
	flag.StringVar(&mf.bucket, "mirror-bucket", "", "bucket/container name for gcs/s3/azure mirror backends")
	flag.StringVar(&mf.prefix, "mirror-prefix", "", "key prefix for gcs/s3/azure mirror backends")
	flag.StringVar(&mf.region, "mirror-s3-region", "us-east-1", "AWS region for the s3 mirror backend")
	flag.StringVar(&mf.azureAccount, "mirror-azure-account", "", "Azure storage account for the azure mirror backend")
	flag.StringVar(&mf.azureKey, "mirror-azure-key", "", "Azure storage account key for the azure mirror backend")
	opts := config.DefaultOptions()
	config.RegisterFlags(flag.CommandLine, &opts)
	flag.Parse()

	log := xlog.New("local", os.Stderr)

	if err := run(*eventPath, *workerPath, *outDir, *devrevEndpoint, mf, opts, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(eventPath, workerPath, outDir, devrevEndpointOverride string, mf mirrorFlags, opts config.Options, log *xlog.Logger) error {
	if eventPath == "" {
		return fmt.Errorf("local: -event is required")
	}

	raw, err := os.ReadFile(eventPath)
	if err != nil {
		return fmt.Errorf("local: read event fixture: %w", err)
	}
	var ev event.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("local: decode event fixture: %w", err)
	}
	if devrevEndpointOverride != "" {
		ev.ExecutionMetadata.DevrevEndpoint = devrevEndpointOverride
	}

	if workerPath == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("local: resolve own path: %w", err)
		}
		workerPath = self + "-worker"
	}
	if _, err := os.Stat(workerPath); err != nil {
		return fmt.Errorf("local: worker binary %q: %w", workerPath, err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("local: create %s: %w", outDir, err)
	}
	if err := applyMirrorEnv(mf, outDir); err != nil {
		return fmt.Errorf("local: mirror backend: %w", err)
	}

	cp := controlplane.New(ev.ExecutionMetadata.DevrevEndpoint, xlog.New("controlplane", os.Stderr))

	spawner := &supervisor.OSSpawner{
		WorkerPath: workerPath,
	}
	if opts.EnableMemoryLimits && opts.TestMemoryLimitMb > 0 {
		spawner.MemoryCapMB = opts.TestMemoryLimitMb
	}

	cfg := supervisor.Config{
		SoftTimeout:          opts.SoftTimeout(),
		MemorySampleInterval: config.MemorySampleInterval(),
	}
	sup := supervisor.New(cfg, cp, xlog.New("supervisor", os.Stderr))

	log.Infof("running %s against worker %s, artifacts mirror=%s -> %s", ev.Type, workerPath, mf.backend, outDir)
	return sup.Run(context.Background(), ev, spawner)
}

// applyMirrorEnv passes the chosen mirror backend down to the worker
// subprocess over environment variables, the same indirection
// AIRDROPKIT_LOCAL_ARTIFACT_DIR already used: the worker, not this
// driver, holds the SDK clients that construct the Backend.
func applyMirrorEnv(mf mirrorFlags, outDir string) error {
	switch mf.backend {
	case "", "local":
		return os.Setenv("AIRDROPKIT_LOCAL_ARTIFACT_DIR", outDir)
	case "gcs", "s3", "azure":
		if mf.bucket == "" {
			return fmt.Errorf("-mirror-bucket is required for -mirror-backend=%s", mf.backend)
		}
		env := map[string]string{
			"AIRDROPKIT_MIRROR_BACKEND": mf.backend,
			"AIRDROPKIT_MIRROR_BUCKET":  mf.bucket,
			"AIRDROPKIT_MIRROR_PREFIX":  mf.prefix,
			"AIRDROPKIT_MIRROR_REGION":  mf.region,
			"AIRDROPKIT_AZURE_ACCOUNT":  mf.azureAccount,
			"AIRDROPKIT_AZURE_KEY":      mf.azureKey,
		}
		for k, v := range env {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown -mirror-backend %q (want local, gcs, s3, or azure)", mf.backend)
	}
}
