package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/devrev/airdropkit/internal/event"
)

// StartPayload is the one-line JSON preamble written to the child's
// stdin before the framed Message protocol begins, carrying everything
// the worker needs to construct its Adapter.
type StartPayload struct {
	Event                 event.Event     `json:"event"`
	InitialConnectorState json.RawMessage `json:"initial_connector_state,omitempty"`
	InitialDomainMapping  json.RawMessage `json:"initial_domain_mapping,omitempty"`
}

// OSSpawner spawns the worker as a child OS process, matching spec §9's
// "OS process with ulimit-equivalent caps and a pipe for messages"
// guidance.
type OSSpawner struct {
	// WorkerPath is the executable to spawn with Args, typically the
	// airdropkit-worker binary; empty means os.Args[0].
	WorkerPath string
	Args       []string
	MemoryCapMB int

	InitialConnectorState json.RawMessage
	InitialDomainMapping  json.RawMessage

	// testMemoryLimitMb, when set, is passed in place of MemoryCapMB and
	// SampleMemoryMB reads it back directly instead of touching /proc,
	// so resource-cap behavior is portable to non-Linux unit tests.
	testMemoryLimitMb int
}

func (sp *OSSpawner) Spawn(ctx context.Context, ev event.Event) (Process, error) {
	path := sp.WorkerPath
	if path == "" {
		path = os.Args[0]
	}
	cmd := exec.CommandContext(ctx, path, sp.Args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("AIRDROPKIT_MEMORY_CAP_MB=%d", sp.capMB()))
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start worker: %w", err)
	}

	payload := StartPayload{
		Event:                 ev,
		InitialConnectorState: sp.InitialConnectorState,
		InitialDomainMapping:  sp.InitialDomainMapping,
	}
	enc := json.NewEncoder(stdin)
	if err := enc.Encode(payload); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("supervisor: write start payload: %w", err)
	}

	return &osProcess{
		cmd:         cmd,
		transport:   NewTransport(stdin, stdout),
		memLimitMB:  sp.capMB(),
		testMemMB:   sp.testMemoryLimitMb,
	}, nil
}

func (sp *OSSpawner) capMB() int {
	if sp.testMemoryLimitMb > 0 {
		return sp.testMemoryLimitMb
	}
	return sp.MemoryCapMB
}

type osProcess struct {
	cmd        *exec.Cmd
	transport  *Transport
	memLimitMB int
	testMemMB  int
}

func (p *osProcess) Transport() *Transport { return p.transport }

func (p *osProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *osProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *osProcess) SampleMemoryMB() (int, error) {
	if p.testMemMB > 0 {
		return p.testMemMB, nil
	}
	if p.cmd.Process == nil {
		return 0, fmt.Errorf("supervisor: process not started")
	}
	return sampleRSSMB(p.cmd.Process.Pid)
}

// ReadStartPayload is the worker-side counterpart to Spawn's preamble
// write: it reads the single JSON line from stdin before the framed
// Message protocol takes over the same stream. It reads one byte at a
// time rather than through a buffered reader so it never consumes bytes
// belonging to the first framed Message that follows on the same pipe.
func ReadStartPayload(r io.Reader) (StartPayload, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			line = append(line, buf[0])
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				break
			}
			return StartPayload{}, err
		}
	}
	var p StartPayload
	if err := json.Unmarshal(line, &p); err != nil {
		return StartPayload{}, fmt.Errorf("supervisor: decode start payload: %w", err)
	}
	return p, nil
}
