package apply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

// HookApplier delegates an application to an external executable. The
// executable receives {"index": N, "job": {...}} on stdin and may print a
// JSON object on stdout, which becomes the Proof. A non-zero exit status
// fails the application.
type HookApplier struct {
	Path string
	Args []string
	// WaitDelay bounds how long Apply waits for the hook's output pipes to
	// close after ctx ends, e.g. when the hook left a child process running.
	// Zero means DefaultHookWaitDelay.
	WaitDelay time.Duration
}

const DefaultHookWaitDelay = 3 * time.Second

// NewHookApplier splits a command line on whitespace into path and args.
func NewHookApplier(commandLine string) (*HookApplier, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("apply hook command is required")
	}
	return &HookApplier{Path: fields[0], Args: fields[1:]}, nil
}

type hookRequest struct {
	Index int         `json:"index"`
	Job   tracker.Job `json:"job"`
}

func (h *HookApplier) Apply(ctx context.Context, job tracker.Job) (Proof, error) {
	payload, err := json.Marshal(hookRequest{Index: job.Index, Job: job})
	if err != nil {
		return nil, fmt.Errorf("encode hook request: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.Path, h.Args...)
	cmd.WaitDelay = h.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultHookWaitDelay
	}
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil {
		// the hook exited cleanly but a child it left behind still holds
		// the output pipes; what was printed so far is the proof
		log.Warn("Apply hook %s left a process running after it exited", h.Path)
		err = nil
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("hook %s: %w: %s", h.Path, err, msg)
		}
		return nil, fmt.Errorf("hook %s: %w", h.Path, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return Proof{}, nil
	}
	var proof Proof
	if err := json.Unmarshal(out, &proof); err != nil {
		return nil, fmt.Errorf("hook %s printed invalid proof: %w", h.Path, err)
	}
	if proof == nil {
		proof = Proof{}
	}
	return proof, nil
}
