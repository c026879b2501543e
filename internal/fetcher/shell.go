package fetcher

import (
	"bytes"
	"context"
	"os/exec"
)

// ShellEngine runs a user-provided shell command and treats its stdout
// as the fetched body — an escape hatch for sources a user scrapes with
// their own tooling (curl behind auth, a local script, etc).
type ShellEngine struct{}

// NewShellEngine builds a ShellEngine.
func NewShellEngine() *ShellEngine { return &ShellEngine{} }

func (e *ShellEngine) Fetch(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", req.Shell)
	cmd.Env = append(cmd.Env, "KTO_URL="+req.URL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := runWithEscalation(ctx, cmd)
	if ctx.Err() != nil {
		return nil, &FetchError{Kind: ErrTimeout, Err: ctx.Err()}
	}
	if err != nil {
		return nil, &FetchError{Kind: ErrSubprocessFailed, Err: err}
	}

	body, err := readCapped(&stdout, maxBodyBytes)
	if err != nil {
		if fe, ok := err.(*FetchError); ok {
			return nil, fe
		}
		return nil, &FetchError{Kind: ErrSubprocessFailed, Err: err}
	}
	return &Result{Body: body, ContentHash: hashBody(body)}, nil
}
