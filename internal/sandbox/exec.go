package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m-wirth/kabine/internal/demux"
)

type ExecOpts struct {
	// TimeoutMs bounds how long the channel waits for the stream to end.
	// Zero or out-of-range values fall back to the configured maximum.
	TimeoutMs int
}

type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	Partial    bool   `json:"partial"`
	DurationMs int64  `json:"duration_ms"`
}

// Exec runs a shell command inside the user's sandbox and captures its
// demultiplexed output.
//
// The timeout is deliberately non-strict: when it fires, the result
// carries whatever output arrived so far with Partial=true and
// ExitCode=-1 instead of an error. The command keeps running inside the
// sandbox; callers that need hard cancellation go through the session
// registry's abort path.
func (m *Manager) Exec(ctx context.Context, userID, command string, opts ExecOpts) (*ExecResult, error) {
	rec, err := m.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 || timeoutMs > m.cfg.Defaults.MaxExecTimeoutMs {
		timeoutMs = m.cfg.Defaults.MaxExecTimeoutMs
	}

	start := time.Now()
	// Short correlation ref for log lines; the runtime's exec id is not
	// known until after create.
	ref := uuid.New().String()[:8]

	execID, err := m.runtime.CreateExec(ctx, rec.ContainerID, []string{"/bin/sh", "-lc", command})
	if err != nil {
		return nil, &ConnectError{ContainerID: rec.ContainerID, Err: err}
	}
	stream, err := m.runtime.AttachExec(ctx, execID)
	if err != nil {
		return nil, &ConnectError{ContainerID: rec.ContainerID, Err: err}
	}
	defer stream.Close()

	m.logger.Debug("exec started",
		"user_id", userID, "exec_ref", ref, "timeout_ms", timeoutMs)

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := demux.Copy(&stdout, &stderr, stream)
		done <- copyErr
	}()

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()

	partial := false
	select {
	case copyErr := <-done:
		if copyErr != nil {
			return nil, fmt.Errorf("exec read: %w", copyErr)
		}
	case <-timer.C:
		// Stop reading and keep what arrived. Closing the stream
		// unblocks the copier; its error is expected and dropped.
		partial = true
		stream.Close()
		<-done
		m.logger.Warn("exec timed out, returning partial output",
			"user_id", userID, "exec_ref", ref, "timeout_ms", timeoutMs)
	case <-ctx.Done():
		stream.Close()
		<-done
		return nil, ctx.Err()
	}

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   -1,
		Partial:    partial,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if !partial {
		if st, err := m.runtime.InspectExec(ctx, execID); err == nil && !st.Running {
			result.ExitCode = st.ExitCode
		}
	}
	return result, nil
}

// failureIndicators are the stderr fragments higher-level callers use to
// classify an otherwise successful exec as a logical failure. The exec
// channel itself never interprets command semantics.
var failureIndicators = []string{
	"cannot",
	"permission denied",
	"no such file",
}

// LooksLikeFailure reports whether captured stderr text contains a known
// failure indicator.
func LooksLikeFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, indicator := range failureIndicators {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}
