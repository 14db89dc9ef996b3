// Package term runs interactive terminal processes on a PTY. It backs
// terminal sessions that run on the host rather than inside a sandbox
// container (the containerized equivalent is docker.TTYSession).
package term

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

type Options struct {
	Dir  string
	Env  []string
	Rows uint16
	Cols uint16
}

// Session is one PTY-attached process. Read and Write talk to the
// terminal; Interrupt and Kill signal the process, satisfying the
// session registry's handle contract.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// Start launches command under a PTY.
func Start(command string, args []string, opts Options) (*Session, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("pty start: %w", err)
	}

	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = 40
	}
	if cols == 0 {
		cols = 120
	}
	pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols})

	s := &Session{
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()
	return s, nil
}

func (s *Session) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

func (s *Session) Write(p []byte) (int, error) {
	return s.ptmx.Write(p)
}

// Resize adjusts the terminal dimensions.
func (s *Session) Resize(rows, cols uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Interrupt sends SIGINT to the process. Best-effort: the process may
// take arbitrarily long to react, or ignore it.
func (s *Session) Interrupt() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(syscall.SIGINT)
}

// Kill sends SIGKILL to the process.
func (s *Session) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Done is closed once the process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the process exits and returns its wait error.
func (s *Session) Wait() error {
	<-s.done
	return s.waitErr
}

// Running reports whether the process is still alive.
func (s *Session) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close kills the process if still running and releases the PTY.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.Running() {
			s.Kill()
		}
		err = s.ptmx.Close()
	})
	return err
}
