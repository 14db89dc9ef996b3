package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

// TTYSession is an interactive shell exec inside a sandbox container. It
// exposes the raw duplex stream (no multiplexing headers in TTY mode)
// plus resize and best-effort interrupt/kill, so it can be tracked as a
// terminal session handle.
type TTYSession struct {
	execID string
	hr     types.HijackedResponse
	docker *Client
}

// AttachTTY starts cmd inside the container with an allocated terminal
// and returns the attached session. The caller owns the session and must
// close it.
func (c *Client) AttachTTY(ctx context.Context, containerID string, cmd []string) (*TTYSession, error) {
	if len(cmd) == 0 {
		cmd = []string{"/bin/bash"}
	}

	resp, err := c.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/workspace",
		Env:          []string{"TERM=xterm-256color"},
	})
	if err != nil {
		return nil, fmt.Errorf("tty exec create: %w", err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{
		Tty: true,
	})
	if err != nil {
		return nil, fmt.Errorf("tty exec attach: %w", err)
	}

	return &TTYSession{execID: resp.ID, hr: attach, docker: c}, nil
}

func (t *TTYSession) Read(p []byte) (int, error) {
	return t.hr.Reader.Read(p)
}

func (t *TTYSession) Write(p []byte) (int, error) {
	return t.hr.Conn.Write(p)
}

// Resize adjusts the terminal dimensions.
func (t *TTYSession) Resize(ctx context.Context, rows, cols uint) error {
	return t.docker.docker.ContainerExecResize(ctx, t.execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	})
}

// Interrupt sends ETX to the terminal, which the line discipline turns
// into SIGINT for the foreground process group.
func (t *TTYSession) Interrupt() error {
	_, err := t.hr.Conn.Write([]byte{0x03})
	return err
}

// Kill tears down the attach connection. The shell inside the container
// sees EOF on its terminal and exits; this is best-effort, the process
// may outlive the call briefly.
func (t *TTYSession) Kill() error {
	t.hr.Close()
	return nil
}

func (t *TTYSession) Close() error {
	t.hr.Close()
	return nil
}

// Running reports whether the exec process is still alive.
func (t *TTYSession) Running(ctx context.Context) (bool, error) {
	st, err := t.docker.InspectExec(ctx, t.execID)
	if err != nil {
		return false, err
	}
	return st.Running, nil
}
