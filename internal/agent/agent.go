// Package agent implements the agent state machine and HTTP routes:
// workspace I/O, the process registry, persisted identity, and the
// handlers that sit behind internal/server's HTTP/1.1 engine.
package agent

import (
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// Agent is the single owned aggregate shared by every connection: constructed
// once in main and shared (read-mostly) by every connection handler, with
// mutation going through mu.
type Agent struct {
	Identity  Identity
	ImageName string
	Workspace string
	StopCmd   string

	logger *zap.Logger

	mu       sync.Mutex
	status   Status
	stopping bool
	stopErr  error
	registry ProcessRegistry
}

// New constructs an Agent over an already-loaded Identity. It does not touch
// the filesystem: the workspace directory is created by the caller (main)
// before New is called.
func New(id Identity, imageName, workspace, stopCmd string, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		Identity:  id,
		ImageName: imageName,
		Workspace: workspace,
		StopCmd:   stopCmd,
		logger:    logger,
		status:    StatusClean,
	}
}

// StatusText reports the agent's current textual status, combining the
// stopping flag the way TextStatus documents.
func (a *Agent) StatusText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return TextStatus(a.status, a.stopping)
}

// MarkUnpure moves the agent's status to unpure; called once a non-pure
// process has been started.
func (a *Agent) MarkUnpure() {
	a.mu.Lock()
	a.status = StatusUnpure
	a.mu.Unlock()
}

// StopResult is what POST /image/stop needs to answer the request: whether
// a stop command was configured at all. An agent with no configured stop
// command cannot be asked to stop.
type StopResult struct {
	Configured bool
}

// Stop transitions stopping from false to true and runs the configured stop
// command exactly once; it never returns an error to the caller — any
// failure launching the command is captured for later inspection instead,
// since POST /image/stop itself must never fail.
func (a *Agent) Stop() StopResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.StopCmd == "" {
		return StopResult{Configured: false}
	}

	if !a.stopping {
		a.stopping = true
		if err := exec.Command("sh", "-c", a.StopCmd).Run(); err != nil {
			a.stopErr = err
			a.logger.Warn("stop command failed", zap.String("cmd", a.StopCmd), zap.Error(err))
		}
	}
	return StopResult{Configured: true}
}

// StartProcess spawns cmd and registers it; a non-pure process immediately
// flips the agent's status to unpure.
func (a *Agent) StartProcess(cmd []string, pure bool) (*ProcessInfo, error) {
	pi, err := a.registry.Start(cmd, pure)
	if pi != nil && !pure {
		a.MarkUnpure()
	}
	return pi, err
}

// Process returns the registered process at idx, if any.
func (a *Agent) Process(idx int) (*ProcessInfo, bool) {
	return a.registry.At(idx)
}

// Logger returns the agent's structured logger for use by callers (e.g.
// internal/server's connection loop) that want the same sink.
func (a *Agent) Logger() *zap.Logger { return a.logger }
