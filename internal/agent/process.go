package agent

import (
	"os/exec"
	"sync"
)

// ProcessInfo records one spawned child process. Index is
// its stable, dense, zero-based position in the registry; ExitCode is nil
// until the process has been observed to exit.
type ProcessInfo struct {
	Index int
	Cmd   []string
	Pure  bool

	mu       sync.Mutex
	exitCode *int
	proc     *exec.Cmd
}

// Poll reports whether the process has exited and, if so, its exit code.
func (p *ProcessInfo) Poll() (exited bool, code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode == nil {
		return false, 0
	}
	return true, *p.exitCode
}

func (p *ProcessInfo) setExitCode(code int) {
	p.mu.Lock()
	p.exitCode = &code
	p.mu.Unlock()
}

// ProcessRegistry assigns stable, monotonically increasing indices to
// spawned processes and tracks their completion. It never shrinks — indices
// stay valid (and ProcessInfo reachable) for the registry's whole lifetime,
// which is in-memory only and does not survive a restart.
type ProcessRegistry struct {
	mu    sync.Mutex
	procs []*ProcessInfo
}

// Start spawns cmd (argv form, no shell involved) and registers it under the
// next dense index.
func (r *ProcessRegistry) Start(cmd []string, pure bool) (*ProcessInfo, error) {
	if len(cmd) == 0 {
		return nil, exec.ErrNotFound
	}

	ec := exec.Command(cmd[0], cmd[1:]...)

	r.mu.Lock()
	pi := &ProcessInfo{Index: len(r.procs), Cmd: cmd, Pure: pure, proc: ec}
	r.procs = append(r.procs, pi)
	r.mu.Unlock()

	if err := ec.Start(); err != nil {
		pi.setExitCode(-1)
		return pi, err
	}

	go func() {
		err := ec.Wait()
		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		pi.setExitCode(code)
	}()

	return pi, nil
}

// At returns the ProcessInfo at idx, or ok=false if idx is out of range.
func (r *ProcessRegistry) At(idx int) (*ProcessInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.procs) {
		return nil, false
	}
	return r.procs[idx], true
}

// Len returns the current number of registered processes.
func (r *ProcessRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}
