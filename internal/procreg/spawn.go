package procreg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// SpawnOptions describes a process to start. When Path is empty, Command is
// run through the platform shell.
type SpawnOptions struct {
	Command    string
	Path       string
	Args       []string
	Cwd        string
	Env        []string
	Stdin      io.Reader
	Background bool

	// OnOutput receives every chunk as it is read. It is called from the
	// stdout and stderr reader goroutines concurrently.
	OnOutput func(stream Stream, chunk string)
}

// Process is a handle to a spawned session.
type Process struct {
	ID   string
	PID  int
	done chan struct{}
	snap Snapshot
	err  error
}

// Done is closed once the process has exited and its session is settled.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits and returns its final snapshot. The
// error is the spawn context's cause when the process was killed because
// the context ended, otherwise nil; a non-zero exit code is not an error.
func (p *Process) Wait() (Snapshot, error) {
	<-p.done
	return p.snap, p.err
}

const readChunkSize = 4096

// Spawn starts a process, registers it as a session, and streams its output
// into the registry. If ctx ends before the process exits, its whole process
// tree is killed; background spawns ignore ctx cancellation.
func (r *Registry) Spawn(ctx context.Context, opts SpawnOptions) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("procreg: spawn: %w", context.Cause(ctx))
	}

	var cmd *exec.Cmd
	display := opts.Command
	if opts.Path != "" {
		cmd = exec.Command(opts.Path, opts.Args...)
		if display == "" {
			display = joinArgs(opts.Path, opts.Args)
		}
	} else {
		if opts.Command == "" {
			return nil, errors.New("procreg: spawn: empty command")
		}
		cmd = shellCommand(opts.Command)
	}
	cmd.Dir = opts.Cwd
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	cmd.Stdin = opts.Stdin
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("procreg: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("procreg: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procreg: start %q: %w", display, err)
	}

	id := r.Create(CreateOptions{Command: display, Cwd: opts.Cwd, Backgrounded: opts.Background})
	r.attach(id, func(s *session) {
		s.cmd = cmd
		s.release = func() { _ = cmd.Process.Release() }
	})

	p := &Process{ID: id, PID: cmd.Process.Pid, done: make(chan struct{})}

	var readers sync.WaitGroup
	readers.Add(2)
	go r.pump(&readers, id, Stdout, stdout, opts.OnOutput)
	go r.pump(&readers, id, Stderr, stderr, opts.OnOutput)

	exited := make(chan struct{})
	var killedBy error
	var killMu sync.Mutex
	if !opts.Background {
		go func() {
			select {
			case <-ctx.Done():
				killMu.Lock()
				killedBy = context.Cause(ctx)
				killMu.Unlock()
				if err := KillProcessTree(p.PID, DefaultGracePeriod); err != nil {
					r.logger.Warn("procreg: kill on cancel failed", "session", id, "pid", p.PID, "error", err)
				}
			case <-exited:
			}
		}()
	}

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		close(exited)

		if waitErr != nil && cmd.ProcessState == nil {
			r.logger.Warn("procreg: wait failed", "session", id, "error", waitErr)
		}
		code, sig := exitStatus(cmd)
		snap, err := r.MarkExited(id, code, sig)
		if err != nil {
			r.logger.Warn("procreg: mark exited", "session", id, "error", err)
		}
		p.snap = snap
		killMu.Lock()
		p.err = killedBy
		killMu.Unlock()
		close(p.done)
	}()

	return p, nil
}

func (r *Registry) pump(wg *sync.WaitGroup, id string, stream Stream, rd io.Reader, onOutput func(Stream, string)) {
	defer wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			r.AppendOutput(id, stream, chunk)
			if onOutput != nil {
				onOutput(stream, chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

func exitStatus(cmd *exec.Cmd) (int, string) {
	if cmd.ProcessState == nil {
		return -1, ""
	}
	return cmd.ProcessState.ExitCode(), exitSignal(cmd.ProcessState)
}

func joinArgs(path string, args []string) string {
	out := path
	for _, a := range args {
		out += " " + a
	}
	return out
}
