package supervise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultGrace is how long [Process.Stop] waits after asking the process to terminate
// before killing it.
const DefaultGrace = 10 * time.Second

const waitDelay = 2 * time.Second

var (
	ErrSpawn      = errors.New("failed to spawn process")
	ErrNotStarted = errors.New("process not started")
)

// Ownership decides whether a process lives and dies with the launcher.
// Either way the process runs in its own process group.
type Ownership int

const (
	// Owned processes are stopped when the context passed to Start is cancelled,
	// and the launcher is expected to Wait on them.
	Owned Ownership = iota
	// Disowned processes outlive the launcher; cancelling the start context
	// doesn't touch them.
	Disowned
)

func (o Ownership) String() string {
	if o == Disowned {
		return "disowned"
	}
	return "owned"
}

// Spec describes the process to spawn.
type Spec struct {
	// Dir is the working directory; empty means the launcher's.
	Dir string
	// Command is the executable, either a bare name looked up in PATH or a path.
	Command string
	Args    []string
	// Env is overlaid on the launcher's environment, NAME=value entries, later ones win.
	Env []string
}

// ExitError reports a process that exited with a non zero code.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// ExitCode is the code the launcher mirrors, see [launchpad.Exit].
func (e *ExitError) ExitCode() int {
	return e.Code
}

// ChildExit marks the error as the supervised application's own exit.
func (e *ExitError) ChildExit() {}

// Process is a handle on a spawned child.
type Process struct {
	Spec      Spec
	Ownership Ownership

	// Streams default to the launcher's own when nil; disowned processes get no stdin.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	cmd  *exec.Cmd
	done chan struct{}
	err  error
	once sync.Once
}

// NewProcess prepares a process; nothing runs until Start.
func NewProcess(spec Spec, ownership Ownership) *Process {
	return &Process{Spec: spec, Ownership: ownership}
}

// Start spawns the process. Failures to spawn wrap [ErrSpawn].
func (p *Process) Start(ctx context.Context) error {
	if p.cmd != nil {
		return errors.New("process already started")
	}

	env, err := Environ(os.Environ(), p.Spec.Env...)
	if err != nil {
		return err
	}

	command := p.Spec.Command
	if strings.ContainsRune(command, filepath.Separator) && !filepath.IsAbs(command) {
		if command, err = filepath.Abs(command); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSpawn, p.Spec.Command, err)
		}
	}

	cmd := exec.Command(command, p.Spec.Args...)
	cmd.Dir = p.Spec.Dir
	cmd.Env = env
	// grandchildren holding on to captured streams must not block Wait forever
	cmd.WaitDelay = waitDelay
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// own process group: terminal signals stay with the launcher, which forwards
	// them to owned processes exactly once
	ownGroup(cmd)
	if p.Ownership == Owned && cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSpawn, p.Spec.Command, err)
	}

	p.cmd = cmd
	p.done = make(chan struct{})

	log.WithFields(log.Fields{
		"pid":       cmd.Process.Pid,
		"command":   p.Spec.Command,
		"ownership": p.Ownership,
	}).Debug("process started")

	go func() {
		p.err = cmd.Wait()
		close(p.done)
		log.WithFields(log.Fields{"pid": cmd.Process.Pid, "command": p.Spec.Command}).
			WithError(p.err).Debug("process exited")
	}()

	if p.Ownership == Owned {
		go func() {
			select {
			case <-ctx.Done():
				_ = p.Stop(DefaultGrace)
			case <-p.done:
			}
		}()
	}

	return nil
}

// Pid of the running process, 0 when not started.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits. A non zero exit is reported as [*ExitError].
// Safe to call more than once.
func (p *Process) Wait() error {
	if p.cmd == nil {
		return ErrNotStarted
	}
	<-p.done

	if p.err == nil {
		return nil
	}

	var exiterr *exec.ExitError
	if errors.As(p.err, &exiterr) {
		return &ExitError{Command: p.Spec.Command, Code: exitCode(exiterr.ProcessState)}
	}
	return fmt.Errorf("%s: %w", p.Spec.Command, p.err)
}

// Signal delivers sig to the process if it's still running.
func (p *Process) Signal(sig os.Signal) error {
	if p.cmd == nil {
		return ErrNotStarted
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Signal(sig)
}

// Stop asks the process to terminate and kills it if it's still around after grace.
func (p *Process) Stop(grace time.Duration) error {
	if p.cmd == nil {
		return ErrNotStarted
	}

	var err error
	p.once.Do(func() {
		if serr := p.Signal(syscall.SIGTERM); serr != nil {
			// platforms without SIGTERM
			err = p.cmd.Process.Kill()
			return
		}

		select {
		case <-p.done:
		case <-time.After(grace):
			log.WithField("pid", p.Pid()).Warn("process ignored termination, killing it")
			err = p.cmd.Process.Kill()
		}
	})

	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Environ overlays vars on base. Each variable appears once in the result, overridden
// ones keep their position and new ones are appended in order.
func Environ(base []string, vars ...string) ([]string, error) {
	env := make([]string, 0, len(base)+len(vars))
	index := make(map[string]int, len(base)+len(vars))

	set := func(entry string) {
		name, _, _ := strings.Cut(entry, "=")
		if pos, ok := index[name]; ok {
			env[pos] = entry
			return
		}
		index[name] = len(env)
		env = append(env, entry)
	}

	for _, entry := range base {
		set(entry)
	}
	for _, entry := range vars {
		name, _, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid env format; %s doesn't match NAME=value expectation", entry)
		}
		set(entry)
	}

	return env, nil
}

// exitCode follows the shell convention for processes killed by a signal.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	if code := state.ExitCode(); code > 0 {
		return code
	}
	return 1
}
