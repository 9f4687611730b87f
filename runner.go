package launchpad

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
)

// stderrTail is how many trailing stderr lines of a failed command are kept for diagnosis.
const stderrTail = 20

// TaskRunner runs one install command, e.g. npm, with the launcher's streams.
// Commands never read from the launcher's stdin.
type TaskRunner struct {
	Executable string
	Arguments  []string

	cmd    *exec.Cmd
	errmsg string
	quiet  bool
}

// Cmd builds a command runner for a specific Executable.
// Relative executable paths are resolved against the current working directory,
// so they keep pointing at the same file when combined with [WithDir].
func Cmd(ctx context.Context, executable string, opts ...RunnerOpt) (*TaskRunner, error) {
	if strings.ContainsRune(executable, filepath.Separator) && !filepath.IsAbs(executable) {
		abs, err := filepath.Abs(executable)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", executable, err)
		}
		executable = abs
	}

	cmd := exec.CommandContext(ctx, executable)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	r := TaskRunner{
		Executable: executable,
		cmd:        cmd,
	}

	for _, opt := range opts {
		if err := opt(&r); err != nil {
			return nil, err
		}
	}

	cmd.Args = append([]string{executable}, r.Arguments...)

	return &r, nil
}

// Exec runs the command, printing its timing unless silenced.
// On failure the error carries the last stderr line and the preceding ones go to the
// diagnostic log.
func (r *TaskRunner) Exec() (err error) {
	name := filepath.Base(r.Executable)
	line := strings.TrimSpace(name + " " + strings.Join(r.Arguments, " "))

	start := time.Now()
	defer func() {
		if r.quiet {
			return
		}
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			color.Red("     ✘ %s", elapsed)
			return
		}
		color.Green("     ✔ %s", elapsed)
	}()

	if !r.quiet {
		LogDetail(line)
	}
	log.WithFields(log.Fields{"command": line, "dir": r.cmd.Dir}).Debug("running command")

	tail := &tailWriter{max: stderrTail}
	if r.cmd.Stderr != nil {
		r.cmd.Stderr = io.MultiWriter(r.cmd.Stderr, tail)
	} else {
		r.cmd.Stderr = tail
	}

	runerr := r.cmd.Run()
	if runerr == nil {
		return nil
	}

	lines := tail.Lines()
	for _, l := range lines {
		log.WithField("command", name).Error(l)
	}

	if !r.quiet && r.errmsg != "" {
		color.Red("     %s", r.errmsg)
	}

	if len(lines) > 0 {
		return fmt.Errorf("%s: %w: %s", name, runerr, lines[len(lines)-1])
	}
	return fmt.Errorf("%s: %w", name, runerr)
}

// Run builds and executes a command in one go.
func Run(ctx context.Context, program string, opts ...RunnerOpt) error {
	rnr, err := Cmd(ctx, program, opts...)
	if err != nil {
		return err
	}

	return rnr.Exec()
}

// RunnerOpt allows customizing the behavior of the command runner.
type RunnerOpt func(r *TaskRunner) error

// WithEnv overlays environment variables on top of the current process environment.
// Later values win over earlier ones and over the inherited environment.
func WithEnv(vars ...string) RunnerOpt {
	return func(r *TaskRunner) error {
		if r.cmd.Env == nil {
			r.cmd.Env = os.Environ()
		}
		for _, vrb := range vars {
			if name, _, ok := strings.Cut(vrb, "="); !ok || name == "" {
				return fmt.Errorf("invalid env format; %s doesn't match NAME=value expectation", vrb)
			}
		}
		// exec keeps the last value of duplicated names
		r.cmd.Env = append(r.cmd.Env, vars...)
		return nil
	}
}

// WithArgs command arguments.
func WithArgs(args ...string) RunnerOpt {
	return func(r *TaskRunner) error {
		r.Arguments = args
		return nil
	}
}

// WithErrMsg sets a message printed below the step when the command fails.
func WithErrMsg(msg string) RunnerOpt {
	return func(r *TaskRunner) error {
		r.errmsg = msg
		return nil
	}
}

// WithDir runs the command inside dir, resolved to an absolute path upfront.
func WithDir(dir string) RunnerOpt {
	return func(r *TaskRunner) error {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve dir %s: %w", dir, err)
		}
		r.cmd.Dir = abs
		return nil
	}
}

// WithoutNoise silences the command and its console lines; stderr is still kept
// for the error.
func WithoutNoise() RunnerOpt {
	return func(r *TaskRunner) error {
		r.quiet = true
		r.cmd.Stdout = nil
		r.cmd.Stderr = nil
		return nil
	}
}

// WithStdOut redirects the command's stdout.
func WithStdOut(w io.Writer) RunnerOpt {
	return func(r *TaskRunner) error {
		r.cmd.Stdout = w
		return nil
	}
}

// tailWriter keeps the last max non-empty lines written to it.
type tailWriter struct {
	max     int
	lines   []string
	partial []byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.partial = append(t.partial, p...)
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		t.push(string(t.partial[:i]))
		t.partial = t.partial[i+1:]
	}
	return len(p), nil
}

func (t *tailWriter) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

// Lines flushes an unterminated last line and returns what's kept.
func (t *tailWriter) Lines() []string {
	if len(t.partial) > 0 {
		t.push(string(t.partial))
		t.partial = nil
	}
	return t.lines
}
