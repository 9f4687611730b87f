package launchpad

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
)

// Launcher runs the bootstrap tasks of an application, the launcher can be customized with
// pre- and post- execution hook functions, where common functionality to all runs
// can be defined.
type Launcher struct {
	PreExecHook  Task
	PostExecHook Task
}

// New constructs a launcher.
func New(opts ...Option) *Launcher {
	l := Launcher{
		PreExecHook:  func(_ context.Context) error { return nil },
		PostExecHook: func(_ context.Context) error { return nil },
	}

	for _, opt := range opts {
		opt(&l)
	}

	return &l
}

// Execute a list of tasks inside the launcher.
// Tasks run sequentially and the first failing task aborts the whole run; the remaining
// tasks are never started. The post exec hook only runs when every task succeeded.
func (l *Launcher) Execute(ctx context.Context, tasks ...Task) error {
	start := time.Now()

	fmt.Printf("\n")

	if err := l.PreExecHook(ctx); err != nil {
		return fmt.Errorf("failed to initialize launcher: %w", err)
	}

	for i := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := tasks[i](ctx); err != nil {
			elapsed := time.Since(start).Round(time.Millisecond)
			color.New(color.FgHiBlack).Printf("------------------------\n\n")
			color.Red(" ✘ bootstrap aborted after %s", elapsed)
			color.Red("   • %s\n\n", err.Error())
			return err
		}
	}

	if err := l.PostExecHook(ctx); err != nil {
		return fmt.Errorf("failed to run post exec hook: %w", err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	color.New(color.FgHiBlack).Printf("------------------------\n\n")
	color.Green(" ✔ ready after %s\n\n", elapsed)

	return nil
}

// Task defines the basic function that the launcher executes.
// Additional configuration and tweaks can be done by using closures which return
// Tasks.
type Task func(ctx context.Context) error

type Option func(l *Launcher)

// WithPreExecFunc allows specifying a task that will be run every execution, before the
// specific execution tasks are run.
func WithPreExecFunc(hook Task) Option {
	return func(l *Launcher) {
		l.PreExecHook = hook
	}
}

// WithPostExecFunc allows specifying a task that will be run after all tasks succeeded.
func WithPostExecFunc(hook Task) Option {
	return func(l *Launcher) {
		l.PostExecHook = hook
	}
}

// Step wraps a task so it is announced with a step line and closed with its timing.
func Step(title string, task Task) Task {
	return func(ctx context.Context) (err error) {
		start := time.Now()
		defer func() {
			elapsed := time.Since(start).Round(time.Millisecond)
			if err != nil {
				color.Red(" ✘ %s\n\n", elapsed)
				return
			}
			color.Green(" ✔ %s\n\n", elapsed)
		}()

		LogStep(title)
		return task(ctx)
	}
}

// When returns the task only if the condition holds at execution time,
// otherwise the task is skipped and the skip message, if any, is printed.
func When(cond func() bool, task Task, skipmsg string) Task {
	return func(ctx context.Context) error {
		if !cond() {
			if skipmsg != "" {
				LogStep(skipmsg)
			}
			return nil
		}
		return task(ctx)
	}
}
