// Package supervise runs the installed application as a child of the launcher.
//
// The launcher's exit code mirrors the child's, so the process tree behaves like the
// application itself to whatever started the launcher (a container runtime, systemd,
// a shell). Sidecars that must not share that fate are started as [Disowned] processes.
package supervise

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aexvir/launchpad"
)

// Run spawns spec in the foreground and blocks until it exits.
// SIGINT and SIGTERM received meanwhile are forwarded to the child, which decides when to exit.
// Returns nil on exit code 0, [*ExitError] on any other code and an error wrapping
// [ErrSpawn] when the child couldn't be started at all.
func Run(ctx context.Context, spec Spec) error {
	launchpad.LogStep("starting application")
	launchpad.LogDetail(strings.TrimSpace(spec.Command + " " + strings.Join(spec.Args, " ")))

	proc := NewProcess(spec, Owned)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := proc.Start(ctx); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case sig := <-signals:
				log.WithFields(log.Fields{"signal": sig, "pid": proc.Pid()}).Info("forwarding signal")
				if err := proc.Signal(sig); err != nil {
					log.WithError(err).Warn("failed to forward signal")
				}
			case <-proc.Done():
				return
			}
		}
	}()

	err := proc.Wait()
	log.WithField("pid", proc.Pid()).WithError(err).Info("application exited")
	return err
}

// KeepAlive logs message every interval until ctx ends. It keeps the launcher around
// while the only work left is done by disowned processes.
func KeepAlive(ctx context.Context, interval time.Duration, message string) error {
	if interval <= 0 {
		interval = time.Minute
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			log.WithField("uptime", time.Since(start).Round(time.Second)).Info(message)
		}
	}
}
