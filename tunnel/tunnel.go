// Package tunnel runs a cloudflared sidecar exposing the application publicly.
//
// With a token the sidecar joins a pre-provisioned tunnel whose hostname is known upfront.
// Without one it asks for an ephemeral quick tunnel and the assigned hostname is scraped
// from the sidecar's log output.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/aexvir/launchpad"
	"github.com/aexvir/launchpad/supervise"
)

// QuickTunnelURL matches the hostname cloudflared logs for ephemeral tunnels.
var QuickTunnelURL = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

var ErrNoURL = errors.New("sidecar stopped before reporting a public url")

// Options for the sidecar.
type Options struct {
	// Binary is the cloudflared executable.
	Binary string
	// Port the application listens on locally.
	Port int
	// Token of a pre-provisioned tunnel; empty requests a quick tunnel.
	Token string
	// Domain served by the pre-provisioned tunnel, only used for display.
	Domain string
	// Ownership of the sidecar process, [supervise.Disowned] keeps it running after the launcher exits.
	Ownership supervise.Ownership
	// LogFile receives the sidecar output, cloudflared.log next to the binary when empty.
	// The sidecar never writes to a pipe, so it outlives the launcher reading its output.
	LogFile string
}

// Args builds the cloudflared command line.
func Args(opts Options) []string {
	if opts.Token != "" {
		return []string{"tunnel", "--no-autoupdate", "run", "--token", opts.Token}
	}
	return []string{"tunnel", "--no-autoupdate", "--url", "http://localhost:" + strconv.Itoa(opts.Port)}
}

// Sidecar is a running cloudflared.
type Sidecar struct {
	Process *supervise.Process

	// LogFile holds everything the sidecar printed.
	LogFile string

	found    chan struct{}
	scanned  chan struct{}
	released chan struct{}
	once     sync.Once
	release  sync.Once
	url      string
}

// Start spawns the sidecar. For pinned tunnels the public url is printed right away,
// for quick tunnels once cloudflared reports it.
func Start(ctx context.Context, opts Options) (*Sidecar, error) {
	if opts.Binary == "" {
		return nil, errors.New("cloudflared binary path is required")
	}
	if opts.Token == "" && opts.Port <= 0 {
		return nil, fmt.Errorf("invalid local port %d", opts.Port)
	}

	launchpad.LogStep("starting tunnel")

	logfile := opts.LogFile
	if logfile == "" {
		logfile = filepath.Join(filepath.Dir(opts.Binary), "cloudflared.log")
	}
	if err := os.MkdirAll(filepath.Dir(logfile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sidecar log directory: %w", err)
	}
	out, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sidecar log: %w", err)
	}
	// the child keeps its own descriptor
	defer out.Close()

	proc := supervise.NewProcess(supervise.Spec{Command: opts.Binary, Args: Args(opts)}, opts.Ownership)
	proc.Stdout = out
	proc.Stderr = out

	sidecar := &Sidecar{
		Process:  proc,
		LogFile:  logfile,
		found:    make(chan struct{}),
		scanned:  make(chan struct{}),
		released: make(chan struct{}),
	}

	if err := proc.Start(ctx); err != nil {
		return nil, err
	}
	launchpad.LogDetail(fmt.Sprintf("cloudflared running with pid %d (%s)", proc.Pid(), opts.Ownership))
	log.WithField("file", logfile).Debug("sidecar output")

	if opts.Token != "" {
		if opts.Domain != "" {
			sidecar.report("https://" + strings.TrimPrefix(opts.Domain, "https://"))
		} else {
			launchpad.LogDetail("tunnel token configured, public hostname is managed in the cloudflare dashboard")
		}
	}

	reader, err := follow(logfile, proc.Done(), sidecar.released)
	if err != nil {
		log.WithError(err).Warn("can't read sidecar output")
		close(sidecar.scanned)
		return sidecar, nil
	}

	go func() {
		defer close(sidecar.scanned)
		defer reader.Close()

		Scan(reader, func(url string) {
			if opts.Token == "" {
				sidecar.report(url)
			}
		})
	}()

	return sidecar, nil
}

// Release stops following the sidecar output; the sidecar keeps running and logging
// to its file. Safe to call more than once.
func (s *Sidecar) Release() {
	s.release.Do(func() { close(s.released) })
}

// WaitURL blocks until the public url is known, the sidecar output is no longer
// followed or ctx ends.
func (s *Sidecar) WaitURL(ctx context.Context) (string, error) {
	select {
	case <-s.found:
		return s.url, nil
	case <-s.scanned:
		// the url may have been reported by the last lines read
		select {
		case <-s.found:
			return s.url, nil
		default:
			return "", ErrNoURL
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Sidecar) report(url string) {
	s.once.Do(func() {
		s.url = url
		close(s.found)
		launchpad.Banner("public url", url)
	})
}

// Scan reads the sidecar output line by line, logging every line, and calls found
// exactly once with the first quick tunnel url. Returns when r is exhausted.
func Scan(r io.Reader, found func(url string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	reported := false
	for scanner.Scan() {
		line := scanner.Text()
		log.WithField("sidecar", "cloudflared").Debug(line)

		if reported {
			continue
		}
		if url := QuickTunnelURL.FindString(line); url != "" {
			reported = true
			found(url)
		}
	}

	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("stopped reading sidecar output")
	}
}
