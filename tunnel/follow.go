package tunnel

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// pollInterval bounds how long a follower waits for output when no write event arrives.
const pollInterval = 500 * time.Millisecond

// follower reads a log file another process keeps appending to, like tail -f.
// Reads block at the end of the file until more data is written, the writer exits
// or following is released.
type follower struct {
	file    *os.File
	watcher *fsnotify.Watcher

	exited   <-chan struct{}
	released <-chan struct{}
}

func follow(path string, exited, released <-chan struct{}) (*follower, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f := &follower{file: file, exited: exited, released: released}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Debug("file watcher unavailable, polling sidecar log")
		return f, nil
	}
	if err := watcher.Add(path); err != nil {
		log.WithError(err).Debug("file watcher unavailable, polling sidecar log")
		_ = watcher.Close()
		return f, nil
	}
	f.watcher = watcher

	return f, nil
}

func (f *follower) Read(p []byte) (int, error) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if f.watcher != nil {
		events = f.watcher.Events
		errs = f.watcher.Errors
	}

	for {
		n, err := f.file.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}

		select {
		case <-f.released:
			return 0, io.EOF
		case <-f.exited:
			// output written right before exiting
			if n, _ := f.file.Read(p); n > 0 {
				return n, nil
			}
			return 0, io.EOF
		case <-events:
		case err := <-errs:
			log.WithError(err).Debug("watching sidecar log")
		case <-time.After(pollInterval):
		}
	}
}

func (f *follower) Close() error {
	if f.watcher != nil {
		_ = f.watcher.Close()
	}
	return f.file.Close()
}
