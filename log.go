package launchpad

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogStep prints a top level progress line.
func LogStep(text string) {
	fmt.Println(
		color.MagentaString(" ⌘"),
		color.New(color.Bold).Sprint(text),
	)
}

// LogDetail prints a line nested under the current step.
func LogDetail(text string) {
	fmt.Println(
		color.New(color.FgHiBlack).Sprint("   └"),
		color.New(color.FgHiBlack).Sprint(text),
	)
}

// LogWarn prints a highlighted line nested under the current step.
func LogWarn(text string) {
	fmt.Println(
		color.New(color.FgHiBlack).Sprint("   └"),
		color.YellowString(text),
	)
}

// Banner prints a framed block of lines, used for information the operator must not miss.
func Banner(title string, lines ...string) {
	width := len(title)
	for _, line := range lines {
		width = max(width, len(line))
	}
	rule := strings.Repeat("=", width+4)

	fmt.Println()
	color.Cyan(rule)
	color.New(color.FgCyan, color.Bold).Printf("  %s\n", title)
	color.Cyan(rule)
	for _, line := range lines {
		fmt.Printf("  %s\n", line)
	}
	color.Cyan(rule)
	fmt.Println()
}

// Fatal writes a single error line to stderr and exits with code 1.
// Use it in main() for bootstrap errors that must abort startup.
func Fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString(" ✘ fatal: %s", err.Error()))
	os.Exit(1)
}

// ChildExit is implemented by the error of a supervised application exiting with a
// non zero code. Failed install commands carry exit codes too but aren't ChildExits.
type ChildExit interface {
	error
	ExitCode() int
	ChildExit()
}

// Exit terminates the launcher mirroring err: 0 when nil, the application's code for a
// [ChildExit], and [Fatal] for anything else.
func Exit(err error) {
	if err == nil {
		os.Exit(0)
	}

	var coded ChildExit
	if errors.As(err, &coded) {
		code := coded.ExitCode()
		if code < 0 {
			code = 1
		}
		log.WithError(err).Debug("exiting with child code")
		os.Exit(code)
	}

	Fatal(err)
}

// InitLog sets up the diagnostic logger.
// An empty path or "console" keeps the output on stderr, anything else is a file
// that gets rotated.
func InitLog(level, path string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed parsing log level %q: %w", level, err)
	}

	if path != "" && path != "console" {
		log.SetOutput(io.Writer(&lumberjack.Logger{
			Filename:   filepath.ToSlash(path),
			MaxSize:    5, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}))
		log.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	} else {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(lvl)
	return nil
}
