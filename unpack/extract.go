// Package unpack extracts downloaded release archives into a stable install directory.
//
// The archive manifest is checked before anything touches the disk: exactly one
// top level directory must match the expected prefix, otherwise the archive is
// rejected and no install directory is created.
package unpack

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/aexvir/launchpad"
)

var (
	ErrNoMatchingRoot = errors.New("no top level directory matches")
	ErrAmbiguousRoot  = errors.New("more than one top level directory matches")
	ErrUnsupported    = errors.New("unsupported archive format")
	ErrUnsafePath     = errors.New("archive entry escapes destination")
	ErrTargetExists   = errors.New("install directory already exists")
	ErrMemberNotFound = errors.New("file not found in archive")
)

// Options for [Extract].
type Options struct {
	// Prefix the extracted root directory name must start with, e.g. "uptime-kuma-".
	Prefix string
	// Target is the stable directory name the extracted root is renamed to.
	// A top level directory already named like the target is never picked.
	Target string
}

// format is an archive reader able to list and extract its entries.
type format interface {
	// entries returns the slash separated names of all the entries in the archive.
	entries() ([]string, error)
	// extract writes every entry below destination.
	extract(destination string) error
	// find calls fn with the contents of the first regular file whose name satisfies match.
	find(match func(name string) bool, fn func(contents io.Reader) error) error
}

// Extract unpacks archive into root and moves its single matching top level directory
// to root/Target. Returns the name the directory had inside the archive.
func Extract(archive, root string, opts Options) (name string, err error) {
	launchpad.LogDetail(fmt.Sprintf("extracting %s", filepath.Base(archive)))

	start := time.Now()
	defer func() {
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			color.Red("     ✘ %s", elapsed)
			return
		}
		color.Green("     ✔ %s", elapsed)
	}()

	if opts.Target == "" {
		return "", errors.New("target directory name must be set")
	}

	target := filepath.Join(root, opts.Target)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s", ErrTargetExists, target)
	}

	file, err := os.Open(archive)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	reader, err := open(file)
	if err != nil {
		return "", err
	}

	entries, err := reader.entries()
	if err != nil {
		return "", fmt.Errorf("failed to read archive manifest: %w", err)
	}

	name, err = pickRoot(entries, opts.Prefix, opts.Target)
	if err != nil {
		return "", err
	}
	launchpad.LogDetail(fmt.Sprintf("  archive root is %s", name))

	scratch, err := os.MkdirTemp(root, ".unpack-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := reader.extract(scratch); err != nil {
		return "", fmt.Errorf("failed to extract archive: %w", err)
	}

	if err := os.Rename(filepath.Join(scratch, name), target); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", name, target, err)
	}

	if err := os.Remove(archive); err != nil {
		return "", fmt.Errorf("failed to remove archive: %w", err)
	}

	return name, nil
}

// ExtractFile copies the single archive member named member to destination, created 0755.
// Members match on their full slash separated path or on their base name; the first match wins.
func ExtractFile(archive, member, destination string) (err error) {
	launchpad.LogDetail(fmt.Sprintf("extracting %s from %s", member, filepath.Base(archive)))

	start := time.Now()
	defer func() {
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			color.Red("     ✘ %s", elapsed)
			return
		}
		color.Green("     ✔ %s", elapsed)
	}()

	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	reader, err := open(file)
	if err != nil {
		return err
	}

	match := func(name string) bool {
		return name == member || path.Base(name) == member
	}

	err = reader.find(match, func(contents io.Reader) error {
		return writeFile(destination, contents, 0o755)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", member, err)
	}
	return nil
}

// open sniffs the mime header to pick the archive reader.
func open(file *os.File) (format, error) {
	header := make([]byte, 512)
	n, err := file.Read(header)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read archive header: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch mime := http.DetectContentType(header[:n]); mime {
	case "application/zip":
		info, err := file.Stat()
		if err != nil {
			return nil, err
		}
		return newZip(file, info.Size())
	case "application/x-gzip":
		return &targz{file: file}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
}

// pickRoot returns the single top level directory matching prefix which isn't target.
func pickRoot(entries []string, prefix, target string) (string, error) {
	var matches []string
	for _, dir := range topLevelDirs(entries) {
		if strings.HasPrefix(dir, prefix) && dir != target {
			matches = append(matches, dir)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w %q", ErrNoMatchingRoot, prefix+"*")
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w %q: %s", ErrAmbiguousRoot, prefix+"*", strings.Join(matches, ", "))
	}
}

// topLevelDirs returns the sorted distinct directories found at the top of the entry names.
// An entry counts as a directory when it has a trailing slash or further path components.
func topLevelDirs(entries []string) []string {
	var dirs []string
	for _, entry := range entries {
		entry = strings.TrimPrefix(entry, "./")
		head, _, nested := strings.Cut(entry, "/")
		if head == "" || head == "." || !nested {
			continue
		}
		if !slices.Contains(dirs, head) {
			dirs = append(dirs, head)
		}
	}
	slices.Sort(dirs)
	return dirs
}

// safejoin resolves name below destination, refusing anything that would land outside.
func safejoin(destination, name string) (string, error) {
	target := filepath.Join(destination, filepath.FromSlash(name))
	rel, err := filepath.Rel(destination, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// writeFile copies contents into a new file at target with the given permissions.
func writeFile(target string, contents io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(target), err)
	}

	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}

	if _, err := io.Copy(out, contents); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy data to file %s: %w", target, err)
	}

	return out.Close()
}
