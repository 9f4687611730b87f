package unpack

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// handles .zip files
type zipped struct {
	reader *zip.Reader
}

func newZip(file io.ReaderAt, size int64) (*zipped, error) {
	reader, err := zip.NewReader(file, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create zip reader: %w", err)
	}
	return &zipped{reader: reader}, nil
}

func (z *zipped) entries() ([]string, error) {
	names := make([]string, 0, len(z.reader.File))
	for _, file := range z.reader.File {
		names = append(names, file.Name)
	}
	return names, nil
}

func (z *zipped) extract(destination string) error {
	for _, file := range z.reader.File {
		target, err := safejoin(destination, file.Name)
		if err != nil {
			return err
		}

		info := file.FileInfo()
		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}

		case info.Mode()&os.ModeSymlink != 0:
			if err := z.symlink(file, destination, target); err != nil {
				return err
			}

		default:
			contents, err := file.Open()
			if err != nil {
				return fmt.Errorf("failed to open file %s: %w", file.Name, err)
			}
			err = writeFile(target, contents, info.Mode().Perm())
			contents.Close()
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (z *zipped) find(match func(string) bool, fn func(io.Reader) error) error {
	for _, file := range z.reader.File {
		if !file.FileInfo().Mode().IsRegular() || !match(file.Name) {
			continue
		}

		contents, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", file.Name, err)
		}
		defer contents.Close()

		return fn(contents)
	}

	return ErrMemberNotFound
}

// symlink recreates a link stored in the zip, the link body is its target.
func (z *zipped) symlink(file *zip.File, destination, target string) error {
	contents, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open link %s: %w", file.Name, err)
	}
	defer contents.Close()

	link, err := io.ReadAll(io.LimitReader(contents, 4096))
	if err != nil {
		return fmt.Errorf("failed to read link %s: %w", file.Name, err)
	}

	return makeLink(destination, target, string(link))
}

// handles .tar.gz files
type targz struct {
	file io.ReadSeeker
}

// each walks the tarball from the start calling fn for every header.
func (t *targz) each(fn func(header *tar.Header, reader *tar.Reader) error) error {
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decompressor, err := gzip.NewReader(t.file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer decompressor.Close()

	reader := tar.NewReader(decompressor)

	for {
		header, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := fn(header, reader); err != nil {
			return err
		}
	}
}

func (t *targz) entries() ([]string, error) {
	var names []string
	err := t.each(func(header *tar.Header, _ *tar.Reader) error {
		// pax global headers aren't part of the tree, github tarballs carry one
		if header.Typeflag == tar.TypeXGlobalHeader {
			return nil
		}
		names = append(names, header.Name)
		return nil
	})
	return names, err
}

func (t *targz) extract(destination string) error {
	return t.each(func(header *tar.Header, reader *tar.Reader) error {
		if header.Typeflag == tar.TypeXGlobalHeader {
			return nil
		}

		target, err := safejoin(destination, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			return writeFile(target, reader, os.FileMode(header.Mode).Perm())
		case tar.TypeSymlink:
			return makeLink(destination, target, header.Linkname)
		}

		return nil
	})
}

// errFound stops the tar walk once the member was handled.
var errFound = errors.New("found")

func (t *targz) find(match func(string) bool, fn func(io.Reader) error) error {
	err := t.each(func(header *tar.Header, reader *tar.Reader) error {
		if header.Typeflag != tar.TypeReg || !match(header.Name) {
			return nil
		}
		if err := fn(reader); err != nil {
			return err
		}
		return errFound
	})

	switch {
	case errors.Is(err, errFound):
		return nil
	case err != nil:
		return err
	default:
		return ErrMemberNotFound
	}
}

// makeLink creates a relative symlink that stays inside destination.
func makeLink(destination, target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: absolute link %s", ErrUnsafePath, link)
	}
	rel, err := filepath.Rel(destination, filepath.Join(filepath.Dir(target), link))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: link %s", ErrUnsafePath, link)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(target), err)
	}
	return os.Symlink(link, target)
}
