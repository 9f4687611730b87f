package unpack

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const installName = "uptime-kuma-app"

var kumaOpts = Options{Prefix: "uptime-kuma-", Target: installName}

// writeZip builds a zip archive with the given entries; names ending in "/" are directories.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	writer := zip.NewWriter(out)
	for name, content := range entries {
		w, err := writer.Create(name)
		require.NoError(t, err)
		if content != "" {
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, writer.Close())
}

// writeTarGz builds a tar.gz archive with the given regular files.
func writeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	compressor := gzip.NewWriter(out)
	writer := tar.NewWriter(compressor)

	require.NoError(t, writer.WriteHeader(&tar.Header{Typeflag: tar.TypeXGlobalHeader, Name: "pax_global_header", PAXRecords: map[string]string{"comment": "abc"}}))

	for name, content := range entries {
		require.NoError(t, writer.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := writer.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	require.NoError(t, compressor.Close())
}

func TestExtractZip(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "uptime-kuma.zip")
	writeZip(t, archive, map[string]string{
		"uptime-kuma-2.0.2/":                 "",
		"uptime-kuma-2.0.2/server/server.js": "console.log('kuma')",
		"uptime-kuma-2.0.2/package.json":     `{"version":"2.0.2"}`,
	})

	name, err := Extract(archive, root, kumaOpts)
	require.NoError(t, err)

	assert.Equal(t, "uptime-kuma-2.0.2", name)
	assert.FileExists(t, filepath.Join(root, installName, "server", "server.js"))
	assert.FileExists(t, filepath.Join(root, installName, "package.json"))
	assert.NoDirExists(t, filepath.Join(root, "uptime-kuma-2.0.2"))
	assert.NoFileExists(t, archive)

	// no scratch directories are left behind
	leftovers, err := filepath.Glob(filepath.Join(root, ".unpack-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExtractTarGz(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "uptime-kuma.tar.gz")
	writeTarGz(t, archive, map[string]string{
		"uptime-kuma-2.0.2/server/server.js": "console.log('kuma')",
	})

	name, err := Extract(archive, root, kumaOpts)
	require.NoError(t, err)

	assert.Equal(t, "uptime-kuma-2.0.2", name)
	content, err := os.ReadFile(filepath.Join(root, installName, "server", "server.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('kuma')", string(content))
}

func TestExtractRejectsManifest(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		err     error
	}{
		{
			name:    "no matching directory",
			entries: map[string]string{"something-else/server/server.js": "x"},
			err:     ErrNoMatchingRoot,
		},
		{
			name:    "only loose files",
			entries: map[string]string{"uptime-kuma-readme.md": "x"},
			err:     ErrNoMatchingRoot,
		},
		{
			name: "two matching directories",
			entries: map[string]string{
				"uptime-kuma-2.0.2/server/server.js": "x",
				"uptime-kuma-2.0.1/server/server.js": "x",
			},
			err: ErrAmbiguousRoot,
		},
		{
			name:    "only the target itself",
			entries: map[string]string{installName + "/server/server.js": "x"},
			err:     ErrNoMatchingRoot,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root := t.TempDir()
			archive := filepath.Join(root, "uptime-kuma.zip")
			writeZip(t, archive, test.entries)

			_, err := Extract(archive, root, kumaOpts)
			require.ErrorIs(t, err, test.err)

			assert.NoDirExists(t, filepath.Join(root, installName))
			// the archive stays for inspection, the next run removes it before downloading again
			assert.FileExists(t, archive)
		})
	}
}

func TestExtractIgnoresTargetNamedDirectory(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "uptime-kuma.zip")
	writeZip(t, archive, map[string]string{
		"uptime-kuma-app/stale.txt":          "x",
		"uptime-kuma-2.0.2/server/server.js": "x",
	})

	name, err := Extract(archive, root, Options{Prefix: "uptime-kuma-", Target: installName})
	require.NoError(t, err)
	assert.Equal(t, "uptime-kuma-2.0.2", name)
	assert.NoFileExists(t, filepath.Join(root, installName, "stale.txt"))
}

func TestExtractExistingTarget(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "uptime-kuma.zip")
	writeZip(t, archive, map[string]string{"uptime-kuma-2.0.2/server/server.js": "x"})
	require.NoError(t, os.MkdirAll(filepath.Join(root, installName), 0o755))

	_, err := Extract(archive, root, kumaOpts)
	require.ErrorIs(t, err, ErrTargetExists)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "uptime-kuma.zip")
	require.NoError(t, os.WriteFile(archive, []byte("<html>not found</html>"), 0o644))

	_, err := Extract(archive, root, kumaOpts)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.NoDirExists(t, filepath.Join(root, installName))
}

func TestExtractRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "uptime-kuma.zip")
	writeZip(t, archive, map[string]string{
		"uptime-kuma-2.0.2/server/server.js": "x",
		"uptime-kuma-2.0.2/../../escape.txt": "x",
	})

	_, err := Extract(archive, root, kumaOpts)
	require.ErrorIs(t, err, ErrUnsafePath)
	assert.NoDirExists(t, filepath.Join(root, installName))
	assert.NoFileExists(t, filepath.Join(root, "escape.txt"))
}

func TestTopLevelDirs(t *testing.T) {
	dirs := topLevelDirs([]string{"b/file", "a/", "a/nested/", "./a/other", "loose.txt"})
	assert.Equal(t, []string{"a", "b"}, dirs)
}

func TestExtractFile(t *testing.T) {
	tests := []struct {
		name   string
		write  func(t *testing.T, path string, entries map[string]string)
		member string
	}{
		{name: "zip by base name", write: writeZip, member: "cloudflared"},
		{name: "zip by full path", write: writeZip, member: "release/cloudflared"},
		{name: "tar.gz by base name", write: writeTarGz, member: "cloudflared"},
		{name: "tar.gz by full path", write: writeTarGz, member: "release/cloudflared"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root := t.TempDir()
			archive := filepath.Join(root, "cloudflared.archive")
			test.write(t, archive, map[string]string{
				"release/README.md":   "docs",
				"release/cloudflared": "binary",
			})

			dest := filepath.Join(root, "bin", "cloudflared")
			require.NoError(t, ExtractFile(archive, test.member, dest))

			content, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, "binary", string(content))

			info, err := os.Stat(dest)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
		})
	}
}

func TestExtractFileMissingMember(t *testing.T) {
	root := t.TempDir()

	zipped := filepath.Join(root, "release.zip")
	writeZip(t, zipped, map[string]string{"release/": "", "release/other": "x"})
	assert.ErrorIs(t, ExtractFile(zipped, "release", filepath.Join(root, "out")), ErrMemberNotFound)

	tarball := filepath.Join(root, "release.tgz")
	writeTarGz(t, tarball, map[string]string{"release/other": "x"})
	assert.ErrorIs(t, ExtractFile(tarball, "cloudflared", filepath.Join(root, "out")), ErrMemberNotFound)

	assert.NoFileExists(t, filepath.Join(root, "out"))
}

func TestExtractFileUnsupportedFormat(t *testing.T) {
	root := t.TempDir()
	plain := filepath.Join(root, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("just text"), 0o644))

	assert.ErrorIs(t, ExtractFile(plain, "cloudflared", filepath.Join(root, "out")), ErrUnsupported)
}
