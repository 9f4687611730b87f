package commons

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aexvir/launchpad/binary"
	"github.com/aexvir/launchpad/config"
	"github.com/aexvir/launchpad/release"
	"github.com/aexvir/launchpad/seed"
	"github.com/aexvir/launchpad/unpack"
)

// github sends every request to the test server, whatever host it was meant for.
type github struct {
	target *url.URL
}

func (g github) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = g.target.Scheme
	req.URL.Host = g.target.Host
	req.Host = g.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

type fakeGitHub struct {
	server   *httptest.Server
	client   *http.Client
	requests atomic.Int32
}

// newFakeGitHub serves release archives for the given versions, every download goes through
// one redirect like the real codeload does. The latest endpoint sleeps for latestDelay.
func newFakeGitHub(t *testing.T, archives map[string][]byte, latest string, latestDelay time.Duration) *fakeGitHub {
	t.Helper()

	fake := &fakeGitHub{}

	mux := http.NewServeMux()
	mux.HandleFunc("/louislam/uptime-kuma/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(latestDelay):
		case <-r.Context().Done():
			return
		}
		http.Redirect(w, r, "https://github.com/louislam/uptime-kuma/releases/tag/"+latest, http.StatusFound)
	})
	mux.HandleFunc("/louislam/uptime-kuma/archive/refs/tags/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/codeload/"+strings.TrimPrefix(r.URL.Path, "/louislam/uptime-kuma/archive/refs/tags/"), http.StatusFound)
	})
	mux.HandleFunc("/codeload/", func(w http.ResponseWriter, r *http.Request) {
		version := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/codeload/"), ".zip")
		archive, ok := archives[version]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	})

	fake.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fake.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(fake.server.Close)

	target, err := url.Parse(fake.server.URL)
	require.NoError(t, err)
	fake.client = &http.Client{Transport: github{target: target}}

	return fake
}

func kumaArchive(t *testing.T, roots ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, root := range roots {
		for name, content := range map[string]string{
			root + "/server/server.js": "console.log('kuma')",
			root + "/package.json":     `{"name":"uptime-kuma","version":"` + strings.TrimPrefix(root, "uptime-kuma-") + `"}`,
		} {
			w, err := writer.Create(name)
			require.NoError(t, err)
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

// fakeNPM puts an npm on PATH that records its invocations and creates node_modules.
func fakeNPM(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}

	dir := t.TempDir()
	log := filepath.Join(dir, "npm.log")
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then echo 10.9.0; exit 0; fi
echo "$* skip=$PUPPETEER_SKIP_DOWNLOAD/$PUPPETEER_SKIP_CHROMIUM_DOWNLOAD" >> "` + log + `"
if [ "$1" = "install" ]; then mkdir -p node_modules; fi
exit 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "npm"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	return log
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Root = t.TempDir()
	require.NoError(t, cfg.Validate())
	return &cfg
}

func bootstrap(cfg *config.Config, client *http.Client) *Bootstrap {
	seeder := seed.New()
	seeder.Quiet = true
	return &Bootstrap{Config: cfg, Client: client, Seeder: seeder}
}

func admins(t *testing.T, dbpath string) map[string]string {
	t.Helper()

	db, err := sql.Open("sqlite", dbpath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT username, password FROM user")
	require.NoError(t, err)
	defer rows.Close()

	users := make(map[string]string)
	for rows.Next() {
		var username, hash string
		require.NoError(t, rows.Scan(&username, &hash))
		users[username] = hash
	}
	require.NoError(t, rows.Err())
	return users
}

func TestBootstrapPinnedFreshRoot(t *testing.T) {
	npmlog := fakeNPM(t)
	fake := newFakeGitHub(t, map[string][]byte{"2.0.2": kumaArchive(t, "uptime-kuma-2.0.2")}, "9.9.9", 0)
	cfg := testConfig(t)

	err := bootstrap(cfg, fake.client).Run(context.Background())
	require.NoError(t, err)

	// installed, archive gone
	assert.True(t, IsInstalled(cfg.InstallDir()))
	assert.NoFileExists(t, cfg.ArchivePath())
	version, err := InstalledVersion(cfg.InstallDir())
	require.NoError(t, err)
	assert.Equal(t, "2.0.2", version)

	// npm ran both steps with the puppeteer download disabled
	calls, err := os.ReadFile(npmlog)
	require.NoError(t, err)
	assert.Equal(t, "install --omit=dev skip=true/true\nrun download-dist skip=/\n", string(calls))

	// admin seeded with a generated password
	recovery, err := os.ReadFile(filepath.Join(cfg.DataDir(), seed.RecoveryFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(recovery), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "User: admin", lines[0])
	password := strings.TrimPrefix(lines[1], "Pass: ")
	assert.Len(t, password, seed.PasswordLength)

	users := admins(t, filepath.Join(cfg.DataDir(), seed.DatabaseFile))
	require.Len(t, users, 1)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users["admin"]), []byte(password)))
}

func TestBootstrapLauncherHooks(t *testing.T) {
	cfg := testConfig(t)
	b := bootstrap(cfg, nil)

	ran := false
	err := b.Launcher().Execute(context.Background(), func(context.Context) error {
		ran = true
		assert.DirExists(t, cfg.DataDir(), "data directory is prepared before any task")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestInstallDependenciesRequiresNPM(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}
	t.Setenv("PATH", t.TempDir())
	cfg := testConfig(t)

	err := InstallDependencies(cfg)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "npm is required")
	assert.NoDirExists(t, filepath.Join(cfg.InstallDir(), "node_modules"))
}

func TestBootstrapSecondRunSkipsEverything(t *testing.T) {
	fakeNPM(t)
	fake := newFakeGitHub(t, map[string][]byte{"2.0.2": kumaArchive(t, "uptime-kuma-2.0.2")}, "9.9.9", 0)
	cfg := testConfig(t)

	require.NoError(t, bootstrap(cfg, fake.client).Run(context.Background()))

	recovery := filepath.Join(cfg.DataDir(), seed.RecoveryFile)
	before, err := os.ReadFile(recovery)
	require.NoError(t, err)
	usersBefore := admins(t, filepath.Join(cfg.DataDir(), seed.DatabaseFile))
	requests := fake.requests.Load()

	// the password source changes, but the database already exists
	cfg.AdminPassword = "changed"
	require.NoError(t, bootstrap(cfg, fake.client).Run(context.Background()))

	assert.Equal(t, requests, fake.requests.Load(), "an installed root must not download anything")

	after, err := os.ReadFile(recovery)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, usersBefore, admins(t, filepath.Join(cfg.DataDir(), seed.DatabaseFile)))
}

func TestBootstrapLatestTimeoutFallsBack(t *testing.T) {
	fakeNPM(t)
	fake := newFakeGitHub(t, map[string][]byte{
		config.DefaultVersion: kumaArchive(t, "uptime-kuma-"+config.DefaultVersion),
	}, "9.9.9", 5*time.Second)

	cfg := testConfig(t)
	cfg.Version = config.Latest
	cfg.ResolveTimeout = 100 * time.Millisecond

	start := time.Now()
	require.NoError(t, bootstrap(cfg, fake.client).Run(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)

	version, err := InstalledVersion(cfg.InstallDir())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultVersion, version)
}

func TestBootstrapLatestRelease(t *testing.T) {
	fakeNPM(t)
	fake := newFakeGitHub(t, map[string][]byte{"2.1.0": kumaArchive(t, "uptime-kuma-2.1.0")}, "2.1.0", 0)

	cfg := testConfig(t)
	cfg.Version = config.Latest

	require.NoError(t, bootstrap(cfg, fake.client).Run(context.Background()))

	version, err := InstalledVersion(cfg.InstallDir())
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", version)
}

func TestBootstrapAmbiguousArchiveAborts(t *testing.T) {
	npmlog := fakeNPM(t)
	fake := newFakeGitHub(t, map[string][]byte{
		"2.0.2": kumaArchive(t, "uptime-kuma-2.0.2", "uptime-kuma-2.0.1"),
	}, "9.9.9", 0)
	cfg := testConfig(t)

	err := bootstrap(cfg, fake.client).Run(context.Background())
	require.ErrorIs(t, err, unpack.ErrAmbiguousRoot)

	assert.NoDirExists(t, cfg.InstallDir())
	assert.NoFileExists(t, npmlog)
	assert.NoFileExists(t, filepath.Join(cfg.DataDir(), seed.DatabaseFile))
}

func TestBootstrapDownloadFailureAborts(t *testing.T) {
	fakeNPM(t)
	fake := newFakeGitHub(t, nil, "9.9.9", 0)
	cfg := testConfig(t)

	err := bootstrap(cfg, fake.client).Run(context.Background())
	require.ErrorIs(t, err, release.ErrUnexpectedStatus)
	assert.NoFileExists(t, cfg.ArchivePath())
	assert.NoDirExists(t, cfg.InstallDir())
}

func TestFetchRemovesLeftovers(t *testing.T) {
	fake := newFakeGitHub(t, map[string][]byte{"2.0.2": kumaArchive(t, "uptime-kuma-2.0.2")}, "9.9.9", 0)
	cfg := testConfig(t)

	require.NoError(t, os.WriteFile(cfg.ArchivePath(), []byte("truncated"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InstallDir(), "server"), 0o755))

	require.NoError(t, Fetch(cfg, KumaResolver(cfg, fake.client))(context.Background()))

	assert.NoDirExists(t, cfg.InstallDir())
	archive, err := os.ReadFile(cfg.ArchivePath())
	require.NoError(t, err)
	assert.Equal(t, kumaArchive(t, "uptime-kuma-2.0.2")[:2], archive[:2])
}

type staticOrigin struct {
	calls atomic.Int32
	err   error
}

func (o *staticOrigin) Install(_ context.Context, _ release.Template, destination string) error {
	o.calls.Add(1)
	if o.err != nil {
		return o.err
	}
	return os.WriteFile(destination, []byte("#!/bin/sh\n"), 0o755)
}

func TestFetchProvisionsSidecars(t *testing.T) {
	fake := newFakeGitHub(t, map[string][]byte{"2.0.2": kumaArchive(t, "uptime-kuma-2.0.2")}, "9.9.9", 0)
	cfg := testConfig(t)

	origin := &staticOrigin{}
	sidecar, err := binary.New(cfg.BinDir(), "cloudflared", release.Latest, origin)
	require.NoError(t, err)

	require.NoError(t, Fetch(cfg, KumaResolver(cfg, fake.client), sidecar)(context.Background()))

	assert.FileExists(t, cfg.ArchivePath())
	assert.FileExists(t, sidecar.Path())
	assert.Equal(t, int32(1), origin.calls.Load())
}

func TestFetchFailsWhenSidecarFails(t *testing.T) {
	fake := newFakeGitHub(t, map[string][]byte{"2.0.2": kumaArchive(t, "uptime-kuma-2.0.2")}, "9.9.9", 0)
	cfg := testConfig(t)

	origin := &staticOrigin{err: release.ErrUnexpectedStatus}
	sidecar, err := binary.New(cfg.BinDir(), "cloudflared", release.Latest, origin)
	require.NoError(t, err)

	err = Fetch(cfg, KumaResolver(cfg, fake.client), sidecar)(context.Background())
	require.ErrorIs(t, err, release.ErrUnexpectedStatus)
	assert.ErrorContains(t, err, "cloudflared")
}

func TestProvision(t *testing.T) {
	dir := t.TempDir()

	ok := &staticOrigin{}
	good, err := binary.New(dir, "good", release.Latest, ok)
	require.NoError(t, err)

	failing := &staticOrigin{err: release.ErrNoLocation}
	bad, err := binary.New(dir, "bad", release.Latest, failing)
	require.NoError(t, err)

	err = Provision(good, bad)(context.Background())
	require.Error(t, err)

	// every binary is attempted even after a failure
	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.FileExists(t, good.Path())

	assert.NoError(t, Provision()(context.Background()))
}

func TestCloudflared(t *testing.T) {
	cfg := testConfig(t)

	bin, err := Cloudflared(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, "cloudflared", bin.Name())
	assert.Equal(t, cfg.BinDir(), filepath.Dir(bin.Path()))
}

func TestBootstrapInstalledRootProvisionsSidecars(t *testing.T) {
	fake := newFakeGitHub(t, nil, "9.9.9", 0)
	cfg := testConfig(t)

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InstallDir(), "server"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InstallDir(), EntryPoint), []byte("// kuma"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InstallDir(), DependencyDir), 0o755))

	origin := &staticOrigin{}
	sidecar, err := binary.New(cfg.BinDir(), "cloudflared", release.Latest, origin)
	require.NoError(t, err)

	b := bootstrap(cfg, fake.client)
	b.Sidecars = []*binary.Binary{sidecar}
	require.NoError(t, b.Run(context.Background()))

	assert.Zero(t, fake.requests.Load())
	assert.Equal(t, int32(1), origin.calls.Load())
	assert.FileExists(t, sidecar.Path())
	assert.FileExists(t, filepath.Join(cfg.DataDir(), seed.DatabaseFile))
}
