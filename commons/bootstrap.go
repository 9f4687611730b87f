package commons

import (
	"context"
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/aexvir/launchpad"
	"github.com/aexvir/launchpad/binary"
	"github.com/aexvir/launchpad/config"
	"github.com/aexvir/launchpad/seed"
)

// Bootstrap holds what the bootstrap pipeline needs besides the configuration.
type Bootstrap struct {
	Config *config.Config
	// Client for every download, http.DefaultClient semantics when nil.
	Client *http.Client
	// Seeder creates the first administrator.
	Seeder *seed.Seeder
	// Sidecars are provisioned next to the application.
	Sidecars []*binary.Binary
}

// Run bootstraps the installation with [Bootstrap.Launcher].
func (b *Bootstrap) Run(ctx context.Context) error {
	return b.Launcher().Execute(ctx, b.Tasks()...)
}

// Launcher prepares the data directory before any task and logs the resulting
// installation once every task succeeded.
func (b *Bootstrap) Launcher() *launchpad.Launcher {
	return launchpad.New(
		launchpad.WithPreExecFunc(launchpad.Step("preparing data directory", EnsureDataDir(b.Config))),
		launchpad.WithPostExecFunc(Summary(b.Config)),
	)
}

// Tasks returns the bootstrap pipeline: install the application when it isn't installed
// yet, provision sidecars and seed the administrator.
// Whether the application is installed is decided once, when Tasks is called.
func (b *Bootstrap) Tasks() []launchpad.Task {
	cfg := b.Config
	installed := IsInstalled(cfg.InstallDir())

	var tasks []launchpad.Task

	if installed {
		tasks = append(tasks,
			launchpad.Step("found existing installation", func(_ context.Context) error {
				CheckDrift(cfg.InstallDir(), cfg.Pinned())
				return nil
			}),
			launchpad.When(
				func() bool { return len(b.Sidecars) > 0 },
				launchpad.Step("provisioning sidecars", Provision(b.Sidecars...)),
				"",
			),
		)
	} else {
		tasks = append(tasks,
			launchpad.Step("fetching release", Fetch(cfg, KumaResolver(cfg, b.Client), b.Sidecars...)),
			launchpad.Step("unpacking release", Unpack(cfg)),
			launchpad.Step("installing dependencies", InstallDependencies(cfg)),
		)
	}

	return append(tasks, launchpad.Step("checking admin account", SeedAdmin(cfg, b.Seeder)))
}

// EnsureDataDir creates the data directory; it's never removed by the launcher.
func EnsureDataDir(cfg *config.Config) launchpad.Task {
	return func(_ context.Context) error {
		if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		launchpad.LogDetail(cfg.DataDir())
		return nil
	}
}

// Summary logs where the bootstrapped installation lives.
func Summary(cfg *config.Config) launchpad.Task {
	return func(_ context.Context) error {
		version, err := InstalledVersion(cfg.InstallDir())
		if err != nil {
			log.WithError(err).Debug("installed version unknown")
			version = "unknown"
		}

		log.WithFields(log.Fields{
			"version": version,
			"install": cfg.InstallDir(),
			"data":    cfg.DataDir(),
		}).Info("installation ready")
		return nil
	}
}

// SeedAdmin creates the administrator account when the data directory has no database yet.
func SeedAdmin(cfg *config.Config, seeder *seed.Seeder) launchpad.Task {
	return func(ctx context.Context) error {
		if seeder == nil {
			seeder = seed.New()
		}

		_, err := seeder.SeedAdminIfAbsent(ctx, cfg.DataDir(), cfg.AdminUsername, cfg.AdminPassword)
		return err
	}
}
