package commons

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/aexvir/launchpad"
	"github.com/aexvir/launchpad/binary"
	"github.com/aexvir/launchpad/config"
	"github.com/aexvir/launchpad/release"
)

const (
	KumaLatestURL = "https://github.com/louislam/uptime-kuma/releases/latest"
	KumaURLFormat = "https://github.com/louislam/uptime-kuma/archive/refs/tags/{{.Version}}.zip"
)

// KumaResolver resolves the application release for cfg.
func KumaResolver(cfg *config.Config, client *http.Client) release.Resolver {
	return release.Resolver{
		Pinned:    cfg.Pinned(),
		LatestURL: KumaLatestURL,
		URLFormat: KumaURLFormat,
		Fallback:  config.DefaultVersion,
		Timeout:   cfg.ResolveTimeout,
		Template:  release.Platform("uptime-kuma"),
		Client:    client,
	}
}

// Fetch clears leftovers of a previous failed attempt and downloads the release
// archive resolved by resolver to cfg.ArchivePath(). Sidecars are provisioned
// concurrently with the download; the task fails if any of them does.
func Fetch(cfg *config.Config, resolver release.Resolver, sidecars ...*binary.Binary) launchpad.Task {
	return func(ctx context.Context) error {
		if err := clean(cfg); err != nil {
			return err
		}

		resolution, err := resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		launchpad.LogDetail(fmt.Sprintf("downloading version %s (%s)", resolution.Version, resolution.Source))

		group, groupctx := errgroup.WithContext(ctx)

		group.Go(func() error {
			return release.Download(groupctx, resolver.Client, resolution.URL, cfg.ArchivePath())
		})

		for _, sidecar := range sidecars {
			group.Go(func() error {
				if err := sidecar.Ensure(groupctx); err != nil {
					return fmt.Errorf("failed to provision %s: %w", sidecar.Name(), err)
				}
				return nil
			})
		}

		return group.Wait()
	}
}

// clean removes a stale archive and a half installed application directory.
func clean(cfg *config.Config) error {
	if err := os.Remove(cfg.ArchivePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale archive: %w", err)
	} else if err == nil {
		launchpad.LogDetail("removed stale archive")
	}

	if _, err := os.Stat(cfg.InstallDir()); err == nil {
		launchpad.LogDetail("removing incomplete installation")
		if err := os.RemoveAll(cfg.InstallDir()); err != nil {
			return fmt.Errorf("failed to remove incomplete installation: %w", err)
		}
	}

	return nil
}
