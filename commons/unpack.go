package commons

import (
	"context"
	"fmt"

	"github.com/aexvir/launchpad"
	"github.com/aexvir/launchpad/config"
	"github.com/aexvir/launchpad/unpack"
)

// Unpack extracts the downloaded archive into the install directory.
func Unpack(cfg *config.Config) launchpad.Task {
	return func(ctx context.Context) error {
		name, err := unpack.Extract(cfg.ArchivePath(), cfg.Root, unpack.Options{
			Prefix: config.ArchivePrefix,
			Target: config.InstallDirName,
		})
		if err != nil {
			return err
		}

		launchpad.LogDetail(fmt.Sprintf("moved %s to %s", name, cfg.InstallDir()))
		return nil
	}
}
