package commons

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aexvir/launchpad"
	"github.com/aexvir/launchpad/config"
)

// InstallDependencies installs the production dependencies and fetches the prebuilt
// frontend, so nothing gets compiled locally.
func InstallDependencies(cfg *config.Config) launchpad.Task {
	return func(ctx context.Context) error {
		var version bytes.Buffer
		err := launchpad.Run(ctx, "npm", launchpad.WithArgs("--version"), launchpad.WithoutNoise(), launchpad.WithStdOut(&version))
		if err != nil {
			return fmt.Errorf("npm is required to install dependencies: %w", err)
		}
		launchpad.LogDetail("npm " + strings.TrimSpace(version.String()))

		err = launchpad.Run(
			ctx,
			"npm",
			launchpad.WithArgs(append([]string{"install"}, cfg.NPMInstallArgs...)...),
			launchpad.WithDir(cfg.InstallDir()),
			// the dependency tree pulls puppeteer, its browser download isn't needed
			launchpad.WithEnv(
				"PUPPETEER_SKIP_CHROMIUM_DOWNLOAD=true",
				"PUPPETEER_SKIP_DOWNLOAD=true",
			),
			launchpad.WithErrMsg("dependency installation failed"),
		)
		if err != nil {
			return err
		}

		return launchpad.Run(
			ctx,
			"npm",
			launchpad.WithArgs("run", "download-dist"),
			launchpad.WithDir(cfg.InstallDir()),
			launchpad.WithErrMsg("frontend download failed"),
		)
	}
}
