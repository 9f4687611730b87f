package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aexvir/launchpad"
	"github.com/aexvir/launchpad/binary"
	"github.com/aexvir/launchpad/commons"
	"github.com/aexvir/launchpad/config"
	"github.com/aexvir/launchpad/supervise"
	"github.com/aexvir/launchpad/tunnel"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launchpad",
		Short: "Install, configure and run Uptime Kuma",
		Long: `Install, configure and run Uptime Kuma from a single executable.

On first start the release archive is downloaded and unpacked next to the launcher,
its dependencies are installed and an administrator account is created. Subsequent
starts skip straight to running the application.

Settings are read from an optional yaml file, then the environment, then flags.

Example:
  launchpad
  ADMIN_PASSWORD=secret PORT=3001 launchpad
  launchpad --tunnel --root /srv/kuma
`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := load(cmd.Flags(), path)
			if err != nil {
				return err
			}

			if err := launchpad.InitLog(cfg.LogLevel, cfg.LogFile); err != nil {
				return err
			}

			return launch(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringP("config", "c", "", "yaml configuration file")
	config.RegisterFlags(cmd.Flags())

	return cmd
}

// load layers defaults, the configuration file, the environment and changed flags.
func load(flags *pflag.FlagSet, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := config.ApplyFlags(flags, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// launch bootstraps the installation and hands over to the application.
// It only returns on bootstrap failures; once the application runs the launcher
// exits with the application's exit code.
func launch(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"root":    cfg.Root,
		"port":    cfg.Port,
		"version": cfg.Version,
		"tunnel":  cfg.TunnelEnabled(),
	}).Debug("configuration loaded")

	var sidecars []*binary.Binary
	var cloudflared *binary.Binary
	if cfg.TunnelEnabled() {
		bin, err := commons.Cloudflared(cfg, nil)
		if err != nil {
			return err
		}
		cloudflared = bin
		sidecars = append(sidecars, bin)
	}

	bootstrap := &commons.Bootstrap{Config: cfg, Sidecars: sidecars}
	if err := bootstrap.Run(ctx); err != nil {
		return err
	}

	var sidecar *tunnel.Sidecar
	if cloudflared != nil {
		ownership := supervise.Disowned
		if cfg.Tunnel.Owned {
			ownership = supervise.Owned
		}

		started, err := tunnel.Start(ctx, tunnel.Options{
			Binary:    cloudflared.Path(),
			Port:      cfg.Port,
			Token:     cfg.Tunnel.Token,
			Domain:    cfg.Tunnel.Domain,
			Ownership: ownership,
			LogFile:   cfg.TunnelLog(),
		})
		if err != nil {
			return fmt.Errorf("failed to start tunnel: %w", err)
		}
		sidecar = started
		defer sidecar.Release()

		if cfg.Tunnel.Token == "" {
			go awaitQuickTunnel(ctx, sidecar)
		}
	}

	env, err := cfg.ChildEnv()
	if err != nil {
		return err
	}

	app := supervise.Spec{
		Dir:     cfg.InstallDir(),
		Command: "node",
		Args:    []string{commons.EntryPoint},
		Env:     env,
	}

	if cfg.Detach {
		proc := supervise.NewProcess(app, supervise.Disowned)
		if err := proc.Start(ctx); err != nil {
			return err
		}

		launchpad.LogStep("launcher detached")
		launchpad.LogDetail(fmt.Sprintf("application running with pid %d, logging a heartbeat every %s", proc.Pid(), cfg.Heartbeat))
		return supervise.KeepAlive(ctx, cfg.Heartbeat, "launcher alive")
	}

	// the application gets the signals forwarded and decides itself when to stop
	err = supervise.Run(context.WithoutCancel(ctx), app)

	if sidecar != nil {
		sidecar.Release()
		if cfg.Tunnel.Owned {
			if serr := sidecar.Process.Stop(supervise.DefaultGrace); serr != nil {
				log.WithError(serr).Warn("failed to stop tunnel")
			}
		}
	}

	launchpad.Exit(err)
	return nil
}

// quickTunnelTimeout bounds how long cloudflared gets to report a quick tunnel url.
const quickTunnelTimeout = 30 * time.Second

// awaitQuickTunnel warns when the quick tunnel never comes up; the application keeps
// running either way.
func awaitQuickTunnel(ctx context.Context, sidecar *tunnel.Sidecar) {
	ctx, cancel := context.WithTimeout(ctx, quickTunnelTimeout)
	defer cancel()

	if _, err := sidecar.WaitURL(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).WithField("log", sidecar.LogFile).Warn("quick tunnel url not available")
	}
}
