// Package binary provisions external executables the launcher runs next to the
// application, like the cloudflared tunnel sidecar.
//
// At the core, a [Binary] is a specification indicating the binary name,
// the desired version and an origin pointing at where to obtain the
// binary from.
//
// Origins implement the logic needed to fetch the binary. Two are implemented:
//   - [RemoteBinaryDownload]: for binaries that can be downloaded directly from a release
//   - [RemoteArchiveDownload]: for binaries contained in a release archive
//
// Both resolve their download url through a [release.Resolver], so a "latest" version is
// looked up the same way the application release is, including its fallback.
//
// example usage
//
//	cloudflared, err := binary.New(
//		"./bin",
//		"cloudflared",
//		"latest",
//		binary.RemoteBinaryDownload(release.Resolver{
//			LatestURL: "https://github.com/cloudflare/cloudflared/releases/latest",
//			URLFormat: "https://github.com/cloudflare/cloudflared/releases/download/{{.Version}}/cloudflared-{{.GOOS}}-{{.GOARCH}}",
//			Fallback:  "2025.8.1",
//		}),
//		binary.WithVersionArgs("--version"),
//	)
//
//	// download the binary if necessary
//	if err := cloudflared.Ensure(ctx); err != nil {
//		return fmt.Errorf("failed to provision cloudflared: %w", err)
//	}
//
//	launchpad.Run(ctx, cloudflared.Path(), launchpad.WithArgs("--version"))
package binary
