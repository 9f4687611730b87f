// Package release resolves and downloads release artifacts published on GitHub.
//
// A [Resolver] turns a version policy into a download URL. A pinned version is
// rendered straight into the URL format without touching the network. An unpinned
// resolver asks the "latest release" endpoint where it redirects to and takes the
// tag from the last path segment of the redirect target; when that request fails,
// times out or doesn't redirect, the resolver falls back to a last known good tag
// instead of failing.
//
// [Download] then retrieves the artifact, following redirects hop by hop until a
// 200 response body can be written to the destination.
//
// example usage
//
//	resolver := release.Resolver{
//		LatestURL: "https://github.com/louislam/uptime-kuma/releases/latest",
//		URLFormat: "https://github.com/louislam/uptime-kuma/archive/refs/tags/{{.Version}}.zip",
//		Fallback:  "2.0.2",
//	}
//
//	resolution, err := resolver.Resolve(ctx)
//	if err != nil {
//		return err
//	}
//
//	if err := release.Download(ctx, nil, resolution.URL, "uptime-kuma.zip"); err != nil {
//		return fmt.Errorf("failed to download uptime kuma: %w", err)
//	}
package release
