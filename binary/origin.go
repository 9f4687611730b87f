package binary

import (
	"context"
	"fmt"
	"os"

	"github.com/aexvir/launchpad/release"
	"github.com/aexvir/launchpad/unpack"
)

// Origin defines the interface for provisioning binaries from different sources.
type Origin interface {
	// Install writes the binary described by template to destination.
	Install(ctx context.Context, template release.Template, destination string) error
}

// remotebin implements [Origin] for direct binary downloads from a release.
type remotebin struct {
	resolver release.Resolver
}

// RemoteBinaryDownload creates a new Origin downloading a single executable.
// The resolver's URLFormat is rendered with the binary's template; a "latest" version
// is looked up through the resolver, falling back to its Fallback version.
// e.g. "https://github.com/cloudflare/cloudflared/releases/download/{{.Version}}/cloudflared-{{.GOOS}}-{{.GOARCH}}"
func RemoteBinaryDownload(resolver release.Resolver) Origin {
	return &remotebin{resolver: resolver}
}

func (r *remotebin) Install(ctx context.Context, template release.Template, destination string) error {
	url, err := resolve(ctx, r.resolver, template)
	if err != nil {
		return err
	}

	return release.Download(ctx, r.resolver.Client, url, destination)
}

// remotearchive implements Origin for binaries shipped inside a tar.gz or zip archive.
type remotearchive struct {
	resolver release.Resolver
	member   string
}

// RemoteArchiveDownload creates a new Origin downloading an archive and extracting the
// single file called member out of it. member is rendered with the template too, and
// matches either the full path inside the archive or its base name.
func RemoteArchiveDownload(resolver release.Resolver, member string) Origin {
	return &remotearchive{resolver: resolver, member: member}
}

func (r *remotearchive) Install(ctx context.Context, template release.Template, destination string) error {
	url, err := resolve(ctx, r.resolver, template)
	if err != nil {
		return err
	}

	member, err := template.Resolve(r.member)
	if err != nil {
		return fmt.Errorf("failed to resolve archive member: %w", err)
	}

	archive := destination + ".archive"
	defer os.Remove(archive)

	if err := release.Download(ctx, r.resolver.Client, url, archive); err != nil {
		return err
	}

	return unpack.ExtractFile(archive, member, destination)
}

// resolve renders the download url for template, looking up the version if it's "latest".
func resolve(ctx context.Context, resolver release.Resolver, template release.Template) (string, error) {
	resolver.Template = template
	resolver.Pinned = template.Version

	resolution, err := resolver.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve URL: %w", err)
	}

	return resolution.URL, nil
}
