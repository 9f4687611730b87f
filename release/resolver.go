package release

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aexvir/launchpad"
)

// DefaultResolveTimeout bounds the "latest release" lookup.
const DefaultResolveTimeout = 5 * time.Second

// Latest is the version value that requests an unpinned resolution.
const Latest = "latest"

// Source describes where a resolved version came from.
type Source string

const (
	SourcePinned   Source = "pinned"
	SourceLatest   Source = "latest"
	SourceFallback Source = "fallback"
)

// Resolution is the outcome of resolving a release.
// The version is only used to build the URL; it's never persisted.
type Resolution struct {
	Version string
	URL     string
	Source  Source
}

// Resolver resolves the download URL of a release.
type Resolver struct {
	// Pinned version; empty or "latest" means the latest release is looked up.
	Pinned string
	// LatestURL is the endpoint that redirects to the latest release tag,
	// e.g. https://github.com/<owner>/<repo>/releases/latest
	LatestURL string
	// URLFormat is rendered with [Template] to obtain the download URL.
	URLFormat string
	// Fallback version used when the latest release can't be determined.
	Fallback string
	// Timeout for the latest release lookup, defaults to [DefaultResolveTimeout].
	Timeout time.Duration
	// Template provides the platform fields for URLFormat; Version is overwritten.
	Template Template
	// Client used for the lookup; a default one is used when nil.
	Client *http.Client
}

// Resolve returns the download URL for the configured version policy.
// Network problems never surface as errors: they make the resolver fall back to
// the hardcoded version. The only errors returned come from a malformed URLFormat.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	if pinned := strings.TrimSpace(r.Pinned); pinned != "" && pinned != Latest {
		launchpad.LogDetail(fmt.Sprintf("target version locked: %s", pinned))
		return r.resolution(pinned, SourcePinned)
	}

	launchpad.LogDetail(fmt.Sprintf("checking latest version at %s", r.LatestURL))

	tag, err := r.latestTag(ctx)
	if err != nil {
		log.WithError(err).WithField("fallback", r.Fallback).Debug("latest release lookup failed")
		launchpad.LogDetail(fmt.Sprintf("latest version unavailable, using %s", r.Fallback))
		return r.resolution(r.Fallback, SourceFallback)
	}

	launchpad.LogDetail(fmt.Sprintf("latest version is %s", tag))
	return r.resolution(tag, SourceLatest)
}

func (r *Resolver) resolution(version string, source Source) (Resolution, error) {
	resolved, err := r.Template.WithVersion(version).Resolve(r.URLFormat)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to resolve url format %q: %w", r.URLFormat, err)
	}

	return Resolution{
		Version: version,
		URL:     resolved,
		Source:  source,
	}, nil
}

// latestTag asks the latest release endpoint for its redirect target without following it.
func (r *Resolver) latestTag(ctx context.Context) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.LatestURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := noFollow(r.Client).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: http%d from %s", ErrNoLocation, resp.StatusCode, r.LatestURL)
	}

	return tagFromLocation(location)
}

// tagFromLocation extracts the release tag from the final path segment of a redirect target.
func tagFromLocation(location string) (string, error) {
	target, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid redirect location %q: %w", location, err)
	}

	tag := path.Base(strings.TrimSuffix(target.Path, "/"))
	// a repository without releases redirects to the release list instead of a tag
	if tag == "" || tag == "." || tag == "/" || tag == "releases" || tag == Latest {
		return "", fmt.Errorf("redirect location %q doesn't point at a release tag", location)
	}

	return tag, nil
}

// noFollow returns a copy of the client that hands redirect responses back to the caller.
func noFollow(client *http.Client) *http.Client {
	var c http.Client
	if client != nil {
		c = *client
	}

	c.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}
