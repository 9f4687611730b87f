package release

import (
	"runtime"
	"strings"
	"text/template"
)

// Template contains the fields a release URL format can refer to.
type Template struct {
	// GOOS is the operating system target (e.g., "linux", "darwin")
	GOOS string
	// GOARCH is the architecture target (e.g., "amd64", "arm64")
	GOARCH string

	// Name of the artifact, e.g. "cloudflared"
	Name string
	// Version is the release tag, used as is
	Version string
}

// Platform returns a template for the running platform.
func Platform(name string) Template {
	return Template{
		GOOS:   runtime.GOOS,
		GOARCH: runtime.GOARCH,
		Name:   name,
	}
}

// WithVersion returns a copy of the template pointing at another version.
func (t Template) WithVersion(version string) Template {
	t.Version = version
	return t
}

// Resolve executes the provided format string as a template with the Template's fields.
// It returns the resolved string and any error that occurred during template parsing or execution.
func (t Template) Resolve(format string) (string, error) {
	tmpl, err := template.New("release").Option("missingkey=error").Parse(format)
	if err != nil {
		return "", err
	}

	var bld strings.Builder
	if err := tmpl.Execute(&bld, t); err != nil {
		return "", err
	}

	return bld.String(), nil
}
