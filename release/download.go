package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/aexvir/launchpad"
)

// MaxRedirects caps the number of redirect hops a download follows.
const MaxRedirects = 10

var (
	ErrNoLocation       = errors.New("redirect without location")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Download retrieves url into destination, following redirects.
// The destination file is only created once a 200 response arrives; if the transfer
// fails afterwards the partially written file is removed.
func Download(ctx context.Context, client *http.Client, url, destination string) (err error) {
	launchpad.LogDetail(fmt.Sprintf("downloading %s", url))

	start := time.Now()
	defer func() {
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			color.Red("     ✘ %s", elapsed)
			return
		}
		color.Green("     ✔ %s", elapsed)
	}()

	return download(ctx, noFollow(client), url, destination, 0)
}

func download(ctx context.Context, client *http.Client, url, destination string, hops int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return store(resp, destination)

	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		location := resp.Header.Get("Location")
		if location == "" {
			return fmt.Errorf("%w: http%d from %s", ErrNoLocation, resp.StatusCode, url)
		}
		if hops >= MaxRedirects {
			return fmt.Errorf("%w: gave up after %d hops at %s", ErrTooManyRedirects, hops, url)
		}

		// locations may be relative to the url that issued them
		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return fmt.Errorf("invalid redirect location %q: %w", location, err)
		}

		return download(ctx, client, next.String(), destination, hops+1)

	default:
		return fmt.Errorf("%w: http%d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}
}

// store streams the response body into destination, removing it again on failure.
func store(resp *http.Response, destination string) (err error) {
	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", destination, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file %s: %w", destination, cerr)
		}
		if err != nil {
			_ = os.Remove(destination)
		}
	}()

	data, finish := progress(resp.Body, resp.ContentLength)
	defer finish()

	if _, err := io.Copy(out, data); err != nil {
		return fmt.Errorf("failed to copy data to file %s: %w", destination, err)
	}

	return nil
}

// progress wraps an io.Reader to display a progress bar when running in a terminal.
// Returns the wrapped reader and a function to finalize the progress display.
// Unknown sizes (chunked responses) still show counters and speed.
func progress(reader io.Reader, size int64) (io.Reader, func()) {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return reader, func() {}
	}

	bar := pb.
		New64(max(size, 0)).
		SetTemplate(
			pb.ProgressBarTemplate(
				color.New(color.FgHiBlack).Sprint(
					`     {{counters . }}` +
						` {{bar . "[" "=" ">" " " "]" }} {{percent . }}` +
						` {{speed . }}`,
				),
			),
		).
		Set(pb.Bytes, true).
		SetWriter(os.Stderr).
		SetRefreshRate(time.Second / 30).
		SetMaxWidth(100).
		Start()

	return bar.NewProxyReader(reader), func() { bar.Finish() }
}
