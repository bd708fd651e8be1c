package model

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// Fetcher copies a remote artifact into dst.
type Fetcher interface {
	Fetch(ctx context.Context, dst io.Writer) error
	// Source identifies the remote artifact in logs and errors.
	Source() string
}

const driveScheme = "drive://"

// NewFetcher picks a fetcher for source: an http(s) URL or drive://<fileID>.
// An empty source returns a nil Fetcher. Progress, if non-nil, receives a progress bar.
func NewFetcher(source, driveAPIKey string, timeout time.Duration, progress io.Writer) (Fetcher, error) {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return nil, nil
	case strings.HasPrefix(source, driveScheme):
		fileID := strings.Trim(strings.TrimPrefix(source, driveScheme), "/")
		if fileID == "" {
			return nil, fmt.Errorf("drive source %q has no file id", source)
		}
		return &DriveFetcher{FileID: fileID, APIKey: driveAPIKey, Timeout: timeout, Progress: progress}, nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid source %q: %w", source, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
	return &HTTPFetcher{URL: source, Client: newHTTPClient(timeout), Progress: progress}, nil
}

// HTTPFetcher downloads the artifact with a plain GET.
type HTTPFetcher struct {
	URL      string
	Client   *http.Client
	Progress io.Writer
}

func (f *HTTPFetcher) Source() string {
	return f.URL
}

func (f *HTTPFetcher) Fetch(ctx context.Context, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return err
	}
	client := f.Client
	if client == nil {
		client = newHTTPClient(0)
	}
	rsp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", f.URL, rsp.Status)
	}
	_, err = copyWithProgress(dst, rsp.Body, rsp.ContentLength, f.Progress)
	return err
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress io.Writer) (int64, error) {
	if progress == nil {
		return io.Copy(dst, src)
	}
	bar := pb.New64(total).SetTemplate(pb.Full).SetWriter(progress).Start()
	defer bar.Finish()
	return io.Copy(dst, bar.NewProxyReader(src))
}

// newHTTPClient never relies on http.DefaultClient, which has no timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: t}
}
