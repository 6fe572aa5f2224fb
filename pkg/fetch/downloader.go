// Package fetch is the network layer of ffupdaterd: a shared HTTP client, an
// asynchronous downloader for package files and API responses, and the
// process-wide running-download counter other components consult before
// starting network heavy work.
package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ffupdater/ffupdaterd/pkg/logger"
	"github.com/spf13/afero"
)

const (
	// DefaultRateLimitedAPI answers 403 when its rate limit is exhausted.
	DefaultRateLimitedAPI = "https://api.github.com"
	// MaxSmallBodySize caps in-memory responses.
	MaxSmallBodySize = 16 * megabyte
	// PartialSuffix marks a package file that is still being written. The
	// file only gets its final name once the body was read completely.
	PartialSuffix = ".part"

	reachabilityTimeout = 10 * time.Second
	copyBufferSize      = 32 * 1024
)

// Options configures a Downloader.
type Options struct {
	// Client is the shared HTTP client. Required.
	Client *http.Client
	// Fs receives downloaded files. Defaults to the OS filesystem.
	Fs afero.Fs
	// Counter is the process-wide running-download counter. A private one
	// is created when nil.
	Counter *RunningDownloads
	// RateLimitedAPI is the URL prefix whose 403 answers mean rate limiting.
	RateLimitedAPI string
	Logger         logger.Logger
}

// Downloader runs large (to file) and small (to memory) downloads on
// background goroutines.
type Downloader struct {
	client         *http.Client
	fs             afero.Fs
	counter        *RunningDownloads
	rateLimitedAPI string
	log            logger.Logger

	mu       sync.Mutex
	inflight map[string]*Handle[int64]
	current  *Handle[int64]
}

// New creates a Downloader. The client is reused for every request.
func New(opts Options) *Downloader {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Counter == nil {
		opts.Counter = NewRunningDownloads(nil)
	}
	if opts.RateLimitedAPI == "" {
		opts.RateLimitedAPI = DefaultRateLimitedAPI
	}
	return &Downloader{
		client:         opts.Client,
		fs:             opts.Fs,
		counter:        opts.Counter,
		rateLimitedAPI: opts.RateLimitedAPI,
		log:            logger.OrNop(opts.Logger),
		inflight:       make(map[string]*Handle[int64]),
	}
}

// Counter returns the running-download counter used by d.
func (d *Downloader) Counter() *RunningDownloads {
	return d.counter
}

// IsAnyDownloadRunning reports whether a large download is in flight.
func (d *Downloader) IsAnyDownloadRunning() bool {
	return d.counter.IsAnyRunning()
}

// Current returns the most recently started large download, or nil. It is a
// monitoring handle only; concurrent downloads are not prevented.
func (d *Downloader) Current() *Handle[int64] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func requestKey(rawURL, dest string) string {
	return rawURL + "\x00" + dest
}

// DownloadLarge streams rawURL into dest and resolves to the number of bytes
// written. An in-flight download with the same URL and destination is
// reused instead of started twice; the new onProgress replaces the old one.
// The download lives as long as ctx or until Cancel is called on the handle.
func (d *Downloader) DownloadLarge(ctx context.Context, rawURL, dest string, onProgress ProgressFunc) *Handle[int64] {
	key := requestKey(rawURL, dest)

	d.mu.Lock()
	if h, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		h.SetProgressFunc(onProgress)
		d.log.Debug("Downloader: attach to running download of %s", rawURL)
		return h
	}
	dctx, cancel := context.WithCancel(ctx)
	h := newHandle[int64](key, cancel, onProgress)
	d.inflight[key] = h
	d.current = h
	// acquire before returning so the probe is true as soon as the caller
	// holds the handle
	release := d.counter.Acquire()
	d.mu.Unlock()

	go func() {
		var (
			n   int64
			err error
		)
		func() {
			defer release()
			defer recoverInto(d.log, "download "+rawURL, &err)
			n, err = d.downloadToFile(dctx, rawURL, dest, h.reportProgress)
		}()
		if err != nil {
			err = &NetworkError{Op: "download", URL: rawURL, Err: err}
			d.log.Warning("Downloader: %v", err)
		}
		d.mu.Lock()
		if d.inflight[key] == h {
			delete(d.inflight, key)
		}
		d.mu.Unlock()
		h.finish(n, err)
	}()
	return h
}

func (d *Downloader) downloadToFile(ctx context.Context, rawURL, dest string, onProgress ProgressFunc) (n int64, err error) {
	resp, err := d.call(ctx, http.MethodGet, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := d.validateResponse(rawURL, resp); err != nil {
		return 0, err
	}

	if err := d.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	part := dest + PartialSuffix
	f, err := d.fs.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer func() {
		if f != nil {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close file: %w", cerr)
			}
		}
		if err != nil {
			_ = d.fs.Remove(part)
		}
	}()

	w := bufio.NewWriterSize(f, copyBufferSize)
	r := NewProgressReader(resp.Body, resp.ContentLength, onProgress)
	n, err = io.CopyBuffer(w, r, make([]byte, copyBufferSize))
	if err != nil {
		return n, err
	}
	if err = w.Flush(); err != nil {
		return n, fmt.Errorf("flush file: %w", err)
	}
	err = f.Close()
	f = nil
	if err != nil {
		return n, fmt.Errorf("close file: %w", err)
	}
	if err = d.fs.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return n, fmt.Errorf("remove old file: %w", err)
	}
	if err = d.fs.Rename(part, dest); err != nil {
		return n, fmt.Errorf("rename file: %w", err)
	}
	return n, nil
}

// DownloadSmall fetches rawURL into memory. It does not touch the
// running-download counter.
func (d *Downloader) DownloadSmall(ctx context.Context, rawURL string) *Handle[string] {
	dctx, cancel := context.WithCancel(ctx)
	h := newHandle[string](rawURL, cancel, nil)
	go func() {
		var (
			body string
			err  error
		)
		func() {
			defer recoverInto(d.log, "request "+rawURL, &err)
			body, err = d.downloadToMemory(dctx, rawURL)
		}()
		if err != nil {
			err = &NetworkError{Op: "request of HTTP-API", URL: rawURL, Err: err}
		}
		h.finish(body, err)
	}()
	return h
}

func (d *Downloader) downloadToMemory(ctx context.Context, rawURL string) (string, error) {
	resp, err := d.call(ctx, http.MethodGet, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := d.validateResponse(rawURL, resp); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSmallBodySize+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxSmallBodySize {
		return "", ErrBodyTooLarge
	}
	return string(data), nil
}

// IsHostReachable sends a HEAD request to https://hostname. Any HTTP answer
// counts as reachable.
func (d *Downloader) IsHostReachable(ctx context.Context, hostname string) bool {
	ctx, cancel := context.WithTimeout(ctx, reachabilityTimeout)
	defer cancel()
	resp, err := d.call(ctx, http.MethodHead, "https://"+hostname)
	if err != nil {
		d.log.Debug("Downloader: %s is not reachable: %v", hostname, err)
		return false
	}
	resp.Body.Close()
	return true
}

func (d *Downloader) call(ctx context.Context, method, rawURL string) (*http.Response, error) {
	if !strings.HasPrefix(rawURL, "https://") {
		return nil, ErrInvalidRequest
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return d.client.Do(req)
}

func (d *Downloader) validateResponse(rawURL string, resp *http.Response) error {
	if strings.HasPrefix(rawURL, d.rateLimitedAPI) && resp.StatusCode == http.StatusForbidden {
		return &RateLimitError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP code %d", ErrUnsuccessfulResponse, resp.StatusCode)
	}
	if resp.Body == nil {
		return ErrMissingBody
	}
	return nil
}

func recoverInto(l logger.Logger, what string, err *error) {
	if r := recover(); r != nil {
		l.Error("Downloader: PANIC [%s]: %v\n%s", what, r, debug.Stack())
		*err = fmt.Errorf("panic during %s: %v", what, r)
	}
}
