package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MimeLyc/subvert/internal/stash"
	"github.com/MimeLyc/subvert/pkg/file"
	"github.com/MimeLyc/subvert/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Downloader fetches a remote stream into a local temporary file.
type Downloader interface {
	Download(ctx context.Context, url, ext string) (string, error)
}

// Resolver finds a local file for a scene, downloading its stream when no
// candidate path exists on this machine.
type Resolver struct {
	downloader Downloader
}

func NewResolver(downloader Downloader) *Resolver {
	return &Resolver{downloader: downloader}
}

// Resolve returns ErrUnresolvable when no file can be obtained and ErrNotVideo
// when the file is not a recognized video container.
func (r *Resolver) Resolve(ctx context.Context, scene stash.Scene) (Resolved, error) {
	if len(scene.Files) == 0 {
		return Resolved{}, fmt.Errorf("scene %s has no files: %w", scene.ID, ErrUnresolvable)
	}

	res, found := localCandidate(scene.Files)
	if !found {
		var err error
		res, err = r.download(ctx, scene)
		if err != nil {
			return Resolved{}, err
		}
	}

	if !IsVideo(res.Path) {
		r.Release(res)
		return Resolved{}, fmt.Errorf("scene %s file %s: %w", scene.ID, res.Path, ErrNotVideo)
	}
	return res, nil
}

// Release removes a downloaded copy. Local files are left alone.
func (r *Resolver) Release(res Resolved) {
	if !res.Downloaded || res.Path == "" {
		return
	}
	if err := os.Remove(res.Path); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to remove downloaded file %s: %v", res.Path, err)
	}
}

func localCandidate(files []stash.VideoFile) (Resolved, bool) {
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil || info.IsDir() {
			continue
		}
		return resolvedFrom(f, f.Path), true
	}
	return Resolved{}, false
}

func (r *Resolver) download(ctx context.Context, scene stash.Scene) (Resolved, error) {
	if r.downloader == nil || scene.Paths.Stream == "" {
		return Resolved{}, fmt.Errorf("scene %s: no local file and no stream to download: %w", scene.ID, ErrUnresolvable)
	}

	first := scene.Files[0]
	ext := file.Ext(first.Path)
	if ext == "" {
		ext = "mp4"
	}

	path, err := r.downloader.Download(ctx, scene.Paths.Stream, ext)
	if err != nil {
		return Resolved{}, fmt.Errorf("scene %s: %v: %w", scene.ID, err, ErrUnresolvable)
	}

	res := resolvedFrom(first, path)
	res.Downloaded = true
	return res, nil
}

func resolvedFrom(f stash.VideoFile, path string) Resolved {
	return Resolved{
		Path:      path,
		Format:    f.Format,
		Width:     f.Width,
		Height:    f.Height,
		Duration:  f.Duration,
		FrameRate: f.FrameRate,
	}
}

// HTTPDownloader streams URLs into the scratch directory as downloaded_<uuid>.<ext>.
type HTTPDownloader struct {
	client    *http.Client
	dir       string
	authorize func(*http.Request)
}

type DownloaderOption func(*HTTPDownloader)

// WithAuthorizer applies credentials to every download request.
func WithAuthorizer(fn func(*http.Request)) DownloaderOption {
	return func(d *HTTPDownloader) {
		d.authorize = fn
	}
}

func WithDownloadClient(client *http.Client) DownloaderOption {
	return func(d *HTTPDownloader) {
		if client != nil {
			d.client = client
		}
	}
}

func NewHTTPDownloader(dir string, opts ...DownloaderOption) *HTTPDownloader {
	d := &HTTPDownloader{
		client: &http.Client{Timeout: 30 * time.Minute},
		dir:    dir,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *HTTPDownloader) Download(ctx context.Context, url, ext string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if d.authorize != nil {
		d.authorize(req)
	}

	started := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	path := filepath.Join(d.dir, fmt.Sprintf("downloaded_%s.%s", uuid.NewString(), ext))
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	log.Debug("Downloaded %s to %s in %s", humanize.Bytes(uint64(n)), path, time.Since(started).Round(time.Millisecond))
	return path, nil
}
