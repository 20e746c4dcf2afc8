package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/MimeLyc/subvert/pkg/log"
	"github.com/google/uuid"
)

type Status int

const (
	StatusExtracted Status = iota
	StatusAlreadyPresent
)

func (s Status) String() string {
	switch s {
	case StatusExtracted:
		return "extracted"
	case StatusAlreadyPresent:
		return "already present"
	default:
		return "unknown"
	}
}

// Extraction is the result of materializing one track as a sidecar file.
type Extraction struct {
	Track      Track
	OutputPath string
	Status     Status
}

// Extractor writes subtitle tracks next to their media file as SRT.
type Extractor struct {
	runner     Runner
	ffmpeg     string
	partialDir string
}

type ExtractorOption func(*Extractor)

// WithPartialDir makes ffmpeg write in-progress output under dir instead of
// the media directory, so an interrupted run leaves nothing beside the media.
// dir is created on first use.
func WithPartialDir(dir string) ExtractorOption {
	return func(e *Extractor) {
		e.partialDir = dir
	}
}

func NewExtractor(runner Runner, ffmpegPath string, opts ...ExtractorOption) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &Extractor{runner: runner, ffmpeg: ffmpegPath}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) partialPath(output string) (string, error) {
	name := filepath.Base(output) + "." + uuid.NewString() + ".partial"
	if e.partialDir == "" {
		return filepath.Join(filepath.Dir(output), name), nil
	}
	if err := os.MkdirAll(e.partialDir, 0o755); err != nil {
		return "", fmt.Errorf("create partial directory: %w", err)
	}
	return filepath.Join(e.partialDir, name), nil
}

// Extract materializes track from target. An existing output file is never
// overwritten and ffmpeg is not invoked for it.
func (e *Extractor) Extract(ctx context.Context, target Target, track Track) (Extraction, error) {
	result := Extraction{
		Track:      track,
		OutputPath: target.OutputPath(track),
	}

	if _, err := os.Stat(result.OutputPath); err == nil {
		log.Debug("Subtitle %s already present, skipping", result.OutputPath)
		result.Status = StatusAlreadyPresent
		return result, nil
	}

	partial, err := e.partialPath(result.OutputPath)
	if err != nil {
		return result, fmt.Errorf("extract track %s: %w", track, err)
	}
	defer os.Remove(partial)

	out, err := e.runner.Run(ctx, e.ffmpeg, extractArgs(target.Path, track, partial)...)
	if err != nil {
		return result, fmt.Errorf("extract track %s: %w", track, err)
	}
	if out.ExitCode != 0 {
		return result, fmt.Errorf("extract track %s: ffmpeg exited %d: %s", track, out.ExitCode, tail(out.Diagnostic(), 512))
	}
	if _, err := os.Stat(partial); err != nil {
		return result, fmt.Errorf("extract track %s: ffmpeg produced no output: %w", track, err)
	}

	created, err := publish(partial, result.OutputPath)
	if err != nil {
		return result, fmt.Errorf("extract track %s: %w", track, err)
	}
	if !created {
		log.Debug("Subtitle %s appeared concurrently, keeping existing file", result.OutputPath)
		result.Status = StatusAlreadyPresent
		return result, nil
	}

	log.Info("Extracted subtitle %s", result.OutputPath)
	result.Status = StatusExtracted
	return result, nil
}

// publish moves src to dst only if dst does not exist. created is false
// when dst was already there.
func publish(src, dst string) (created bool, err error) {
	err = os.Link(src, dst)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}

	// Hard links fail across devices and on some filesystems; fall back to an exclusive create.
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("publish %s: %w", dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return false, fmt.Errorf("publish %s: %w", dst, err)
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return false, fmt.Errorf("publish %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return false, fmt.Errorf("publish %s: %w", dst, err)
	}
	return true, nil
}

// extractArgs maps the track by its position among subtitle streams,
// which is what the 0:s:<n> specifier counts.
func extractArgs(input string, track Track, output string) []string {
	return []string{
		"-hide_banner",
		"-i", input,
		"-map", "0:s:" + strconv.Itoa(track.Position),
		"-c:s", "srt",
		"-f", "srt",
		output,
	}
}
