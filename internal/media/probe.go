package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MimeLyc/subvert/pkg/log"
)

// subtitleStream matches ffmpeg stream headers such as
//
//	Stream #0:2(eng): Subtitle: subrip
//	Stream #0:3[0x1a](jpn): Subtitle: hdmv_pgs_subtitle
//	Stream #0:4: Subtitle: mov_text
var subtitleStream = regexp.MustCompile(`Stream #\d+:(\d+)(?:\[0x[0-9a-fA-F]+\])?(?:\(([^)]*)\))?:[\t ]+Subtitle:`)

var streamHeader = []byte("Stream #")

// ParseTracks extracts subtitle streams from ffmpeg diagnostic text,
// in declaration order. No subtitle streams yields an empty slice.
func ParseTracks(diagnostic []byte) []Track {
	tracks := make([]Track, 0)
	scanner := bufio.NewScanner(bytes.NewReader(diagnostic))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := subtitleStream.FindSubmatch(scanner.Bytes())
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(string(m[1]))
		if err != nil {
			continue
		}
		tracks = append(tracks, Track{
			Index:    index,
			Position: len(tracks),
			Language: strings.TrimSpace(string(m[2])),
		})
	}
	return tracks
}

// Prober lists the subtitle streams of a media file with `ffmpeg -i`.
type Prober struct {
	runner Runner
	ffmpeg string
}

func NewProber(runner Runner, ffmpegPath string) *Prober {
	if runner == nil {
		runner = ExecRunner{}
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Prober{runner: runner, ffmpeg: ffmpegPath}
}

func (p *Prober) Probe(ctx context.Context, path string) ([]Track, error) {
	out, err := p.runner.Run(ctx, p.ffmpeg, probeArgs(path)...)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}

	diagnostic := out.Diagnostic()
	// Without an output file ffmpeg always exits 1; only a missing stream
	// listing means the input could not be read.
	if out.ExitCode != 0 && !bytes.Contains(diagnostic, streamHeader) {
		return nil, fmt.Errorf("probe %s: ffmpeg exited %d: %s", path, out.ExitCode, tail(diagnostic, 512))
	}

	tracks := ParseTracks(diagnostic)
	log.Debug("Probed %s: %d subtitle tracks", path, len(tracks))
	return tracks, nil
}

func probeArgs(path string) []string {
	return []string{"-hide_banner", "-i", path}
}
