package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/subvert/pkg/file"
	"golang.org/x/text/language"
)

var (
	// ErrNotVideo means the resolved file does not carry a recognized video extension.
	ErrNotVideo = errors.New("not a recognized video file")
	// ErrUnresolvable means no local candidate exists and the download fallback failed.
	ErrUnresolvable = errors.New("no usable local file")
)

// videoExts are matched case-insensitively against the file extension.
var videoExts = map[string]struct{}{
	"m4v": {}, "mp4": {}, "mov": {}, "wmv": {}, "avi": {},
	"mpg": {}, "mpeg": {}, "rmvb": {}, "rm": {}, "flv": {},
	"asf": {}, "mkv": {}, "webm": {}, "3gp": {}, "ogg": {},
}

// IsVideo reports whether path ends in a recognized video container extension.
func IsVideo(path string) bool {
	_, ok := videoExts[file.Ext(path)]
	return ok
}

// Resolved is a local media file ready to be probed.
type Resolved struct {
	Path      string
	Format    string
	Width     int
	Height    int
	Duration  float64
	FrameRate float64

	// Downloaded marks a temporary copy that must be released after use.
	Downloaded bool
}

// Track is one embedded subtitle stream.
type Track struct {
	// Index is the stream index inside the container.
	Index int
	// Position is the zero-based order among subtitle streams only.
	Position int
	// Language is the declared language qualifier, empty when absent.
	Language string
}

func (t Track) HasLanguage() bool {
	return t.Language != ""
}

// LangTag maps the declared language to a BCP 47 tag; language.Und when absent or unknown.
func (t Track) LangTag() language.Tag {
	if !t.HasLanguage() {
		return language.Und
	}
	return language.All.Make(t.Language)
}

func (t Track) String() string {
	if t.HasLanguage() {
		return fmt.Sprintf("#%d(%s)", t.Index, t.Language)
	}
	return fmt.Sprintf("#%d", t.Index)
}

// Target describes the media file subtitles are extracted from.
type Target struct {
	Path string
	Dir  string
	// Base is the file name without its extension.
	Base string
}

func NewTarget(path string) Target {
	path = filepath.Clean(path)
	return Target{
		Path: path,
		Dir:  filepath.Dir(path),
		Base: file.TrimExt(filepath.Base(path)),
	}
}

// OutputName is "{base}.{lang}.srt", or "{base}.srt" without a language.
func OutputName(base string, track Track) string {
	lang := strings.TrimSpace(track.Language)
	if lang == "" {
		return base + ".srt"
	}
	return base + "." + lang + ".srt"
}

// OutputPath joins the target directory with OutputName.
func (t Target) OutputPath(track Track) string {
	return filepath.Join(t.Dir, OutputName(t.Base, track))
}
