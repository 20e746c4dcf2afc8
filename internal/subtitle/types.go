package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Line is a single SRT cue.
type Line struct {
	Index     int
	StartTime time.Duration
	EndTime   time.Duration
	Text      string
}

// File is a parsed subtitle file.
type File struct {
	Lines    []Line
	Language language.Tag
	Format   string // e.g. SRT
	Path     string
}

// Summary describes an extracted sidecar for the run ledger.
type Summary struct {
	Cues     int
	Duration time.Duration // end of the last cue
	Language language.Tag  // detected from cue text
}

func (f *File) Summary() Summary {
	s := Summary{Cues: len(f.Lines), Language: f.Language}
	for _, l := range f.Lines {
		if l.EndTime > s.Duration {
			s.Duration = l.EndTime
		}
	}
	return s
}
