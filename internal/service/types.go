package service

import (
	"context"
	"time"

	"github.com/MimeLyc/subvert/internal/media"
	"github.com/MimeLyc/subvert/internal/persistence"
	"github.com/MimeLyc/subvert/internal/stash"
)

// TagWriter replaces a scene's full tag set.
type TagWriter interface {
	UpdateSceneTags(ctx context.Context, sceneID string, tagIDs []string) error
}

// Catalog is the Stash boundary: paginated reads and full tag-set writes.
type Catalog interface {
	FindScenes(ctx context.Context, filter stash.SceneFilter, page stash.PageRequest) (stash.Page, error)
	TagWriter
}

type MediaResolver interface {
	Resolve(ctx context.Context, scene stash.Scene) (media.Resolved, error)
	Release(res media.Resolved)
}

type TrackProber interface {
	Probe(ctx context.Context, path string) ([]media.Track, error)
}

type TrackExtractor interface {
	Extract(ctx context.Context, target media.Target, track media.Track) (media.Extraction, error)
}

// Recorder stores run history. persistence.SQLiteStore implements it.
type Recorder interface {
	StartRun(ctx context.Context, run persistence.Run) error
	FinishRun(ctx context.Context, run persistence.Run) error
	RecordOutcome(ctx context.Context, outcome persistence.Outcome) error
}

// ProgressReporter receives the walk's completion fraction in [0,1].
type ProgressReporter interface {
	Progress(fraction float64)
}

type RecordStatus string

const (
	StatusCompleted     RecordStatus = "completed"
	StatusNoSubtitles   RecordStatus = "no_subtitles"
	StatusNotApplicable RecordStatus = "not_applicable"
	StatusUnresolvable  RecordStatus = "unresolvable"
	StatusFailed        RecordStatus = "failed"
)

// Outcome is what processing one scene achieved, including partial progress
// made before a failure.
type Outcome struct {
	SceneID   string
	Title     string
	MediaPath string

	Tracks      []media.Track
	Extractions []media.Extraction

	// Languages and Cues summarize newly extracted sidecars.
	Languages []string
	Cues      int

	// Tagged is set when the marker was written during this pass.
	Tagged bool

	// Err is the first failure in locate, probe or extract.
	Err error
	// PersistErr is a failed tag write.
	PersistErr error
}

// Materialized counts tracks that now exist on disk.
func (o Outcome) Materialized() int {
	return len(o.Extractions)
}

func (o Outcome) Count(status media.Status) int {
	n := 0
	for _, e := range o.Extractions {
		if e.Status == status {
			n++
		}
	}
	return n
}

func (o Outcome) Status() RecordStatus {
	switch {
	case IsErrorType(o.Err, ErrNotApplicable):
		return StatusNotApplicable
	case IsErrorType(o.Err, ErrResolution):
		return StatusUnresolvable
	case o.Err != nil, o.PersistErr != nil:
		return StatusFailed
	case len(o.Tracks) == 0:
		return StatusNoSubtitles
	default:
		return StatusCompleted
	}
}

// Summary totals a walk.
type Summary struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total          int `json:"total"`
	Visited        int `json:"visited"`
	Extracted      int `json:"extracted"`
	AlreadyPresent int `json:"already_present"`
	Tagged         int `json:"tagged"`
	NoSubtitles    int `json:"no_subtitles"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`

	Error string `json:"error,omitempty"`
}

func (s *Summary) add(o Outcome) {
	s.Visited++
	s.Extracted += o.Count(media.StatusExtracted)
	s.AlreadyPresent += o.Count(media.StatusAlreadyPresent)
	if o.Tagged {
		s.Tagged++
	}
	switch o.Status() {
	case StatusNotApplicable, StatusUnresolvable:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	case StatusNoSubtitles:
		s.NoSubtitles++
	}
}

func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Status is a point-in-time view of the service for the status API.
type Status struct {
	Running   bool      `json:"running"`
	RunID     string    `json:"run_id,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Total     int       `json:"total"`
	Visited   int       `json:"visited"`
	Progress  float64   `json:"progress"`
	LastRun   *Summary  `json:"last_run,omitempty"`
}
