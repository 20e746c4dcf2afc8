package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/MimeLyc/subvert/internal/completion"
	"github.com/MimeLyc/subvert/internal/config"
	"github.com/MimeLyc/subvert/internal/media"
	"github.com/MimeLyc/subvert/internal/persistence"
	"github.com/MimeLyc/subvert/internal/stash"
	"github.com/MimeLyc/subvert/internal/walker"
	"github.com/MimeLyc/subvert/pkg/file"
	"github.com/MimeLyc/subvert/pkg/log"
)

// scratchPatterns are leftovers of earlier runs in the scratch directory.
var scratchPatterns = []string{"*.srt", "downloaded_*", "*.partial"}

// Pruner drops run history older than a cutoff.
type Pruner interface {
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service walks the catalog and extracts subtitles one scene at a time.
type Service struct {
	cfg       config.Config
	catalog   Catalog
	processor *Processor
	pacer     walker.Pacer
	recorder  Recorder
	progress  ProgressReporter
	lockPath  string

	mu     sync.Mutex
	status Status
}

type Option func(*Service)

// logProgress forwards to the global logger, which renders plugin progress lines.
type logProgress struct{}

func (logProgress) Progress(fraction float64) {
	log.Progress(fraction)
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

func WithProgress(p ProgressReporter) Option {
	return func(s *Service) {
		if p != nil {
			s.progress = p
		}
	}
}

func WithPacer(p walker.Pacer) Option {
	return func(s *Service) {
		if p != nil {
			s.pacer = p
		}
	}
}

// WithInstanceLock holds a file lock at path for the duration of each run.
func WithInstanceLock(path string) Option {
	return func(s *Service) {
		s.lockPath = path
	}
}

func New(cfg config.Config, catalog Catalog, processor *Processor, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		catalog:   catalog,
		processor: processor,
		pacer:     walker.FixedDelay(cfg.Walk.PageDelay),
		progress:  logProgress{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewProcessorFromConfig wires the Stash client, ffmpeg and the download
// fallback for cfg.
func NewProcessorFromConfig(cfg config.Config, client *stash.Client) *Processor {
	downloader := media.NewHTTPDownloader(cfg.Media.ScratchDir, media.WithAuthorizer(client.Authorize))
	runner := media.ExecRunner{}
	return NewProcessor(
		media.NewResolver(downloader),
		media.NewProber(runner, cfg.Media.FFmpegPath),
		media.NewExtractor(runner, cfg.Media.FFmpegPath, media.WithPartialDir(cfg.Media.ScratchDir)),
		client,
		completion.NewTracker(cfg.MarkerTag()),
	)
}

// NewStashClient builds the catalog client for cfg.
func NewStashClient(cfg config.Config) *stash.Client {
	return stash.NewClient(
		cfg.Stash.URL,
		stash.WithAPIKey(cfg.Stash.APIKey),
		stash.WithSessionCookie(cfg.Stash.SessionCookie.Name, cfg.Stash.SessionCookie.Value),
		stash.WithHTTPClient(&http.Client{Timeout: cfg.Stash.Timeout}),
	)
}

// NewFromConfig wires a Service against the Stash server and ffmpeg named in cfg.
func NewFromConfig(cfg config.Config, opts ...Option) *Service {
	client := NewStashClient(cfg)
	return New(cfg, client, NewProcessorFromConfig(cfg, client), opts...)
}

// Run performs one walk. Per-scene failures are counted in the Summary;
// only a page fetch failure (or cancellation) returns an error.
func (s *Service) Run(ctx context.Context, trigger string) (Summary, error) {
	if s.lockPath != "" {
		lock, err := AcquireInstanceLock(s.lockPath)
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			return Summary{}, err
		case err != nil:
			// sidecar publishing is still atomic per file without the lock
			log.Warn("Running without instance lock: %v", err)
		default:
			defer func() {
				if err := lock.Release(); err != nil {
					log.Warn("Failed to release instance lock: %v", err)
				}
			}()
		}
	}

	summary := Summary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	s.begin(summary)
	log.Info("Starting walk %s (%s)", summary.RunID, trigger)

	// ledger writes must land even when ctx is cancelled mid-walk
	recordCtx := context.WithoutCancel(ctx)

	s.clearScratch()
	if s.recorder != nil {
		if err := s.recorder.StartRun(recordCtx, toRun(summary, persistence.RunRunning)); err != nil {
			log.Warn("Failed to record run start: %v", err)
		}
	}

	w := walker.New(s.catalog, walker.Options{
		Filter:  s.filter(),
		PerPage: s.cfg.Walk.BatchSize,
		Sort:    s.cfg.Walk.SortField,
		Pacer:   s.pacer,
	})

	var runErr error
	for {
		scene, ok, err := w.Next(ctx)
		if err != nil {
			runErr = WrapError(err, ErrPageFetch, "walk stopped").WithContext("page", w.PagesFetched()+1)
			log.Error("Walk %s stopped: %v", summary.RunID, err)
			break
		}
		if !ok {
			break
		}
		summary.Total = w.Total()

		out := s.processSafely(ctx, scene)
		summary.add(out)
		s.recordOutcome(recordCtx, summary, out)

		fraction := w.Progress()
		s.progress.Progress(fraction)
		s.update(summary, fraction)
	}

	summary.Total = w.Total()
	if runErr == nil && summary.Total > 0 {
		s.progress.Progress(1)
	}
	summary.FinishedAt = time.Now()
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	s.finish(recordCtx, summary, runErr)
	return summary, runErr
}

func (s *Service) filter() stash.SceneFilter {
	filter := stash.SceneFilter{PathRegex: s.cfg.Walk.PathRegex}
	if s.cfg.Walk.ExcludeMarked {
		filter.ExcludeTagID = s.cfg.MarkerTag()
	}
	return filter
}

func (s *Service) processSafely(ctx context.Context, scene stash.Scene) (out Outcome) {
	err := SafeExecute(func() error {
		out = s.processor.Process(ctx, scene)
		return nil
	})
	if err != nil {
		log.Error("Scene %s panicked: %v", scene.ID, err)
		out = Outcome{SceneID: scene.ID, Title: scene.Title, Err: err}
	}
	return out
}

func (s *Service) clearScratch() {
	removed, err := file.RemoveMatching(s.cfg.Media.ScratchDir, scratchPatterns...)
	if err != nil {
		log.Error("Could not clear scratch directory %s: %v", s.cfg.Media.ScratchDir, err)
	}
	log.Debug("Cleared scratch directory %s (%d files)", s.cfg.Media.ScratchDir, len(removed))
}

func (s *Service) recordOutcome(ctx context.Context, summary Summary, out Outcome) {
	if s.recorder == nil {
		return
	}
	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
	} else if out.PersistErr != nil {
		errMsg = out.PersistErr.Error()
	}
	record := persistence.Outcome{
		RunID:          summary.RunID,
		Seq:            summary.Visited,
		SceneID:        out.SceneID,
		Title:          out.Title,
		MediaPath:      out.MediaPath,
		Status:         string(out.Status()),
		Tracks:         len(out.Tracks),
		Extracted:      out.Count(media.StatusExtracted),
		AlreadyPresent: out.Count(media.StatusAlreadyPresent),
		Tagged:         out.Tagged,
		Cues:           out.Cues,
		Languages:      out.Languages,
		Error:          errMsg,
	}
	if err := s.recorder.RecordOutcome(ctx, record); err != nil {
		log.Warn("Failed to record outcome of scene %s: %v", out.SceneID, err)
	}
}

func (s *Service) finish(ctx context.Context, summary Summary, runErr error) {
	status := persistence.RunCompleted
	if runErr != nil {
		status = persistence.RunFailed
	}
	if s.recorder != nil {
		if err := s.recorder.FinishRun(ctx, toRun(summary, status)); err != nil {
			log.Warn("Failed to record run end: %v", err)
		}
		s.prune(ctx)
	}

	s.mu.Lock()
	last := summary
	s.status = Status{LastRun: &last}
	s.mu.Unlock()

	log.Info(
		"Walk %s finished in %s: %s of %s scenes visited, %d extracted, %d already present, %d tagged, %d without subtitles, %d skipped, %d failed",
		summary.RunID,
		summary.Duration().Round(time.Millisecond),
		humanize.Comma(int64(summary.Visited)),
		humanize.Comma(int64(summary.Total)),
		summary.Extracted,
		summary.AlreadyPresent,
		summary.Tagged,
		summary.NoSubtitles,
		summary.Skipped,
		summary.Failed,
	)
}

func (s *Service) prune(ctx context.Context) {
	retention := s.cfg.System.HistoryRetention
	pruner, ok := s.recorder.(Pruner)
	if !ok || retention <= 0 {
		return
	}
	n, err := pruner.DeleteRunsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Warn("Failed to prune run history: %v", err)
		return
	}
	if n > 0 {
		log.Debug("Pruned %d runs older than %s", n, retention)
	}
}

func (s *Service) begin(summary Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{
		Running:   true,
		RunID:     summary.RunID,
		Trigger:   summary.Trigger,
		StartedAt: summary.StartedAt,
		LastRun:   s.status.LastRun,
	}
}

func (s *Service) update(summary Summary, fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Total = summary.Total
	s.status.Visited = summary.Visited
	s.status.Progress = fraction
}

// Status returns a snapshot of the current or last walk.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	if status.LastRun != nil {
		last := *status.LastRun
		status.LastRun = &last
	}
	return status
}

func toRun(summary Summary, status persistence.RunStatus) persistence.Run {
	return persistence.Run{
		ID:             summary.RunID,
		Trigger:        summary.Trigger,
		Status:         status,
		StartedAt:      summary.StartedAt,
		FinishedAt:     summary.FinishedAt,
		Total:          summary.Total,
		Visited:        summary.Visited,
		Extracted:      summary.Extracted,
		AlreadyPresent: summary.AlreadyPresent,
		Tagged:         summary.Tagged,
		Skipped:        summary.Skipped,
		Failed:         summary.Failed,
		Error:          summary.Error,
	}
}
