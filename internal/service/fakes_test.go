package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MimeLyc/subvert/internal/completion"
	"github.com/MimeLyc/subvert/internal/config"
	"github.com/MimeLyc/subvert/internal/media"
	"github.com/MimeLyc/subvert/internal/stash"
	"github.com/MimeLyc/subvert/internal/walker"
	"github.com/stretchr/testify/require"
)

type tagUpdate struct {
	SceneID string
	Tags    []string
}

// fakeCatalog serves scenes from memory and applies tag updates to them.
type fakeCatalog struct {
	mu         sync.Mutex
	scenes     []stash.Scene
	updates    []tagUpdate
	pageCalls  int
	failPage   int
	failUpdate map[string]bool
}

func (c *fakeCatalog) FindScenes(_ context.Context, filter stash.SceneFilter, page stash.PageRequest) (stash.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageCalls++
	if c.failPage == page.Page {
		return stash.Page{}, errors.New("connection reset by peer")
	}

	var matched []stash.Scene
	for _, s := range c.scenes {
		if filter.ExcludeTagID != "" && slices.Contains(s.TagIDs(), filter.ExcludeTagID) {
			continue
		}
		cp := s
		cp.Tags = slices.Clone(s.Tags)
		matched = append(matched, cp)
	}

	start := min((page.Page-1)*page.PerPage, len(matched))
	end := min(start+page.PerPage, len(matched))
	return stash.Page{Count: len(matched), Scenes: matched[start:end]}, nil
}

func (c *fakeCatalog) UpdateSceneTags(_ context.Context, sceneID string, tagIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, tagUpdate{SceneID: sceneID, Tags: slices.Clone(tagIDs)})
	if c.failUpdate[sceneID] {
		return errors.New("sceneUpdate: forbidden")
	}
	for i := range c.scenes {
		if c.scenes[i].ID != sceneID {
			continue
		}
		c.scenes[i].Tags = c.scenes[i].Tags[:0:0]
		for _, id := range tagIDs {
			c.scenes[i].Tags = append(c.scenes[i].Tags, stash.Tag{ID: id})
		}
	}
	return nil
}

func (c *fakeCatalog) updatesFor(sceneID string) []tagUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ret []tagUpdate
	for _, u := range c.updates {
		if u.SceneID == sceneID {
			ret = append(ret, u)
		}
	}
	return ret
}

// scriptRunner plays ffmpeg: probes answer from listings, extractions
// write a small SRT unless the track position is set to fail.
type scriptRunner struct {
	mu       sync.Mutex
	listings map[string]string
	failing  map[string]map[int]bool
	extracts []string
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{
		listings: make(map[string]string),
		failing:  make(map[string]map[int]bool),
	}
}

func (r *scriptRunner) Run(_ context.Context, _ string, args ...string) (media.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	input := args[slices.Index(args, "-i")+1]
	mapIdx := slices.Index(args, "-map")
	if mapIdx < 0 {
		listing, ok := r.listings[input]
		if !ok {
			return media.Output{Stderr: []byte(input + ": Invalid data found when processing input"), ExitCode: 1}, nil
		}
		return media.Output{Stderr: []byte(listing), ExitCode: 1}, nil
	}

	var pos int
	_, _ = fmt.Sscanf(args[mapIdx+1], "0:s:%d", &pos)
	r.extracts = append(r.extracts, fmt.Sprintf("%s#%d", filepath.Base(input), pos))
	if r.failing[input][pos] {
		return media.Output{Stderr: []byte("Subtitle encoding failed"), ExitCode: 1}, nil
	}

	srt := "1\n00:00:01,000 --> 00:00:02,000\nHello there, how are you doing today my friend?\n"
	return media.Output{}, os.WriteFile(args[len(args)-1], []byte(srt), 0o644)
}

func (r *scriptRunner) extractCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.extracts)
}

// listing renders ffmpeg stream headers: a video stream followed by one
// subtitle stream per language ("" for no qualifier).
func listing(langs ...string) string {
	var b strings.Builder
	b.WriteString("Input #0, matroska,webm, from 'x.mkv':\n")
	b.WriteString("  Stream #0:0(eng): Video: h264, yuv420p, 1920x1080\n")
	for i, lang := range langs {
		if lang == "" {
			fmt.Fprintf(&b, "  Stream #0:%d: Subtitle: subrip\n", i+1)
		} else {
			fmt.Fprintf(&b, "  Stream #0:%d(%s): Subtitle: subrip\n", i+1, lang)
		}
	}
	b.WriteString("At least one output file must be specified\n")
	return b.String()
}

type recordingProgress struct {
	mu     sync.Mutex
	values []float64
}

func (p *recordingProgress) Progress(fraction float64) {
	p.mu.Lock()
	p.values = append(p.values, fraction)
	p.mu.Unlock()
}

type testEnv struct {
	dir      string
	scratch  string
	cfg      config.Config
	catalog  *fakeCatalog
	runner   *scriptRunner
	progress *recordingProgress
	svc      *Service
}

// newTestEnv creates a media directory and a Service wired with the real
// resolver, prober and extractor over scriptRunner.
func newTestEnv(t *testing.T, marker string, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{
		dir:      t.TempDir(),
		scratch:  t.TempDir(),
		catalog:  &fakeCatalog{failUpdate: map[string]bool{}},
		runner:   newScriptRunner(),
		progress: &recordingProgress{},
	}

	cfg := config.Default()
	cfg.Walk.MarkerTagID = marker
	cfg.Walk.ExcludeMarked = false
	cfg.Walk.PageDelay = 0
	cfg.Media.ScratchDir = env.scratch
	cfg.System.DataDir = t.TempDir()
	env.cfg = cfg

	processor := NewProcessor(
		media.NewResolver(nil),
		media.NewProber(env.runner, "ffmpeg"),
		media.NewExtractor(env.runner, "ffmpeg", media.WithPartialDir(env.scratch)),
		env.catalog,
		completion.NewTracker(marker),
	)
	opts = append([]Option{WithPacer(walker.NoDelay{}), WithProgress(env.progress)}, opts...)
	env.svc = New(cfg, env.catalog, processor, opts...)
	return env
}

// addScene creates name in the media directory and registers a scene for it.
func (e *testEnv) addScene(t *testing.T, id, name, diagnostic string, tags ...string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	if diagnostic != "" {
		e.runner.listings[path] = diagnostic
	}

	scene := stash.Scene{
		ID:    id,
		Title: "scene " + id,
		Files: []stash.VideoFile{{ID: "f" + id, Path: path, Format: "matroska"}},
	}
	for _, tag := range tags {
		scene.Tags = append(scene.Tags, stash.Tag{ID: tag})
	}
	e.catalog.scenes = append(e.catalog.scenes, scene)
	return path
}
