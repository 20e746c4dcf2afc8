package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/MimeLyc/subvert/internal/completion"
	"github.com/MimeLyc/subvert/internal/media"
	"github.com/MimeLyc/subvert/internal/persistence"
	"github.com/MimeLyc/subvert/internal/stash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RunIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "alpha.mkv", listing("eng", "jpn"), "3")
	env.addScene(t, "2", "beta.mkv", listing(""))
	ctx := context.Background()

	first, err := env.svc.Run(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Extracted)
	assert.Equal(t, 2, first.Tagged)
	assert.Equal(t, 3, env.runner.extractCount())
	assert.FileExists(t, filepath.Join(env.dir, "alpha.eng.srt"))
	assert.FileExists(t, filepath.Join(env.dir, "alpha.jpn.srt"))
	assert.FileExists(t, filepath.Join(env.dir, "beta.srt"))

	require.Len(t, env.catalog.updatesFor("1"), 1)
	assert.Equal(t, []string{"3", "99"}, env.catalog.updatesFor("1")[0].Tags)

	second, err := env.svc.Run(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Extracted)
	assert.Equal(t, 3, second.AlreadyPresent)
	assert.Equal(t, 0, second.Tagged)
	assert.Equal(t, 3, env.runner.extractCount(), "second run must not invoke ffmpeg extraction")
	assert.Len(t, env.catalog.updates, 2, "second run must not write tags")
}

func TestService_ExcludeMarkedSkipsTaggedScenes(t *testing.T) {
	env := newTestEnv(t, "99")
	env.cfg.Walk.ExcludeMarked = true
	env.svc.cfg = env.cfg
	env.addScene(t, "1", "alpha.mkv", listing("eng"), "99")
	env.addScene(t, "2", "beta.mkv", listing("eng"))

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Visited)
	assert.NoFileExists(t, filepath.Join(env.dir, "alpha.eng.srt"))
}

func TestService_FilesystemGuard(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "movie.mkv", listing("eng", ""))
	existing := filepath.Join(env.dir, "movie.eng.srt")
	require.NoError(t, os.WriteFile(existing, []byte("hand made"), 0o644))

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, []string{"movie.mkv#1"}, env.runner.extracts)
	assert.Equal(t, 1, summary.AlreadyPresent)
	assert.Equal(t, 1, summary.Extracted)
	content, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "hand made", string(content))
	assert.Len(t, env.catalog.updatesFor("1"), 1)
}

func TestService_NoSubtitlesNeverMarked(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "silent.mkv", listing())

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NoSubtitles)
	assert.Equal(t, 0, summary.Tagged)
	assert.Empty(t, env.catalog.updates)
}

func TestService_PartialCredit(t *testing.T) {
	env := newTestEnv(t, "99")
	path := env.addScene(t, "1", "movie.mkv", listing("eng", "fre", "ger"), "5")
	env.runner.failing[path] = map[int]bool{1: true}
	env.addScene(t, "2", "next.mkv", listing("eng"))

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, []string{"movie.mkv#0", "movie.mkv#1", "next.mkv#0"}, env.runner.extracts, "third track must not be attempted")
	assert.FileExists(t, filepath.Join(env.dir, "movie.eng.srt"))
	assert.NoFileExists(t, filepath.Join(env.dir, "movie.fre.srt"))
	assert.NoFileExists(t, filepath.Join(env.dir, "movie.ger.srt"))

	updates := env.catalog.updatesFor("1")
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"5", "99"}, updates[0].Tags)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Tagged)
	assert.Equal(t, 2, summary.Visited)
}

func TestService_ProbeFailureFinalizesWithoutMutation(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "broken.mkv", "")
	env.addScene(t, "2", "fine.mkv", listing("eng"))

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, env.catalog.updatesFor("1"))
	assert.Len(t, env.catalog.updatesFor("2"), 1)
}

func TestService_MarkerDisabled(t *testing.T) {
	env := newTestEnv(t, "0")
	env.addScene(t, "1", "movie.mkv", listing("eng"))

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Extracted)
	assert.Empty(t, env.catalog.updates)
}

func TestService_ProgressMonotonic(t *testing.T) {
	env := newTestEnv(t, "99")
	for i := 1; i <= 23; i++ {
		env.addScene(t, fmt.Sprint(i), fmt.Sprintf("scene%02d.mkv", i), listing())
	}

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 23, summary.Visited)
	assert.Equal(t, 3, env.catalog.pageCalls)

	values := env.progress.values
	require.Len(t, values, 24)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1])
	}
	assert.InDelta(t, 1.0/23.0, values[0], 1e-9)
	assert.Equal(t, 1.0, values[22])
	assert.Equal(t, 1.0, values[23])
}

func TestService_EmptyWalk(t *testing.T) {
	env := newTestEnv(t, "99")

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, env.progress.values)
	assert.Equal(t, 1, env.catalog.pageCalls)
}

func TestService_PersistFailureContinues(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "movie.mkv", listing("eng"))
	env.addScene(t, "2", "other.mkv", listing("eng"))
	env.catalog.failUpdate["1"] = true

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Tagged)
	assert.FileExists(t, filepath.Join(env.dir, "movie.eng.srt"), "extracted files are kept")
	assert.Len(t, env.catalog.updatesFor("2"), 1)
}

func TestService_PageFetchFailureHalts(t *testing.T) {
	env := newTestEnv(t, "99")
	for i := 1; i <= 15; i++ {
		env.addScene(t, fmt.Sprint(i), fmt.Sprintf("scene%02d.mkv", i), listing())
	}
	env.catalog.failPage = 2

	summary, err := env.svc.Run(context.Background(), "test")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrPageFetch))
	assert.Equal(t, 10, summary.Visited)
	assert.NotEmpty(t, summary.Error)
	assert.NotEqual(t, 1.0, env.progress.values[len(env.progress.values)-1])
}

func TestService_SkipsNotVideoAndUnresolvable(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "poster.jpg", "")
	env.catalog.scenes = append(env.catalog.scenes, stash.Scene{
		ID:    "2",
		Files: []stash.VideoFile{{Path: filepath.Join(env.dir, "gone.mkv")}},
	})

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Empty(t, env.catalog.updates)
	assert.Empty(t, env.runner.extracts)
}

func TestService_ClearsScratchDir(t *testing.T) {
	env := newTestEnv(t, "99")
	stale := []string{"old.srt", "downloaded_1234.mp4", "x.srt.abc.partial"}
	for _, name := range stale {
		require.NoError(t, os.WriteFile(filepath.Join(env.scratch, name), nil, 0o644))
	}
	keep := filepath.Join(env.scratch, "notes.txt")
	require.NoError(t, os.WriteFile(keep, nil, 0o644))

	_, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)

	for _, name := range stale {
		assert.NoFileExists(t, filepath.Join(env.scratch, name))
	}
	assert.FileExists(t, keep)
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, stash.Scene) (media.Resolved, error) {
	panic("boom")
}

func (panicResolver) Release(media.Resolved) {}

func TestService_PanicIsolatedToScene(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "movie.mkv", listing("eng"))
	env.svc.processor = NewProcessor(panicResolver{}, nil, nil, env.catalog, completion.NewTracker("99"))

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Visited)
}

func TestService_RecordsLedger(t *testing.T) {
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "subvert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := newTestEnv(t, "99", WithRecorder(store))
	env.addScene(t, "1", "movie.mkv", listing("", "jpn"))
	env.addScene(t, "2", "silent.mkv", listing())

	summary, err := env.svc.Run(context.Background(), "cli")
	require.NoError(t, err)

	run, ok, err := store.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, persistence.RunCompleted, run.Status)
	assert.Equal(t, "cli", run.Trigger)
	assert.Equal(t, 2, run.Visited)
	assert.Equal(t, 2, run.Extracted)
	assert.Equal(t, 1, run.Tagged)

	outcomes, err := store.ListOutcomes(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, string(StatusCompleted), outcomes[0].Status)
	assert.Equal(t, 2, outcomes[0].Tracks)
	assert.True(t, outcomes[0].Tagged)
	assert.Equal(t, 2, outcomes[0].Cues)
	assert.ElementsMatch(t, []string{"en", "ja"}, outcomes[0].Languages)
	assert.Equal(t, string(StatusNoSubtitles), outcomes[1].Status)
}

func TestService_InstanceLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "subvert.lock")
	held, err := AcquireInstanceLock(lockPath)
	require.NoError(t, err)

	env := newTestEnv(t, "99", WithInstanceLock(lockPath))
	_, err = env.svc.Run(context.Background(), "test")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, held.Release())
	_, err = env.svc.Run(context.Background(), "test")
	assert.NoError(t, err)
}

func TestService_UnusableLockDirDoesNotBlockWalk(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(notADir, nil, 0o644))

	env := newTestEnv(t, "99", WithInstanceLock(filepath.Join(notADir, "data", "subvert.lock")))
	env.addScene(t, "1", "movie.mkv", listing("eng"))

	summary, err := env.svc.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Visited)
	assert.Equal(t, 1, summary.Extracted)
	assert.FileExists(t, filepath.Join(env.dir, "movie.eng.srt"))
	assert.Len(t, env.catalog.updatesFor("1"), 1)
}

func TestService_StatusAfterRun(t *testing.T) {
	env := newTestEnv(t, "99")
	env.addScene(t, "1", "movie.mkv", listing("eng"))

	summary, err := env.svc.Run(context.Background(), "api")
	require.NoError(t, err)

	status := env.svc.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, summary.RunID, status.LastRun.RunID)
	assert.Equal(t, "api", status.LastRun.Trigger)
}
