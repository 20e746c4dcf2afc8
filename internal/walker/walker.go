package walker

import (
	"context"
	"fmt"

	"github.com/MimeLyc/subvert/internal/stash"
	"github.com/MimeLyc/subvert/pkg/log"
)

// Finder fetches one page of scenes.
type Finder interface {
	FindScenes(ctx context.Context, filter stash.SceneFilter, page stash.PageRequest) (stash.Page, error)
}

type Options struct {
	Filter    stash.SceneFilter
	PerPage   int
	Sort      string
	Direction string
	Pacer     Pacer
}

// Position locates the most recently returned scene within the walk.
type Position struct {
	Page  int // 1-based
	Index int // 0-based within the page
}

// Walker lazily enumerates every scene matching a filter, one page at a time.
//
// The total reported by the first page bounds the walk. Scenes tagged during
// the walk drop out of later result sets, so re-reading the count would stop
// the walk early. A Walker is single-use and not safe for concurrent use.
type Walker struct {
	finder Finder
	opts   Options

	total   int
	fetched int
	started bool
	done    bool

	buf  []stash.Scene
	next int
	pos  Position
}

func New(finder Finder, opts Options) *Walker {
	if opts.PerPage <= 0 {
		opts.PerPage = 10
	}
	if opts.Direction == "" {
		opts.Direction = "ASC"
	}
	if opts.Pacer == nil {
		opts.Pacer = FixedDelay(DefaultPageDelay)
	}
	return &Walker{finder: finder, opts: opts}
}

// Next returns the next scene. ok is false once the walk is exhausted.
// A page fetch error ends the walk.
func (w *Walker) Next(ctx context.Context) (scene stash.Scene, ok bool, err error) {
	for {
		if w.done {
			return stash.Scene{}, false, nil
		}

		if w.next < len(w.buf) {
			scene = w.buf[w.next]
			w.pos = Position{Page: w.fetched, Index: w.next}
			w.next++
			return scene, true, nil
		}

		if w.started {
			// page consumed
			if err := w.opts.Pacer.Wait(ctx, w.fetched); err != nil {
				w.done = true
				return stash.Scene{}, false, err
			}
			if w.opts.PerPage*w.fetched >= w.total {
				w.done = true
				return stash.Scene{}, false, nil
			}
		}

		if err := w.fetch(ctx); err != nil {
			w.done = true
			return stash.Scene{}, false, err
		}
	}
}

func (w *Walker) fetch(ctx context.Context) error {
	pageNum := w.fetched + 1
	page, err := w.finder.FindScenes(ctx, w.opts.Filter, stash.PageRequest{
		Page:      pageNum,
		PerPage:   w.opts.PerPage,
		Sort:      w.opts.Sort,
		Direction: w.opts.Direction,
	})
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", pageNum, err)
	}

	if !w.started {
		w.started = true
		w.total = page.Count
		log.Info("Walk matched %d scenes, %d per page", w.total, w.opts.PerPage)
		if w.total <= 0 {
			w.done = true
		}
	}
	w.fetched = pageNum
	w.buf = page.Scenes
	w.next = 0
	log.Debug("Fetched page %d with %d scenes", pageNum, len(page.Scenes))
	return nil
}

// Total is the scene count reported by the first page. Zero before the first fetch.
func (w *Walker) Total() int {
	return w.total
}

// PerPage is the page size used for every request.
func (w *Walker) PerPage() int {
	return w.opts.PerPage
}

// Position returns where the last returned scene sits in the walk.
func (w *Walker) Position() Position {
	return w.pos
}

// PagesFetched reports how many page requests succeeded.
func (w *Walker) PagesFetched() int {
	return w.fetched
}

// Progress is the fraction of the walk covered once the current scene is done.
func (w *Walker) Progress() float64 {
	if w.total <= 0 {
		return 0
	}
	advanced := w.opts.PerPage*(w.pos.Page-1) + w.pos.Index + 1
	return log.ClampProgress(float64(advanced) / float64(w.total))
}
