package service

import (
	"context"
	"errors"
	"slices"

	"github.com/MimeLyc/subvert/internal/completion"
	"github.com/MimeLyc/subvert/internal/media"
	"github.com/MimeLyc/subvert/internal/stash"
	"github.com/MimeLyc/subvert/internal/subtitle"
	"github.com/MimeLyc/subvert/pkg/log"
	"golang.org/x/text/language"
)

// Processor runs one scene through locate, probe, extract and finalize.
type Processor struct {
	resolver  MediaResolver
	prober    TrackProber
	extractor TrackExtractor
	tags      TagWriter
	tracker   completion.Tracker
}

func NewProcessor(
	resolver MediaResolver,
	prober TrackProber,
	extractor TrackExtractor,
	tags TagWriter,
	tracker completion.Tracker,
) *Processor {
	return &Processor{
		resolver:  resolver,
		prober:    prober,
		extractor: extractor,
		tags:      tags,
		tracker:   tracker,
	}
}

// Process never returns an error: failures are carried in the Outcome. A
// probe or extraction failure still finalizes with the tracks materialized
// before it.
func (p *Processor) Process(ctx context.Context, scene stash.Scene) Outcome {
	out := Outcome{SceneID: scene.ID, Title: scene.Title}

	res, err := p.resolver.Resolve(ctx, scene)
	if err != nil {
		if errors.Is(err, media.ErrNotVideo) {
			out.Err = WrapError(err, ErrNotApplicable, "not a video").WithContext("scene", scene.ID)
			log.Info("Scene %s is not a video, skipping", scene.ID)
		} else {
			out.Err = WrapError(err, ErrResolution, "no usable file").WithContext("scene", scene.ID)
			log.Warn("Scene %s has no usable file, skipping: %v", scene.ID, err)
		}
		return out
	}
	defer p.resolver.Release(res)
	out.MediaPath = res.Path

	if err := p.extractAll(ctx, res, &out); err != nil {
		out.Err = err
		log.Error("Scene %s aborted after %d of %d tracks: %v", scene.ID, out.Materialized(), len(out.Tracks), err)
	}

	p.finalize(ctx, scene, &out)
	return out
}

func (p *Processor) extractAll(ctx context.Context, res media.Resolved, out *Outcome) error {
	tracks, err := p.prober.Probe(ctx, res.Path)
	if err != nil {
		return WrapError(err, ErrProbe, "probe failed").WithContext("path", res.Path)
	}
	out.Tracks = tracks
	if len(tracks) == 0 {
		log.Info("No subtitle tracks in %s", res.Path)
		return nil
	}

	target := media.NewTarget(res.Path)
	for _, track := range tracks {
		extraction, err := p.extractor.Extract(ctx, target, track)
		if err != nil {
			return WrapError(err, ErrExtraction, "extraction failed").
				WithContext("path", res.Path).
				WithContext("track", track.String())
		}
		out.Extractions = append(out.Extractions, extraction)
		if extraction.Status == media.StatusExtracted {
			p.summarize(extraction, out)
		}
	}
	return nil
}

// summarize records cue counts and languages for the ledger. Read errors are
// logged only.
func (p *Processor) summarize(extraction media.Extraction, out *Outcome) {
	lang := extraction.Track.LangTag()
	summary, err := subtitle.Summarize(extraction.OutputPath)
	if err != nil {
		log.Warn("Failed to read extracted subtitle %s: %v", extraction.OutputPath, err)
	} else {
		out.Cues += summary.Cues
		if lang == language.Und {
			lang = summary.Language
		}
	}
	if lang == language.Und {
		return
	}
	if code := lang.String(); !slices.Contains(out.Languages, code) {
		out.Languages = append(out.Languages, code)
	}
}

func (p *Processor) finalize(ctx context.Context, scene stash.Scene, out *Outcome) {
	decision := p.tracker.Decide(scene.TagIDs(), out.Materialized())
	if !decision.Persist {
		return
	}

	if err := p.tags.UpdateSceneTags(ctx, scene.ID, decision.Tags); err != nil {
		out.PersistErr = WrapError(err, ErrPersist, "tag update failed").WithContext("scene", scene.ID)
		log.Error("Failed to tag scene %s: %v", scene.ID, err)
		return
	}
	out.Tagged = true
	log.Info("Tagged scene %s with marker %s", scene.ID, p.tracker.Marker())
}
