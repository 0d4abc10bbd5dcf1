package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/krau/picturetagger/fetch"
	"github.com/krau/picturetagger/metrics"
)

const (
	DefaultTagLimit  = 8
	DefaultMaxPixels = 89_478_485

	// visionHeadroom widens the vision limit so group collapsing and fusion
	// still have candidates to choose from.
	visionHeadroom = 3
)

type Options struct {
	DefaultLimit int
	MaxPixels    int
	Vision       VisionTagger // nil means NoVision
}

// Tagger runs the whole pipeline: fetch, decode, extract, generate, fuse.
type Tagger struct {
	fetcher      *fetch.Fetcher
	vision       VisionTagger
	defaultLimit int
	maxPixels    int
}

func NewTagger(fetcher *fetch.Fetcher, opts Options) *Tagger {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultTagLimit
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.Vision == nil {
		opts.Vision = NoVision{}
	}
	return &Tagger{
		fetcher:      fetcher,
		vision:       opts.Vision,
		defaultLimit: opts.DefaultLimit,
		maxPixels:    opts.MaxPixels,
	}
}

func (t *Tagger) DefaultLimit() int {
	return t.defaultLimit
}

// Analyze returns the ranked tags and metadata for src. limit <= 0 selects
// the default limit. Fetch and decode failures are returned as is; vision
// failures only reduce the candidate set.
func (t *Tagger) Analyze(ctx context.Context, src fetch.Source, hints []string, limit int) (*Result, error) {
	start := time.Now()
	defer func() { metrics.AnalyzeDuration.Observe(time.Since(start).Seconds()) }()

	data, err := t.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	raster, err := Decode(data, t.maxPixels)
	if err != nil {
		return nil, err
	}
	stats := ExtractStatistics(raster)

	candidates := t.visionTags(ctx, raster, limit)
	for _, gen := range Generators {
		candidates = append(candidates, gen(stats)...)
	}
	candidates = append(candidates, HintTags(hints)...)

	fused := Fuse(candidates, limit, t.defaultLimit)
	tags := make([]Tag, len(fused))
	for i, s := range fused {
		tags[i] = s.View()
	}
	metrics.TagsReturned.Observe(float64(len(tags)))

	return &Result{Tags: tags, Metadata: stats.Metadata()}, nil
}

func (t *Tagger) visionTags(ctx context.Context, raster *Raster, limit int) []TagSuggestion {
	if limit <= 0 {
		limit = t.defaultLimit
	}
	expanded := max(t.defaultLimit, limit+visionHeadroom)

	tags, err := t.vision.Tag(ctx, raster, expanded)
	if err != nil {
		metrics.VisionFailures.Inc()
		slog.Warn("Vision classifier unavailable", slog.String("error", err.Error()))
		return nil
	}
	return tags
}
