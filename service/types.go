package service

import (
	"context"
	"image"
	"math"
)

// Tag sources for the heuristic generators.
const (
	SourceGeometry     = "geometry"
	SourceLuminance    = "luminance"
	SourceColorBalance = "color-balance"
	SourceColorContext = "color-context"
	SourceSkin         = "skin-detection"
	SourceTexture      = "texture"
	SourceHint         = "hint"
)

// TagSuggestion is a scored, sourced label proposed by one generator.
type TagSuggestion struct {
	Name       string
	Confidence float64
	Source     string
}

// Tag is the output form of a TagSuggestion, with the confidence rounded.
type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

func (t TagSuggestion) View() Tag {
	return Tag{Name: t.Name, Confidence: round(t.Confidence, 4), Source: t.Source}
}

type ImageStatistics struct {
	Width       int
	Height      int
	AspectRatio float64
	Brightness  float64
	RedRatio    float64
	GreenRatio  float64
	BlueRatio   float64
	SkinRatio   float64
	EdgeDensity float64
}

type Metadata struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Brightness  float64 `json:"brightness"`
	BlueRatio   float64 `json:"blue_ratio"`
	GreenRatio  float64 `json:"green_ratio"`
	RedRatio    float64 `json:"red_ratio"`
	SkinRatio   float64 `json:"skin_ratio"`
	EdgeDensity float64 `json:"edge_density"`
}

func (s ImageStatistics) Metadata() Metadata {
	return Metadata{
		Width:       s.Width,
		Height:      s.Height,
		AspectRatio: round(s.AspectRatio, 3),
		Brightness:  round(s.Brightness, 3),
		BlueRatio:   round(s.BlueRatio, 3),
		GreenRatio:  round(s.GreenRatio, 3),
		RedRatio:    round(s.RedRatio, 3),
		SkinRatio:   round(s.SkinRatio, 3),
		EdgeDensity: round(s.EdgeDensity, 3),
	}
}

type Result struct {
	Tags     []Tag    `json:"tags"`
	Metadata Metadata `json:"metadata"`
}

// VisionTagger is the optional model-based generator. limit <= 0 means no limit.
type VisionTagger interface {
	Tag(ctx context.Context, img image.Image, limit int) ([]TagSuggestion, error)
}

// NoVision is the VisionTagger used when no vision backend is configured.
type NoVision struct{}

func (NoVision) Tag(context.Context, image.Image, int) ([]TagSuggestion, error) {
	return nil, nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
