package service

import (
	"math"
	"strings"
)

// Generator maps image statistics to zero or more tag candidates.
type Generator func(ImageStatistics) []TagSuggestion

// Generators lists the heuristic generators in tie-breaking order.
var Generators = []Generator{
	OrientationTags,
	LightingTags,
	ColorTags,
	SubjectTags,
	DetailTags,
}

func OrientationTags(s ImageStatistics) []TagSuggestion {
	switch {
	case s.AspectRatio > 1.2:
		return []TagSuggestion{{"orientation:landscape", 0.92, SourceGeometry}}
	case s.AspectRatio < 0.85:
		return []TagSuggestion{{"orientation:portrait", 0.90, SourceGeometry}}
	default:
		return []TagSuggestion{{"orientation:square", 0.75, SourceGeometry}}
	}
}

func LightingTags(s ImageStatistics) []TagSuggestion {
	switch {
	case s.Brightness >= 0.7:
		return []TagSuggestion{{"lighting:bright", 0.82, SourceLuminance}}
	case s.Brightness <= 0.25:
		return []TagSuggestion{{"lighting:low", 0.78, SourceLuminance}}
	default:
		return []TagSuggestion{{"lighting:balanced", 0.70, SourceLuminance}}
	}
}

// ColorTags reads the channel balance. Warm and cool rules are independent
// and may both fire for the same image.
func ColorTags(s ImageStatistics) []TagSuggestion {
	var tags []TagSuggestion
	if s.RedRatio > 0.35 {
		tags = append(tags, TagSuggestion{"color:warm", math.Min(1, 0.6+s.RedRatio/2), SourceColorBalance})
	}
	if s.BlueRatio > 0.3 {
		tags = append(tags,
			TagSuggestion{"color:cool", math.Min(1, 0.55+s.BlueRatio/2), SourceColorBalance},
			TagSuggestion{"subject:water", math.Min(0.95, 0.5+s.BlueRatio/2), SourceColorBalance},
		)
	}
	if s.GreenRatio > 0.3 {
		tags = append(tags, TagSuggestion{"subject:nature", math.Min(0.95, 0.55+s.GreenRatio/2), SourceColorBalance})
	}

	warmth := s.RedRatio - s.BlueRatio
	switch {
	case warmth > 0.15:
		tags = append(tags, TagSuggestion{"mood:vibrant", 0.68 + math.Min(0.2, warmth), SourceColorBalance})
	case warmth < -0.15:
		tags = append(tags, TagSuggestion{"mood:calm", 0.68 + math.Min(0.2, math.Abs(warmth)), SourceColorBalance})
	}
	return tags
}

func SubjectTags(s ImageStatistics) []TagSuggestion {
	var tags []TagSuggestion
	if s.SkinRatio > 0.08 {
		tags = append(tags, TagSuggestion{"subject:people", math.Min(0.95, 0.7+s.SkinRatio), SourceSkin})
	}
	if s.BlueRatio > 0.45 && s.Brightness < 0.4 {
		tags = append(tags, TagSuggestion{"scene:night-sky", 0.72, SourceColorContext})
	}
	if s.GreenRatio > 0.45 && s.Brightness > 0.35 {
		tags = append(tags, TagSuggestion{"scene:forest", 0.70, SourceColorContext})
	}
	if s.BlueRatio > 0.35 && s.Brightness > 0.4 {
		tags = append(tags, TagSuggestion{"scene:coast", 0.68, SourceColorContext})
	}
	return tags
}

func DetailTags(s ImageStatistics) []TagSuggestion {
	if s.EdgeDensity > 0.35 {
		return []TagSuggestion{{"detail:rich", math.Min(0.95, 0.6+s.EdgeDensity), SourceTexture}}
	}
	return []TagSuggestion{{"detail:smooth", 0.65, SourceTexture}}
}

// HintTags turns caller hints into lower-cased tags. Blank hints are dropped.
func HintTags(hints []string) []TagSuggestion {
	var tags []TagSuggestion
	for _, h := range hints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		tags = append(tags, TagSuggestion{strings.ToLower(h), 0.65, SourceHint})
	}
	return tags
}
