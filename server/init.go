package server

import (
	"fmt"
	"path/filepath"

	"github.com/krau/picturetagger/config"
	"github.com/krau/picturetagger/fetch"
	"github.com/krau/picturetagger/onnx"
	"github.com/krau/picturetagger/service"
	"github.com/krau/picturetagger/vision"
)

// Init wires the pipeline described by cfg. The vision backend itself is
// only loaded on the first request that needs it.
func Init(cfg config.Config) (*Server, error) {
	fetcher := fetch.New(fetch.Options{
		Timeout:  cfg.DownloadTimeoutDuration(),
		MaxBytes: cfg.DownloadMaxBytes(),
	})

	opts := service.Options{
		DefaultLimit: cfg.TagMaxResults,
		MaxPixels:    cfg.MaxImagePixels,
	}

	var classifier *vision.Classifier
	if cfg.Vision.Enabled {
		defs := catalog(cfg.Vision.Tags)
		loader, err := visionLoader(cfg.Vision, defs)
		if err != nil {
			return nil, err
		}
		classifier, err = vision.NewClassifier(vision.Options{
			ModelID:     cfg.Vision.ModelID,
			Template:    cfg.Vision.PromptTemplate,
			TopPerGroup: cfg.Vision.TopPerGroup,
			Catalog:     defs,
			Load:        loader,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create vision classifier: %w", err)
		}
		opts.Vision = classifier
	}

	return New(cfg, service.NewTagger(fetcher, opts), classifier), nil
}

func visionLoader(v config.Vision, defs []vision.Definition) (vision.Loader, error) {
	switch v.Backend {
	case "onnx", "":
		template := v.PromptTemplate
		if template == "" {
			template = vision.DefaultTemplate
		}
		prompts := make([]string, 0, len(defs))
		for _, d := range defs {
			prompts = append(prompts, d.Prompt)
		}
		return onnx.Loader(onnx.Options{
			Libonnx:        v.Libonnx,
			ModelPath:      filepath.Join(v.ModelDir, v.ModelFileName),
			EmbeddingsPath: filepath.Join(v.ModelDir, v.EmbeddingsName),
			Sessions:       v.Sessions,
			Labels:         prompts,
			Template:       template,
		}), nil
	case "remote":
		return vision.RemoteLoader(vision.RemoteOptions{
			Endpoint: v.Endpoint,
			Token:    v.APIToken,
			Timeout:  v.TimeoutDuration(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", v.Backend)
	}
}

// catalog converts configured tags, falling back to the built-in catalog.
func catalog(tags []config.VisionTag) []vision.Definition {
	if len(tags) == 0 {
		return vision.DefaultCatalog
	}
	defs := make([]vision.Definition, 0, len(tags))
	for _, t := range tags {
		defs = append(defs, vision.Definition{Name: t.Name, Prompt: t.Prompt, Group: t.Group})
	}
	return defs
}
