package onnx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"

	"github.com/krau/picturetagger/vision"
	ort "github.com/yalue/onnxruntime_go"
)

type Options struct {
	Libonnx        string // shared library path, empty for platform defaults
	ModelPath      string // image encoder: [1,3,S,S] pixels -> [1,D] embedding
	EmbeddingsPath string // LabelEmbeddings JSON
	Sessions       int    // pooled sessions, default 1

	// Labels and Template are the prompts the classifier will ask for; the
	// embeddings file is checked against them at load time.
	Labels   []string
	Template string
}

// LabelEmbeddings holds precomputed text embeddings for rendered prompts
// along with the model's logit scale and bias.
type LabelEmbeddings struct {
	LogitScale float64              `json:"logit_scale"`
	LogitBias  float64              `json:"logit_bias"`
	Embeddings map[string][]float32 `json:"embeddings"`
}

func ReadLabelEmbeddings(path string) (*LabelEmbeddings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var le LabelEmbeddings
	if err := json.Unmarshal(data, &le); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(le.Embeddings) == 0 {
		return nil, fmt.Errorf("%s holds no embeddings", path)
	}
	if le.LogitScale == 0 {
		le.LogitScale = 100
	}
	for text, v := range le.Embeddings {
		le.Embeddings[text] = normalize(v)
	}
	return &le, nil
}

// lookup finds the embedding for label, preferring the rendered prompt.
func (le *LabelEmbeddings) lookup(template, label string) ([]float32, bool) {
	if v, ok := le.Embeddings[vision.RenderPrompt(template, label)]; ok {
		return v, true
	}
	v, ok := le.Embeddings[label]
	return v, ok
}

// width checks that every embedding has dim entries and returns dim. When
// dim is unknown (<= 0) the embeddings only have to agree with each other.
func (le *LabelEmbeddings) width(dim int) (int, error) {
	for text, v := range le.Embeddings {
		if dim <= 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return 0, fmt.Errorf("embedding for %q has width %d, model outputs %d", text, len(v), dim)
		}
	}
	return dim, nil
}

// cover reports which labels have no embedding. It fails when none has one.
func (le *LabelEmbeddings) cover(template string, labels []string) ([]string, error) {
	var missing []string
	for _, label := range labels {
		if _, ok := le.lookup(template, label); !ok {
			missing = append(missing, label)
		}
	}
	if len(labels) > 0 && len(missing) == len(labels) {
		return missing, fmt.Errorf("none of the %d labels has an embedding", len(labels))
	}
	return missing, nil
}

type session struct {
	run    *ort.AdvancedSession
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
}

func (s *session) destroy() {
	s.run.Destroy()
	s.input.Destroy()
	s.output.Destroy()
}

// ZeroShot scores images against label embeddings with an ONNX image encoder.
type ZeroShot struct {
	pool   chan *session
	size   int
	labels *LabelEmbeddings
}

// Loader returns a vision.Loader that initialises the runtime and opens the
// sessions on first use.
func Loader(opts Options) vision.Loader {
	return func(context.Context) (vision.Backend, error) {
		return NewZeroShot(opts)
	}
}

func NewZeroShot(opts Options) (*ZeroShot, error) {
	labels, err := ReadLabelEmbeddings(opts.EmbeddingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read label embeddings: %w", err)
	}
	missing, err := labels.cover(opts.Template, opts.Labels)
	if err != nil {
		return nil, fmt.Errorf("label embeddings do not match the catalog: %w", err)
	}
	if len(missing) > 0 {
		slog.Warn("Labels without an embedding will never be scored", slog.Any("labels", missing))
	}
	if err := InitEnvironment(opts.Libonnx); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.New("model has no inputs or outputs")
	}

	size := DefaultImageSize
	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[3] > 0 {
		size = int(dims[3])
	}
	dim := 0
	if dims := outputs[0].Dimensions; len(dims) > 0 {
		dim = int(dims[len(dims)-1])
	}
	if dim, err = labels.width(dim); err != nil {
		return nil, fmt.Errorf("label embeddings do not match the model: %w", err)
	}

	n := max(1, opts.Sessions)
	z := &ZeroShot{pool: make(chan *session, n), size: size, labels: labels}
	for i := 0; i < n; i++ {
		s, err := newSession(opts.ModelPath, inputs[0].Name, outputs[0].Name, size, dim)
		if err != nil {
			z.Close()
			return nil, err
		}
		z.pool <- s
	}
	return z, nil
}

func newSession(modelPath, inputName, outputName string, size, dim int) (*session, error) {
	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	run, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		sessionOpts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return &session{run: run, input: inputTensor, output: outputTensor}, nil
}

// Close destroys the idle sessions. It must not race with Classify.
func (z *ZeroShot) Close() {
	for {
		select {
		case s := <-z.pool:
			s.destroy()
		default:
			return
		}
	}
}

func (z *ZeroShot) Classify(ctx context.Context, img image.Image, req vision.Request) ([]vision.LabelScore, error) {
	data := Preprocess(img, z.size)

	var s *session
	select {
	case s = <-z.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	copy(s.input.GetData(), data)
	err := s.run.Run()
	embedding := append([]float32(nil), s.output.GetData()...)
	z.pool <- s
	if err != nil {
		return nil, err
	}

	return scoreLabels(normalize(embedding), z.labels, req)
}

// scoreLabels turns cosine similarities into per-label scores: independent
// sigmoids for multi-label requests, a softmax otherwise. Labels without an
// embedding are left out; it is an error when that leaves nothing to score.
func scoreLabels(embedding []float32, le *LabelEmbeddings, req vision.Request) ([]vision.LabelScore, error) {
	scores := make([]vision.LabelScore, 0, len(req.Labels))
	logits := make([]float64, 0, len(req.Labels))
	for _, label := range req.Labels {
		text, ok := le.lookup(req.Template, label)
		if !ok || len(text) != len(embedding) {
			continue
		}
		logit := le.LogitScale*dot(embedding, text) + le.LogitBias
		scores = append(scores, vision.LabelScore{Label: label})
		logits = append(logits, logit)
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("none of %d labels has a %d-wide embedding", len(req.Labels), len(embedding))
	}

	if req.MultiLabel {
		for i, l := range logits {
			scores[i].Score = float64(Sigmoid(float32(l)))
		}
		return scores, nil
	}

	peak := logits[0]
	for _, l := range logits[1:] {
		peak = math.Max(peak, l)
	}
	var sum float64
	for i, l := range logits {
		e := math.Exp(l - peak)
		scores[i].Score = e
		sum += e
	}
	for i := range scores {
		scores[i].Score /= sum
	}
	return scores, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func normalize(v []float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n == 0 {
		return v
	}
	n = math.Sqrt(n)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
