package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	cb "github.com/sony/gobreaker"
)

const (
	remoteTimeout  = 20 * time.Second
	remoteMaxSide  = 512
	remoteJPEGQual = 90

	// the breaker opens after this many consecutive failed calls and
	// lets a single probe through once breakerCooldown has passed.
	breakerTrip     = 5
	breakerCooldown = 30 * time.Second
)

type RemoteOptions struct {
	Endpoint string // full inference URL
	Token    string // sent as a bearer token when set
	Timeout  time.Duration
}

// RemoteBackend calls a Hugging Face inference style zero-shot image
// classification endpoint.
type RemoteBackend struct {
	endpoint string
	client   *resty.Client
	breaker  *cb.CircuitBreaker
}

// RemoteLoader validates opts and builds the HTTP client on first use.
func RemoteLoader(opts RemoteOptions) Loader {
	return func(context.Context) (Backend, error) {
		return NewRemoteBackend(opts)
	}
}

func NewRemoteBackend(opts RemoteOptions) (*RemoteBackend, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid vision endpoint %q", opts.Endpoint)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = remoteTimeout
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	breaker := cb.NewCircuitBreaker(cb.Settings{
		Name:        "vision-remote",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		OnStateChange: func(name string, from, to cb.State) {
			slog.Warn("Circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &RemoteBackend{endpoint: u.String(), client: client, breaker: breaker}, nil
}

type remoteRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters remoteParameters `json:"parameters"`
}

type remoteParameters struct {
	CandidateLabels    []string `json:"candidate_labels"`
	HypothesisTemplate string   `json:"hypothesis_template"`
	MultiLabel         bool     `json:"multi_label"`
}

func (b *RemoteBackend) Classify(ctx context.Context, img image.Image, req Request) ([]LabelScore, error) {
	payload, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}

	// a caller that already gave up says nothing about the endpoint, so it
	// must not count either way
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.call(ctx, payload, req)
	})
	if err != nil {
		return nil, err
	}
	return result.([]LabelScore), nil
}

func (b *RemoteBackend) call(ctx context.Context, payload string, req Request) ([]LabelScore, error) {
	var scores []LabelScore
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(remoteRequest{
			Inputs: payload,
			Parameters: remoteParameters{
				CandidateLabels:    req.Labels,
				HypothesisTemplate: req.Template,
				MultiLabel:         req.MultiLabel,
			},
		}).
		SetResult(&scores).
		Post(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("call vision endpoint: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("vision endpoint returned %s: %s", resp.Status(), truncate(resp.String(), 200))
	}
	if scores == nil {
		return nil, errors.New("vision endpoint returned no scores")
	}
	return scores, nil
}

// encodeJPEG shrinks img to fit the remote input size and returns it base64 encoded.
func encodeJPEG(img image.Image) (string, error) {
	small := imaging.Fit(img, remoteMaxSide, remoteMaxSide, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(remoteJPEGQual)); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
