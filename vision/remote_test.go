package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	cb "github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteBackend_Classify(t *testing.T) {
	var got remoteRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"label":"prompt scene a","score":0.8},{"label":"prompt mood m","score":0.1}]`))
	}))
	defer srv.Close()

	b, err := NewRemoteBackend(RemoteOptions{Endpoint: srv.URL + "/models/clip", Token: "secret"})
	require.NoError(t, err)

	scores, err := b.Classify(context.Background(), img, Request{Labels: []string{"prompt scene a", "prompt mood m"}, Template: DefaultTemplate, MultiLabel: true})
	require.NoError(t, err)
	assert.Equal(t, []LabelScore{{"prompt scene a", 0.8}, {"prompt mood m", 0.1}}, scores)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, []string{"prompt scene a", "prompt mood m"}, got.Parameters.CandidateLabels)
	assert.Equal(t, DefaultTemplate, got.Parameters.HypothesisTemplate)
	assert.True(t, got.Parameters.MultiLabel)

	raw, err := base64.StdEncoding.DecodeString(got.Inputs)
	require.NoError(t, err)
	_, err = jpeg.DecodeConfig(bytes.NewReader(raw))
	assert.NoError(t, err)
}

func TestRemoteBackend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := NewRemoteBackend(RemoteOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = b.Classify(context.Background(), img, Request{Labels: []string{"x"}})
	assert.ErrorContains(t, err, "503")
}

func TestRemoteBackend_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := NewRemoteBackend(RemoteOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	for i := 0; i < breakerTrip; i++ {
		_, err = b.Classify(context.Background(), img, Request{Labels: []string{"x"}})
		require.Error(t, err)
	}
	_, err = b.Classify(context.Background(), img, Request{Labels: []string{"x"}})
	assert.ErrorIs(t, err, cb.ErrOpenState)
	assert.Equal(t, int32(breakerTrip), hits.Load())
}

func TestRemoteBackend_CancelledCallsSkipBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := NewRemoteBackend(RemoteOptions{Endpoint: srv.URL})
	require.NoError(t, err)
	req := Request{Labels: []string{"x"}}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < breakerTrip-1; i++ {
		_, err = b.Classify(context.Background(), img, req)
		require.Error(t, err)
	}
	_, err = b.Classify(cancelled, img, req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(breakerTrip-1), b.breaker.Counts().ConsecutiveFailures,
		"a cancelled call must not reset the failure streak")

	_, err = b.Classify(context.Background(), img, req)
	require.Error(t, err)
	assert.Equal(t, cb.StateOpen, b.breaker.State())

	_, err = b.Classify(context.Background(), img, req)
	assert.ErrorIs(t, err, cb.ErrOpenState)
	assert.Equal(t, int32(breakerTrip), hits.Load())
}

func TestRemoteBackend_ThroughClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"label":"prompt subject x","score":0.66}]`))
	}))
	defer srv.Close()

	c, err := NewClassifier(Options{ModelID: "remote-clip", Catalog: testCatalog, Load: RemoteLoader(RemoteOptions{Endpoint: srv.URL})})
	require.NoError(t, err)

	tags, err := c.Tag(context.Background(), img, 0)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "subject:x", tags[0].Name)
	assert.Equal(t, "vision:remote-clip", tags[0].Source)
}

func TestRemoteLoader_InvalidEndpoint(t *testing.T) {
	c, err := NewClassifier(Options{ModelID: "m", Load: RemoteLoader(RemoteOptions{Endpoint: "ftp://nope"})})
	require.NoError(t, err)

	_, err = c.Tag(context.Background(), img, 0)
	assert.ErrorIs(t, err, ErrVisionModel)
}
