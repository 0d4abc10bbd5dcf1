package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, 8, c.TagMaxResults)
	assert.Equal(t, int64(8*1024*1024), c.DownloadMaxBytes())
	assert.Equal(t, 5*time.Second, c.DownloadTimeoutDuration())
	assert.False(t, c.Vision.Enabled)
	assert.Equal(t, "This photo mainly features {}.", c.Vision.PromptTemplate)
	assert.Equal(t, 2, c.Vision.TopPerGroup)
	assert.Equal(t, 2, c.Vision.Sessions)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
port = "9000"
tag_max_results = 5
download_max_mb = 2

[vision]
enabled = true
backend = "REMOTE"
top_per_group = 3

[[vision.tags]]
name = "subject:boats"
prompt = "boats on the water"
group = "subject"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Setenv("TAG_MAX_RESULTS", "12")
	t.Setenv("IMAGE_DOWNLOAD_TIMEOUT", "not-a-number")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", c.Port)
	assert.Equal(t, 12, c.TagMaxResults)
	assert.Equal(t, int64(2*1024*1024), c.DownloadMaxBytes())
	assert.Equal(t, 5.0, c.DownloadTimeout, "unparseable override keeps the default")
	assert.True(t, c.Vision.Enabled)
	assert.Equal(t, "remote", c.Vision.Backend)
	assert.Equal(t, 3, c.Vision.TopPerGroup)
	require.Len(t, c.Vision.Tags, 1)
	assert.Equal(t, "boats on the water", c.Vision.Tags[0].Prompt)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ClampsLimits(t *testing.T) {
	t.Setenv("TAG_MAX_RESULTS", "0")
	t.Setenv("VISION_TOP_PER_GROUP", "-4")
	t.Setenv("VISION_ENABLED", "yes")
	t.Setenv("VISION_SESSIONS", "0")

	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, 1, c.TagMaxResults)
	assert.Equal(t, 1, c.Vision.TopPerGroup)
	assert.Equal(t, 1, c.Vision.Sessions)
	assert.True(t, c.Vision.Enabled)
}

func TestLoad_RateLimitBurst(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "12.5")

	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 12.5, c.RateLimitRPS)
	assert.Equal(t, 12, c.RateLimitBurst)

	t.Setenv("RATE_LIMIT_RPS", "-1")
	c, err = Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Zero(t, c.RateLimitRPS)
	assert.Zero(t, c.RateLimitBurst)
}
