package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 601, c.Window.Size)
	assert.Equal(t, 1, c.Patch.Layer)
	assert.Equal(t, ModelAttnNet, c.Model.Kind)
	assert.Equal(t, 5*time.Minute, c.Model.Timeout)
	assert.Equal(t, []string{"pathogenic", "benign"}, c.Load.Significance)
	assert.Equal(t, 1, c.Run.Workers)
	assert.Equal(t, 32, c.Run.BatchSize)
	assert.Equal(t, uint64(42), c.Load.Seed)

	po := c.Pipeline()
	assert.Equal(t, 601, po.WindowSize)
	assert.Equal(t, 1, po.PatchLayer)
	assert.Equal(t, 5, po.MinGroupSize)

	net := c.AttnNet()
	assert.Equal(t, 6, net.K)
	assert.True(t, net.CLS)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibe-attn.yaml")
	body := `window:
  size: 1001
model:
  kind: remote
  url: http://gpu-box:9000
  timeout: 30s
load:
  significance: [pathogenic, vus]
  balance: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	t.Setenv("VIBE_ATTN_RUN_WORKERS", "4")

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 1001, c.Window.Size)
	assert.Equal(t, ModelRemote, c.Model.Kind)
	assert.Equal(t, "http://gpu-box:9000", c.Model.URL)
	assert.Equal(t, 30*time.Second, c.Model.Timeout)
	assert.Equal(t, []string{"pathogenic", "vus"}, c.Load.Significance)
	assert.True(t, c.Load.Balance)
	assert.Equal(t, 4, c.Run.Workers)
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	base, err := Load(v)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"window", func(c *Config) { c.Window.Size = 0 }},
		{"even window", func(c *Config) { c.Window.Size = 600 }},
		{"patch layer", func(c *Config) { c.Patch.Layer = -1 }},
		{"embedding patch layer", func(c *Config) { c.Patch.Layer = 0 }},
		{"batch size", func(c *Config) { c.Run.BatchSize = 0 }},
		{"workers", func(c *Config) { c.Run.Workers = -2 }},
		{"model kind", func(c *Config) { c.Model.Kind = "onnx" }},
		{"report format", func(c *Config) { c.Report.Format = "gif" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
