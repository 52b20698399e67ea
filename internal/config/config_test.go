package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Len(t, cfg.Model.Labels, 5)
	assert.Equal(t, "Bacterial Pneumonia", cfg.Model.Labels[0])
	assert.Equal(t, 224, cfg.Model.ImageSize)
	assert.Equal(t, 0.5, cfg.Gate.Threshold)
	assert.Equal(t, "conv5_block3_out", cfg.GradCAM.Layer)
	assert.Equal(t, 0.4, cfg.GradCAM.Alpha)
	assert.Equal(t, "jet", cfg.GradCAM.Colormap)
	assert.Equal(t, 20, cfg.History.MaxItems)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	payload := `
server:
  addr: ":9090"
gate:
  threshold: 0.7
history:
  max_items: 5
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 0.7, cfg.Gate.Threshold)
	assert.Equal(t, 5, cfg.History.MaxItems)
	// untouched keys keep defaults
	assert.Equal(t, "jet", cfg.GradCAM.Colormap)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no labels":       func(c *Config) { c.Model.Labels = nil },
		"zero image size": func(c *Config) { c.Model.ImageSize = 0 },
		"bad threshold":   func(c *Config) { c.Gate.Threshold = 1.5 },
		"bad alpha":       func(c *Config) { c.GradCAM.Alpha = -0.1 },
		"zero history":    func(c *Config) { c.History.MaxItems = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
