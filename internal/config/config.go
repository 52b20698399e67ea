package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Server   ServerConfig  `mapstructure:"server"`
	Model    ModelConfig   `mapstructure:"model"`
	Gate     GateConfig    `mapstructure:"gate"`
	GradCAM  GradCAMConfig `mapstructure:"gradcam"`
	History  HistoryConfig `mapstructure:"history"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type ModelConfig struct {
	Path         string   `mapstructure:"path"`
	MetadataPath string   `mapstructure:"metadata_path"`
	Labels       []string `mapstructure:"labels"`
	ImageSize    int      `mapstructure:"image_size"`
}

type GateConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type GradCAMConfig struct {
	Layer    string  `mapstructure:"layer"`
	Alpha    float64 `mapstructure:"alpha"`
	Colormap string  `mapstructure:"colormap"`
}

type HistoryConfig struct {
	Path     string `mapstructure:"path"`
	MaxItems int    `mapstructure:"max_items"`
}

// Load reads the YAML config at path on top of the built-in defaults.
// An empty path keeps defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_bytes", 16<<20)
	v.SetDefault("model.path", "models/resnet50v2_chest_xray.onnx")
	v.SetDefault("model.metadata_path", "models/model_metadata.json")
	v.SetDefault("model.labels", []string{
		"Bacterial Pneumonia",
		"Covid",
		"Normal",
		"Tuberculosis",
		"Viral Pneumonia",
	})
	v.SetDefault("model.image_size", 224)
	v.SetDefault("gate.threshold", 0.5)
	v.SetDefault("gradcam.layer", "conv5_block3_out")
	v.SetDefault("gradcam.alpha", 0.4)
	v.SetDefault("gradcam.colormap", "jet")
	v.SetDefault("history.path", "data/history.db")
	v.SetDefault("history.max_items", 20)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Model.Labels) == 0 {
		return fmt.Errorf("model.labels is required")
	}
	if c.Model.ImageSize <= 0 {
		return fmt.Errorf("model.image_size must be positive")
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold > 1 {
		return fmt.Errorf("gate.threshold must be in [0,1]")
	}
	if c.GradCAM.Alpha < 0 || c.GradCAM.Alpha > 1 {
		return fmt.Errorf("gradcam.alpha must be in [0,1]")
	}
	if c.History.MaxItems <= 0 {
		return fmt.Errorf("history.max_items must be positive")
	}
	return nil
}
