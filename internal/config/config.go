// Package config resolves runtime settings from defaults, an optional config
// file and LUNGAI_* environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service. Zero values in a config
// file mean "unspecified" and keep the default.
type Config struct {
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelPath   string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	Classes     []string `json:"classes" yaml:"classes" toml:"classes"`
	UploadDir   string   `json:"upload_dir" yaml:"upload_dir" toml:"upload_dir"`
	HeatmapDir  string   `json:"heatmap_dir" yaml:"heatmap_dir" toml:"heatmap_dir"`
	MaxUploadMB int      `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`
	SpO2Alert   float64  `json:"spo2_alert_threshold" yaml:"spo2_alert_threshold" toml:"spo2_alert_threshold"`
	DemoSeed    int64    `json:"demo_seed" yaml:"demo_seed" toml:"demo_seed"`
}

// Default returns the built-in settings. The class order must match the
// index-to-label mapping the model artifact was trained with.
func Default() Config {
	return Config{
		Addr:        ":8080",
		ModelPath:   filepath.Join("model", "lung_model_multi.bin"),
		Classes:     []string{"COVID19", "NORMAL", "PNEUMONIA", "TUBERCULOSIS"},
		UploadDir:   filepath.Join("static", "uploads"),
		HeatmapDir:  filepath.Join("static", "heatmaps"),
		MaxUploadMB: 16,
		SpO2Alert:   90,
	}
}

// Load resolves the effective configuration. path may be empty; when given,
// the file format is chosen by extension (.yaml/.yml, .json, .toml).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var file Config
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(b, &file)
		case ".json":
			err = json.Unmarshal(b, &file)
		case ".toml":
			err = toml.Unmarshal(b, &file)
		default:
			return cfg, fmt.Errorf("config: unsupported extension %q", ext)
		}
		if err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.merge(file)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.Addr != "" {
		c.Addr = o.Addr
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if len(o.Classes) > 0 {
		c.Classes = o.Classes
	}
	if o.UploadDir != "" {
		c.UploadDir = o.UploadDir
	}
	if o.HeatmapDir != "" {
		c.HeatmapDir = o.HeatmapDir
	}
	if o.MaxUploadMB > 0 {
		c.MaxUploadMB = o.MaxUploadMB
	}
	if o.SpO2Alert > 0 {
		c.SpO2Alert = o.SpO2Alert
	}
	if o.DemoSeed != 0 {
		c.DemoSeed = o.DemoSeed
	}
}

func (c *Config) applyEnv() {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	if v := os.Getenv("LUNGAI_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("LUNGAI_MODEL_PATH"); v != "" {
		c.ModelPath = v
	}
	if v := os.Getenv("LUNGAI_CLASSES"); v != "" {
		c.Classes = strings.Split(v, ",")
		for i := range c.Classes {
			c.Classes[i] = strings.TrimSpace(c.Classes[i])
		}
	}
	if v := os.Getenv("LUNGAI_UPLOAD_DIR"); v != "" {
		c.UploadDir = v
	}
	if v := os.Getenv("LUNGAI_HEATMAP_DIR"); v != "" {
		c.HeatmapDir = v
	}
	if v := os.Getenv("LUNGAI_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxUploadMB = n
		}
	}
	if v := os.Getenv("LUNGAI_SPO2_ALERT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.SpO2Alert = f
		}
	}
	if v := os.Getenv("LUNGAI_DEMO_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.DemoSeed = n
		}
	}
}
