package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, []string{"COVID19", "NORMAL", "PNEUMONIA", "TUBERCULOSIS"}, cfg.Classes)
	require.Equal(t, 16, cfg.MaxUploadMB)
	require.InDelta(t, 90, cfg.SpO2Alert, 1e-9)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lungai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\nmodel_path: /opt/model.bin\nmax_upload_mb: 4\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, "/opt/model.bin", cfg.ModelPath)
	require.Equal(t, 4, cfg.MaxUploadMB)
	// Unset fields keep defaults.
	require.Equal(t, []string{"COVID19", "NORMAL", "PNEUMONIA", "TUBERCULOSIS"}, cfg.Classes)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lungai.toml")
	require.NoError(t, os.WriteFile(path, []byte("spo2_alert_threshold = 88.0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.InDelta(t, 88, cfg.SpO2Alert, 1e-9)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lungai.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"demo_seed": 7, "classes": ["A", "B"]}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 7, cfg.DemoSeed)
	require.Equal(t, []string{"A", "B"}, cfg.Classes)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lungai.ini")
	require.NoError(t, os.WriteFile(path, []byte("addr=:1\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LUNGAI_ADDR", ":7070")
	t.Setenv("LUNGAI_CLASSES", "NORMAL, PNEUMONIA")
	t.Setenv("LUNGAI_SPO2_ALERT", "92")
	t.Setenv("LUNGAI_DEMO_SEED", "99")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Addr)
	require.Equal(t, []string{"NORMAL", "PNEUMONIA"}, cfg.Classes)
	require.InDelta(t, 92, cfg.SpO2Alert, 1e-9)
	require.EqualValues(t, 99, cfg.DemoSeed)
}
