package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRescanAndGetModel(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "yolov8m")
	require.NoError(t, os.MkdirAll(modelDir, 0755))
	config := `{"model_id":"yolov8m","name":"YOLOv8 medium","task":"det","labels":["person","car"]}`
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "model_config.json"), []byte(config), 0644))

	r := New(dir)
	require.NoError(t, r.Rescan())
	require.True(t, r.HasModel("yolov8m"))

	hef, task, _, labels, err := r.GetModelPaths("yolov8m")
	require.NoError(t, err)
	require.Equal(t, "det", task)
	require.Equal(t, []string{"person", "car"}, labels)
	require.Equal(t, filepath.Join(modelDir, "model.hef"), hef)
}

func TestGetModelUnknownErrors(t *testing.T) {
	r := New(t.TempDir())
	require.NoError(t, r.Rescan())
	_, err := r.GetModel("nope")
	require.Error(t, err)
}

func TestUsageCounters(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "m1")
	require.NoError(t, os.MkdirAll(modelDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "model_config.json"), []byte(`{"model_id":"m1"}`), 0644))
	r := New(dir)
	require.NoError(t, r.Rescan())
	r.IncrementUsage("m1")
	r.IncrementUsage("m1")
	r.DecrementUsage("m1")
	require.Equal(t, 1, r.models["m1"].usage)
}
