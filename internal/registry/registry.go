// Package registry resolves model ids to HEF paths and model metadata by
// scanning a directory-per-model layout on disk. Archive upload/extraction
// is out of scope (SPEC_FULL.md 1) -- callers populate the models directory
// out-of-band.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ModelInfo is the metadata loaded from one model's model_config.json.
type ModelInfo struct {
	ModelID      string   `json:"model_id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Date         string   `json:"date"`
	Task         string   `json:"task"`
	Labels       []string `json:"labels"`
	NumKeypoints int      `json:"num_keypoints"`
	Description  string   `json:"description"`

	HEFPath string `json:"-"`
	usage   int
}

// Registry scans modelsDir for one subdirectory per model.
type Registry struct {
	modelsDir string

	mu     sync.Mutex
	models map[string]*ModelInfo
}

func New(modelsDir string) *Registry {
	return &Registry{modelsDir: modelsDir, models: map[string]*ModelInfo{}}
}

// Rescan re-reads every model directory under modelsDir.
func (r *Registry) Rescan() error {
	entries, err := os.ReadDir(r.modelsDir)
	if err != nil {
		return fmt.Errorf("read models dir %s: %w", r.modelsDir, err)
	}
	found := map[string]*ModelInfo{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(r.modelsDir, e.Name())
		info, err := loadModelConfig(filepath.Join(dir, "model_config.json"))
		if err != nil {
			continue
		}
		info.HEFPath = filepath.Join(dir, "model.hef")
		found[info.ModelID] = info
	}
	r.mu.Lock()
	r.models = found
	r.mu.Unlock()
	return nil
}

func loadModelConfig(path string) (*ModelInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{}
	if err := json.Unmarshal(b, info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetModel returns the metadata for modelID, or an error if unknown.
func (r *Registry) GetModel(modelID string) (*ModelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[modelID]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", modelID)
	}
	return m, nil
}

// HasModel reports whether modelID is registered.
func (r *Registry) HasModel(modelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.models[modelID]
	return ok
}

// GetModelPaths returns the HEF path and label/keypoint metadata needed to
// populate a StreamInfo from a model id.
func (r *Registry) GetModelPaths(modelID string) (hefPath, task string, numKeypoints int, labels []string, err error) {
	m, err := r.GetModel(modelID)
	if err != nil {
		return "", "", 0, nil, err
	}
	return m.HEFPath, m.Task, m.NumKeypoints, m.Labels, nil
}

// IncrementUsage records one more active stream referencing modelID.
func (r *Registry) IncrementUsage(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[modelID]; ok {
		m.usage++
	}
}

// DecrementUsage records one fewer active stream referencing modelID.
func (r *Registry) DecrementUsage(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[modelID]; ok && m.usage > 0 {
		m.usage--
	}
}
