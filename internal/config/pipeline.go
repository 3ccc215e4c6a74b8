package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/canopy.report/internal/change"
	"github.com/banshee-data/canopy.report/internal/despeckle"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Classifier names accepted in the classifier field.
const (
	ClassifierThreshold = "threshold"
	ClassifierModel     = "model"
)

// PipelineConfig is the statically enumerated configuration of a processing
// run. Every field is optional; the Get* methods supply defaults for fields
// left out of the JSON file.
type PipelineConfig struct {
	// Despeckle params
	Bands       []string `json:"bands,omitempty"`
	WindowSize  *int     `json:"window_size,omitempty"`
	Looks       *float64 `json:"looks,omitempty"`
	Calibration *float64 `json:"calibration,omitempty"`

	// Classification params
	Classifier *string            `json:"classifier,omitempty"` // "threshold" or "model"
	Thresholds map[string]float64 `json:"thresholds,omitempty"` // keyed by band name
	ModelPath  *string            `json:"model_path,omitempty"`

	// Change params
	Policy        *string `json:"policy,omitempty"` // "consecutive" or "cumulative_sum"
	MaskNonForest *bool   `json:"mask_non_forest,omitempty"`
	Observations  *int    `json:"observations,omitempty"`
	BaselineKey   *string `json:"baseline_key,omitempty"`

	// Layout params
	Dataset *string `json:"dataset,omitempty"`

	Workers *int `json:"workers,omitempty"` // 0 means GOMAXPROCS
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field populated from
// the built-in defaults.
func DefaultPipelineConfig() *PipelineConfig {
	c := EmptyPipelineConfig()
	return &PipelineConfig{
		Bands:         c.GetBands(),
		WindowSize:    ptrInt(c.GetWindowSize()),
		Looks:         ptrFloat64(c.GetLooks()),
		Calibration:   ptrFloat64(c.GetCalibration()),
		Classifier:    ptrString(c.GetClassifier()),
		Thresholds:    c.GetThresholds(),
		ModelPath:     ptrString(""),
		Policy:        ptrString(c.GetPolicyName()),
		MaskNonForest: ptrBool(c.GetMaskNonForest()),
		Observations:  ptrInt(c.GetObservations()),
		BaselineKey:   ptrString(c.GetBaselineKey()),
		Dataset:       ptrString(c.GetDataset()),
		Workers:       ptrInt(c.GetWorkers()),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
// Fields omitted from the file fall back to the Get* defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Errors wrap
// raster.ErrInvalidParameter.
func (c *PipelineConfig) Validate() error {
	seen := make(map[string]bool, len(c.Bands))
	for _, b := range c.Bands {
		if b == "" || strings.ContainsAny(b, "/_ ") {
			return fmt.Errorf("%w: invalid band name %q", raster.ErrInvalidParameter, b)
		}
		if seen[b] {
			return fmt.Errorf("%w: band %q listed twice", raster.ErrInvalidParameter, b)
		}
		seen[b] = true
	}

	if c.WindowSize != nil {
		if err := raster.ValidateWindowSize(*c.WindowSize); err != nil {
			return fmt.Errorf("window_size: %w", err)
		}
	}
	if c.Looks != nil && !(*c.Looks > 0) {
		return fmt.Errorf("%w: looks must be positive, got %f", raster.ErrInvalidParameter, *c.Looks)
	}
	if c.Calibration != nil && !(*c.Calibration > 0) {
		return fmt.Errorf("%w: calibration must be positive, got %f", raster.ErrInvalidParameter, *c.Calibration)
	}

	switch c.GetClassifier() {
	case ClassifierThreshold:
		th := c.GetThresholds()
		for _, b := range c.GetBands() {
			if _, ok := th[b]; !ok {
				return fmt.Errorf("%w: no threshold for band %q", raster.ErrInvalidParameter, b)
			}
		}
	case ClassifierModel:
		if c.GetModelPath() == "" {
			return fmt.Errorf("%w: classifier %q requires model_path", raster.ErrInvalidParameter, ClassifierModel)
		}
	default:
		return fmt.Errorf("%w: unknown classifier %q", raster.ErrInvalidParameter, c.GetClassifier())
	}

	if _, err := change.ParsePolicy(c.GetPolicyName()); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if c.Observations != nil && *c.Observations < 1 {
		return fmt.Errorf("%w: observations must be at least 1, got %d", raster.ErrInvalidParameter, *c.Observations)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", raster.ErrInvalidParameter, *c.Workers)
	}
	if c.Dataset != nil && (*c.Dataset == "" || strings.Contains(*c.Dataset, "/")) {
		return fmt.Errorf("%w: invalid dataset %q", raster.ErrInvalidParameter, *c.Dataset)
	}

	return nil
}

// GetBands returns the polarisation bands to process, VV and VH by default.
func (c *PipelineConfig) GetBands() []string {
	if len(c.Bands) == 0 {
		return []string{"VV", "VH"}
	}
	out := make([]string, len(c.Bands))
	copy(out, c.Bands)
	return out
}

// GetWindowSize returns the window_size value or the default.
func (c *PipelineConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return raster.DefaultWindowSize
	}
	return *c.WindowSize
}

// GetLooks returns the looks value or the default. Sentinel-1 GRD scenes
// are processed as 3-look imagery.
func (c *PipelineConfig) GetLooks() float64 {
	if c.Looks == nil {
		return 3
	}
	return *c.Looks
}

// GetCalibration returns the calibration value or the default.
func (c *PipelineConfig) GetCalibration() float64 {
	if c.Calibration == nil {
		return despeckle.DefaultCalibration
	}
	return *c.Calibration
}

// GetClassifier returns the classifier value or the default.
func (c *PipelineConfig) GetClassifier() string {
	if c.Classifier == nil || *c.Classifier == "" {
		return ClassifierThreshold
	}
	return *c.Classifier
}

// GetThresholds returns a copy of the per-band thresholds, with defaults for
// VV and VH when unset.
func (c *PipelineConfig) GetThresholds() map[string]float64 {
	out := map[string]float64{"VV": 1.7, "VH": 0.15}
	if len(c.Thresholds) > 0 {
		out = make(map[string]float64, len(c.Thresholds))
		for k, v := range c.Thresholds {
			out[k] = v
		}
	}
	return out
}

// GetBandThresholds returns thresholds ordered like GetBands.
func (c *PipelineConfig) GetBandThresholds() []float64 {
	th := c.GetThresholds()
	bands := c.GetBands()
	out := make([]float64, len(bands))
	for i, b := range bands {
		out[i] = th[b]
	}
	return out
}

// GetModelPath returns the model_path value or "".
func (c *PipelineConfig) GetModelPath() string {
	if c.ModelPath == nil {
		return ""
	}
	return *c.ModelPath
}

// GetPolicyName returns the policy value or the default.
func (c *PipelineConfig) GetPolicyName() string {
	if c.Policy == nil || *c.Policy == "" {
		return change.Consecutive.String()
	}
	return *c.Policy
}

// GetPolicy returns the parsed accumulation policy, Consecutive if the
// configured name is unknown. Validate reports unknown names.
func (c *PipelineConfig) GetPolicy() change.Policy {
	p, err := change.ParsePolicy(c.GetPolicyName())
	if err != nil {
		return change.Consecutive
	}
	return p
}

// GetMaskNonForest returns the mask_non_forest value or the default.
func (c *PipelineConfig) GetMaskNonForest() bool {
	if c.MaskNonForest == nil {
		return false
	}
	return *c.MaskNonForest
}

// GetObservations returns the observations value or the default.
func (c *PipelineConfig) GetObservations() int {
	if c.Observations == nil {
		return 3
	}
	return *c.Observations
}

// GetBaselineKey returns the baseline_key value or the default.
func (c *PipelineConfig) GetBaselineKey() string {
	if c.BaselineKey == nil || *c.BaselineKey == "" {
		return "tree_cover/tree_cover_2020.grid"
	}
	return *c.BaselineKey
}

// GetDataset returns the dataset value or the default.
func (c *PipelineConfig) GetDataset() string {
	if c.Dataset == nil || *c.Dataset == "" {
		return "s1"
	}
	return *c.Dataset
}

// GetWorkers returns the workers value or 0.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// DespeckleParams returns the filter parameters described by the config.
func (c *PipelineConfig) DespeckleParams() despeckle.Params {
	return despeckle.Params{
		WindowSize: c.GetWindowSize(),
		Looks:      c.GetLooks(),
		Workers:    c.GetWorkers(),
	}
}

// ChangeOptions returns the accumulation options described by the config.
func (c *PipelineConfig) ChangeOptions() change.Options {
	return change.Options{
		Policy:        c.GetPolicy(),
		MaskNonForest: c.GetMaskNonForest(),
		Workers:       c.GetWorkers(),
	}
}
