package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// GaussianNB is a fitted Gaussian naive Bayes model. The JSON field names
// follow the fitted attributes exported by common training toolkits, so a
// model trained elsewhere can be dropped in as-is.
type GaussianNB struct {
	Classes    []int       `json:"classes"`
	ClassPrior []float64   `json:"class_prior"`
	Theta      [][]float64 `json:"theta"` // per-class feature means
	Var        [][]float64 `json:"var"`   // per-class feature variances

	logPrior []float64
	dists    [][]distuv.Normal
}

// maxModelSize bounds model files read from disk.
const maxModelSize = 4 * 1024 * 1024

// LoadGaussianNB reads and prepares a model from a JSON file.
func LoadGaussianNB(path string) (*GaussianNB, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model file: %w", err)
	}
	if info.Size() > maxModelSize {
		return nil, fmt.Errorf("model file too large: %d bytes (max %d)", info.Size(), maxModelSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var m GaussianNB
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	if err := m.Prepare(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Features returns the number of features the model was fitted on.
func (m *GaussianNB) Features() int {
	if len(m.Theta) == 0 {
		return 0
	}
	return len(m.Theta[0])
}

// Prepare validates the fitted parameters and precomputes the per-class
// densities. It must be called before Predict when the struct is built by
// hand.
func (m *GaussianNB) Prepare() error {
	k := len(m.Classes)
	if k == 0 {
		return fmt.Errorf("%w: model has no classes", raster.ErrInvalidParameter)
	}
	if len(m.ClassPrior) != k || len(m.Theta) != k || len(m.Var) != k {
		return fmt.Errorf("%w: model has %d classes but %d priors, %d mean rows, %d variance rows",
			raster.ErrInvalidParameter, k, len(m.ClassPrior), len(m.Theta), len(m.Var))
	}
	for _, c := range m.Classes {
		if c != 0 && c != 1 {
			return fmt.Errorf("%w: model class %d is not a binary label", raster.ErrInvalidParameter, c)
		}
	}
	nf := len(m.Theta[0])
	if nf == 0 {
		return fmt.Errorf("%w: model has no features", raster.ErrInvalidParameter)
	}

	m.logPrior = make([]float64, k)
	m.dists = make([][]distuv.Normal, k)
	for c := 0; c < k; c++ {
		if !(m.ClassPrior[c] > 0) {
			return fmt.Errorf("%w: class %d prior must be positive, got %v", raster.ErrInvalidParameter, m.Classes[c], m.ClassPrior[c])
		}
		if len(m.Theta[c]) != nf || len(m.Var[c]) != nf {
			return fmt.Errorf("%w: class %d feature count mismatch", raster.ErrInvalidParameter, m.Classes[c])
		}
		m.logPrior[c] = math.Log(m.ClassPrior[c])
		m.dists[c] = make([]distuv.Normal, nf)
		for j := 0; j < nf; j++ {
			if !(m.Var[c][j] > 0) {
				return fmt.Errorf("%w: class %d feature %d variance must be positive", raster.ErrInvalidParameter, m.Classes[c], j)
			}
			m.dists[c][j] = distuv.Normal{Mu: m.Theta[c][j], Sigma: math.Sqrt(m.Var[c][j])}
		}
	}
	return nil
}

// Predict implements Predictor by picking the class with the highest joint
// log likelihood.
func (m *GaussianNB) Predict(rows [][]float64) ([]int, error) {
	if m.dists == nil {
		return nil, fmt.Errorf("gaussian naive bayes model not prepared")
	}
	nf := m.Features()
	labels := make([]int, len(rows))
	jll := make([]float64, len(m.Classes))
	for r, row := range rows {
		if len(row) != nf {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", r, len(row), nf)
		}
		for c := range m.Classes {
			ll := m.logPrior[c]
			for j, x := range row {
				ll += m.dists[c][j].LogProb(x)
			}
			jll[c] = ll
		}
		labels[r] = m.Classes[floats.MaxIdx(jll)]
	}
	return labels, nil
}
