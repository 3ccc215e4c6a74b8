package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// testModel separates bright forest canopy (VV≈2.4, VH≈0.3) from open
// ground (VV≈0.9, VH≈0.05).
func testModel(t *testing.T) *GaussianNB {
	t.Helper()
	m := &GaussianNB{
		Classes:    []int{0, 1},
		ClassPrior: []float64{0.4, 0.6},
		Theta:      [][]float64{{0.9, 0.05}, {2.4, 0.3}},
		Var:        [][]float64{{0.1, 0.001}, {0.2, 0.005}},
	}
	require.NoError(t, m.Prepare())
	return m
}

func TestGaussianNB_Predict(t *testing.T) {
	m := testModel(t)
	got, err := m.Predict([][]float64{
		{2.5, 0.31},
		{0.8, 0.04},
		{2.2, 0.25},
		{1.0, 0.06},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1, 0}, got)
	assert.Equal(t, 2, m.Features())
}

func TestGaussianNB_WrongFeatureCount(t *testing.T) {
	m := testModel(t)
	_, err := m.Predict([][]float64{{1}})
	assert.Error(t, err)
}

func TestGaussianNB_Unprepared(t *testing.T) {
	m := &GaussianNB{Classes: []int{0, 1}}
	_, err := m.Predict([][]float64{{1, 2}})
	assert.Error(t, err)
}

func TestGaussianNB_PrepareRejectsBadModels(t *testing.T) {
	tests := []struct {
		name string
		m    GaussianNB
	}{
		{"no classes", GaussianNB{}},
		{"non-binary class", GaussianNB{
			Classes: []int{0, 2}, ClassPrior: []float64{.5, .5},
			Theta: [][]float64{{1}, {2}}, Var: [][]float64{{1}, {1}},
		}},
		{"zero variance", GaussianNB{
			Classes: []int{0, 1}, ClassPrior: []float64{.5, .5},
			Theta: [][]float64{{1}, {2}}, Var: [][]float64{{1}, {0}},
		}},
		{"ragged means", GaussianNB{
			Classes: []int{0, 1}, ClassPrior: []float64{.5, .5},
			Theta: [][]float64{{1, 2}, {2}}, Var: [][]float64{{1, 1}, {1}},
		}},
		{"prior count", GaussianNB{
			Classes: []int{0, 1}, ClassPrior: []float64{1},
			Theta: [][]float64{{1}, {2}}, Var: [][]float64{{1}, {1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.m.Prepare(), raster.ErrInvalidParameter)
		})
	}
}

func TestLoadGaussianNB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1_nb.json")
	model := `{
  "classes": [0, 1],
  "class_prior": [0.4, 0.6],
  "theta": [[0.9, 0.05], [2.4, 0.3]],
  "var": [[0.1, 0.001], [0.2, 0.005]]
}`
	require.NoError(t, os.WriteFile(path, []byte(model), 0644))

	m, err := LoadGaussianNB(path)
	require.NoError(t, err)
	got, err := m.Predict([][]float64{{2.5, 0.31}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)

	_, err = LoadGaussianNB(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = LoadGaussianNB(bad)
	assert.Error(t, err)
}
