package triage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountyscan/bountyscan/pkg/finding"
)

func trainingSet() ([]*finding.Record, []bool) {
	var records []*finding.Record
	var labels []bool

	// Confirmed findings: specific names, rich evidence.
	for i := 0; i < 20; i++ {
		f := finding.New("nuclei", "example.com", "sql-injection-error-based", finding.High)
		f.Description = "database error reflected in response"
		f.Evidence = map[string]string{"matched": "syntax error near", "url": "/search"}
		records = append(records, f)
		labels = append(labels, true)
	}
	// Known false positives: generic info noise.
	for i := 0; i < 20; i++ {
		f := finding.New("nuclei", "example.com", "generic-banner-detect", finding.Info)
		f.Description = "server banner observed"
		records = append(records, f)
		labels = append(labels, false)
	}
	return records, labels
}

func TestUntrainedPredictsNeutral(t *testing.T) {
	c := NewClassifier()
	f := finding.New("nuclei", "example.com", "anything", finding.High)
	assert.Equal(t, 0.5, c.Predict(f))

	var nilClassifier *Classifier
	assert.Equal(t, 0.5, nilClassifier.Predict(f))
}

func TestTrainSeparatesClasses(t *testing.T) {
	records, labels := trainingSet()
	c := NewClassifier()
	require.NoError(t, c.Train(records, labels, 20, 0.1))
	require.True(t, c.Trained)

	positive := finding.New("nuclei", "example.com", "sql-injection-error-based", finding.High)
	positive.Description = "database error reflected in response"
	negative := finding.New("nuclei", "example.com", "generic-banner-detect", finding.Info)
	negative.Description = "server banner observed"

	assert.Greater(t, c.Predict(positive), 0.7)
	assert.Less(t, c.Predict(negative), 0.3)
}

func TestTrainValidatesInput(t *testing.T) {
	c := NewClassifier()
	assert.Error(t, c.Train(nil, nil, 10, 0.1))

	records, _ := trainingSet()
	assert.Error(t, c.Train(records, []bool{true}, 10, 0.1))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	records, labels := trainingSet()
	c := NewClassifier()
	require.NoError(t, c.Train(records, labels, 10, 0.1))

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, c.Save(path))

	loaded, err := LoadClassifier(path)
	require.NoError(t, err)
	assert.True(t, loaded.Trained)
	assert.Equal(t, c.Samples, loaded.Samples)

	f := finding.New("nuclei", "example.com", "sql-injection-error-based", finding.High)
	assert.InDelta(t, c.Predict(f), loaded.Predict(f), 1e-9)
}

func TestLoadRejectsInconsistentModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	c := &Classifier{Weights: []float64{1, 2}, Dims: 5, Trained: true}
	require.NoError(t, c.Save(path))

	_, err := LoadClassifier(path)
	assert.ErrorContains(t, err, "inconsistent dimensions")
}

func TestFeatureHashingIsCaseInsensitive(t *testing.T) {
	c := NewClassifier()
	a := finding.New("nuclei", "example.com", "SQL-Injection", finding.High)
	b := finding.New("nuclei", "example.com", "sql-injection", finding.High)
	assert.Equal(t, c.features(a), c.features(b))
}
