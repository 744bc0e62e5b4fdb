// Package triage scores findings for likely validity. Two signals are
// fused: a local hashed-feature logistic classifier and the external
// reasoning service's assessment. The fusion weights favor the external
// signal but never depend on it: either signal degrades to a neutral 0.5
// when unavailable.
package triage

import (
	"fmt"
	"math"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/bountyscan/bountyscan/pkg/finding"
	"github.com/bountyscan/bountyscan/pkg/jsonutil"
)

// featureDims is the hashed feature space size. Changing it invalidates
// saved models, so Classifier.Dims is persisted alongside the weights.
const featureDims = 1 << 10

// Classifier is a logistic model over hashed finding features. The zero
// value is an untrained classifier that predicts 0.5 for everything.
type Classifier struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Dims    int       `json:"dims"`
	Trained bool      `json:"trained"`
	Samples int       `json:"samples"`
}

// NewClassifier returns an untrained classifier with the default
// feature space.
func NewClassifier() *Classifier {
	return &Classifier{
		Weights: make([]float64, featureDims),
		Dims:    featureDims,
	}
}

// LoadClassifier reads a trained model from a JSON file.
func LoadClassifier(path string) (*Classifier, error) {
	var c Classifier
	if err := jsonutil.ReadFile(path, &c); err != nil {
		return nil, fmt.Errorf("load classifier: %w", err)
	}
	if c.Dims <= 0 || len(c.Weights) != c.Dims {
		return nil, fmt.Errorf("classifier model %s has inconsistent dimensions", path)
	}
	return &c, nil
}

// Save writes the model to a JSON file atomically.
func (c *Classifier) Save(path string) error {
	return jsonutil.WriteFileAtomic(path, c)
}

// Predict scores a finding in [0,1]. An untrained classifier returns a
// neutral 0.5 so fusion does not skew on missing models.
func (c *Classifier) Predict(f *finding.Record) float64 {
	if c == nil || !c.Trained {
		return 0.5
	}
	z := c.Bias
	for _, idx := range c.features(f) {
		z += c.Weights[idx]
	}
	return sigmoid(z)
}

// Train fits the model on labeled findings with plain SGD. Labels are
// true for confirmed findings, false for known false positives.
func (c *Classifier) Train(records []*finding.Record, labels []bool, epochs int, learningRate float64) error {
	if len(records) != len(labels) {
		return fmt.Errorf("classifier: %d records but %d labels", len(records), len(labels))
	}
	if len(records) == 0 {
		return fmt.Errorf("classifier: no training samples")
	}
	if epochs <= 0 {
		epochs = 10
	}
	if learningRate <= 0 {
		learningRate = 0.1
	}
	if len(c.Weights) != c.Dims || c.Dims <= 0 {
		c.Dims = featureDims
		c.Weights = make([]float64, c.Dims)
	}

	for e := 0; e < epochs; e++ {
		for i, r := range records {
			y := 0.0
			if labels[i] {
				y = 1.0
			}
			feats := c.features(r)
			z := c.Bias
			for _, idx := range feats {
				z += c.Weights[idx]
			}
			grad := sigmoid(z) - y
			c.Bias -= learningRate * grad
			for _, idx := range feats {
				c.Weights[idx] -= learningRate * grad
			}
		}
	}
	c.Trained = true
	c.Samples = len(records)
	return nil
}

// features hashes a finding's salient attributes into weight indices.
// Tokens are lowercased so feature identity does not depend on scanner
// casing.
func (c *Classifier) features(f *finding.Record) []int {
	raw := []string{
		"scanner:" + f.ScannerKind,
		"severity:" + string(f.Severity),
	}
	for _, tok := range tokenize(f.Name) {
		raw = append(raw, "name:"+tok)
	}
	for _, tok := range tokenize(f.Description) {
		raw = append(raw, "desc:"+tok)
	}
	for k := range f.Evidence {
		raw = append(raw, "evidence:"+strings.ToLower(k))
	}

	idx := make([]int, len(raw))
	for i, feat := range raw {
		h := murmur3.Sum64([]byte(feat))
		idx[i] = int(h % uint64(c.Dims))
	}
	return idx
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
