package sentiment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinancialModelPredict(t *testing.T) {
	m := newFinancialModel()

	p, err := m.Predict("shares surge after earnings beat expectations")
	require.NoError(t, err)
	assert.Equal(t, "positive", p.Label)
	assert.Greater(t, p.Confidence, 0.7)

	p, err = m.Predict("stock plunges on downgrade and layoffs")
	require.NoError(t, err)
	assert.Equal(t, "negative", p.Label)

	p, err = m.Predict("the meeting is scheduled for next week")
	require.NoError(t, err)
	assert.Equal(t, "neutral", p.Label)
}

func TestModelPredictEmptyText(t *testing.T) {
	m := newFinancialModel()
	_, err := m.Predict("   ")
	assert.Error(t, err)
}

func TestNegationFlipsPolarity(t *testing.T) {
	m := newFinancialModel()

	p, err := m.Predict("results did not beat expectations this quarter")
	require.NoError(t, err)
	assert.NotEqual(t, "positive", p.Label)
}

func TestProbsSumToOne(t *testing.T) {
	m := newFinancialModel()
	p, err := m.Predict("record profit growth and strong momentum")
	require.NoError(t, err)

	sum := p.Probs.Positive + p.Probs.Negative + p.Probs.Neutral
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestTemperatureSoftensConfidence(t *testing.T) {
	sharp := softmax3(4, 0, 1, 1.0)
	soft := softmax3(4, 0, 1, 3.0)
	assert.Greater(t, sharp.Positive, soft.Positive)
}

func TestSetTemperature(t *testing.T) {
	m := newFinancialModel()
	assert.Error(t, m.SetTemperature(0))
	assert.Error(t, m.SetTemperature(-1))
	assert.NoError(t, m.SetTemperature(2.0))
}

func TestCalibrateTemperature(t *testing.T) {
	// Overconfident logits with occasionally wrong labels should calibrate
	// to a temperature above 1.
	samples := []CalibrationSample{
		{PosLogit: 6, NegLogit: 0, NeuLogit: 1, TrueLabel: "positive"},
		{PosLogit: 6, NegLogit: 0, NeuLogit: 1, TrueLabel: "neutral"},
		{PosLogit: 0, NegLogit: 6, NeuLogit: 1, TrueLabel: "negative"},
		{PosLogit: 0, NegLogit: 6, NeuLogit: 1, TrueLabel: "positive"},
		{PosLogit: 1, NegLogit: 1, NeuLogit: 2, TrueLabel: "neutral"},
	}

	temp, err := CalibrateTemperature(samples)
	require.NoError(t, err)
	assert.Greater(t, temp, 1.0)
	assert.False(t, math.IsNaN(temp))
}

func TestCalibrateTemperatureEmpty(t *testing.T) {
	_, err := CalibrateTemperature(nil)
	assert.Error(t, err)
}

func TestEnsembleModelsDiffer(t *testing.T) {
	primary := newFinancialModel()
	second := newEnsembleModel()
	assert.NotEqual(t, primary.Name(), second.Name())
}
