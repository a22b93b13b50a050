package sentiment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// CalibrationSample is one labelled validation example: the raw class
// logits a model produced and the true label.
type CalibrationSample struct {
	PosLogit  float64
	NegLogit  float64
	NeuLogit  float64
	TrueLabel string
}

// CalibrateTemperature fits the temperature scalar by minimizing negative
// log-likelihood over a validation set. The result is a stored model
// parameter, not a runtime choice; this runs offline when the lexicons
// change.
func CalibrateTemperature(samples []CalibrationSample) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("calibration requires at least one sample")
	}

	nll := func(x []float64) float64 {
		// Optimize over log(T) so the positivity constraint is implicit.
		t := math.Exp(x[0])
		total := 0.0
		for _, s := range samples {
			probs := softmax3(s.PosLogit, s.NegLogit, s.NeuLogit, t)
			var p float64
			switch s.TrueLabel {
			case "positive":
				p = probs.Positive
			case "negative":
				p = probs.Negative
			default:
				p = probs.Neutral
			}
			total -= math.Log(math.Max(p, 1e-12))
		}
		return total / float64(len(samples))
	}

	problem := optimize.Problem{Func: nll}
	result, err := optimize.Minimize(problem, []float64{math.Log(defaultTemperature)}, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, fmt.Errorf("temperature optimization failed: %w", err)
	}

	t := math.Exp(result.X[0])
	if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("optimization produced invalid temperature %f", t)
	}
	return t, nil
}
