package linkpred

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metrics is a held-out evaluation of one variant.
type Metrics struct {
	AUC float64
	// Threshold maximises F-beta on the held-out rows.
	Threshold float64
	FBeta     float64
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	Train     int
	Test      int
}

// AUC is the area under the ROC curve. A single-class sample has none and
// scores 0.
func AUC(probs []float64, y []bool) float64 {
	p := append([]float64(nil), probs...)
	c := append([]bool(nil), y...)
	stat.SortWeightedLabeled(p, c, nil)
	pos := 0
	for _, v := range c {
		if v {
			pos++
		}
	}
	if pos == 0 || pos == len(c) {
		return 0
	}
	tpr, fpr, _ := stat.ROC(nil, p, c, nil)
	auc := integrate.Trapezoidal(fpr, tpr)
	if math.IsNaN(auc) {
		return 0
	}
	return auc
}

type confusion struct{ tp, fp, tn, fn float64 }

func confusionAt(probs []float64, y []bool, threshold float64) confusion {
	var c confusion
	for i, p := range probs {
		switch pred := p >= threshold; {
		case pred && y[i]:
			c.tp++
		case pred && !y[i]:
			c.fp++
		case !pred && y[i]:
			c.fn++
		default:
			c.tn++
		}
	}
	return c
}

func (c confusion) precision() float64 { return ratio(c.tp, c.tp+c.fp) }
func (c confusion) recall() float64    { return ratio(c.tp, c.tp+c.fn) }

func (c confusion) fbeta(beta float64) float64 {
	p, r := c.precision(), c.recall()
	b2 := beta * beta
	return ratio((1+b2)*p*r, b2*p+r)
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// BestThreshold returns the cutoff among the observed probabilities that
// maximises F-beta, the lowest one on ties.
func BestThreshold(probs []float64, y []bool, beta float64) (threshold, score float64) {
	cuts := append([]float64(nil), probs...)
	sort.Float64s(cuts)
	threshold, score = 0.5, -1
	for i, t := range cuts {
		if i > 0 && t == cuts[i-1] {
			continue
		}
		if f := confusionAt(probs, y, t).fbeta(beta); f > score {
			threshold, score = t, f
		}
	}
	if score < 0 {
		score = 0
	}
	return threshold, score
}

// Evaluate scores held-out predictions. Accuracy, precision, recall and F1
// are taken at 0.5.
func Evaluate(probs []float64, y []bool, beta float64) Metrics {
	m := Metrics{AUC: AUC(probs, y), Test: len(y)}
	m.Threshold, m.FBeta = BestThreshold(probs, y, beta)
	c := confusionAt(probs, y, 0.5)
	m.Accuracy = ratio(c.tp+c.tn, float64(len(y)))
	m.Precision = c.precision()
	m.Recall = c.recall()
	m.F1 = c.fbeta(1)
	return m
}
