package linkpred

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardises columns with statistics of the training rows.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a unit scale.
func FitScaler(x [][]float64) Scaler {
	if len(x) == 0 {
		return Scaler{}
	}
	d := len(x[0])
	s := Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		s.Mean[j], s.Std[j] = stat.PopMeanStdDev(col, nil)
		if s.Std[j] == 0 || math.IsNaN(s.Std[j]) {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform returns a standardised copy of row.
func (s Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// Model is an L2-regularised logistic regression over standardised
// features.
type Model struct {
	Weights []float64
	Bias    float64
	Scaler  Scaler
}

var errOneClass = errors.New("linkpred: training data has a single class")

// Fit trains a model with L-BFGS. The bias is not penalised.
func Fit(x [][]float64, y []bool, l2 float64) (*Model, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("linkpred: fit on %d rows and %d labels", len(x), len(y))
	}
	pos := 0
	for _, v := range y {
		if v {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return nil, errOneClass
	}

	scaler := FitScaler(x)
	n, d := len(x), len(x[0])
	design := mat.NewDense(n, d+1, nil)
	target := make([]float64, n)
	for i, row := range x {
		design.SetRow(i, append(scaler.Transform(row), 1))
		if y[i] {
			target[i] = 1
		}
	}

	z := mat.NewVecDense(n, nil)
	resid := mat.NewVecDense(n, nil)
	logits := func(w []float64) {
		z.MulVec(design, mat.NewVecDense(d+1, w))
	}
	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			logits(w)
			var loss float64
			for i := 0; i < n; i++ {
				zi := z.AtVec(i)
				loss += softplus(zi) - target[i]*zi
			}
			reg := floats.Dot(w[:d], w[:d])
			return loss/float64(n) + 0.5*l2*reg
		},
		Grad: func(grad, w []float64) {
			logits(w)
			for i := 0; i < n; i++ {
				resid.SetVec(i, sigmoid(z.AtVec(i))-target[i])
			}
			g := mat.NewVecDense(d+1, grad)
			g.MulVec(design.T(), resid)
			g.ScaleVec(1/float64(n), g)
			for j := 0; j < d; j++ {
				grad[j] += l2 * w[j]
			}
		},
	}
	settings := &optimize.Settings{GradientThreshold: 1e-6, MajorIterations: 1000}
	res, err := optimize.Minimize(problem, make([]float64, d+1), settings, &optimize.LBFGS{})
	// A line search that stalls near the optimum still leaves a usable point.
	if res == nil || !allFinite(res.X) {
		if err == nil {
			err = errors.New("non-finite weights")
		}
		return nil, fmt.Errorf("linkpred: optimize: %w", err)
	}
	return &Model{Weights: res.X[:d], Bias: res.X[d], Scaler: scaler}, nil
}

// Prob returns the positive-class probability of row.
func (m *Model) Prob(row []float64) float64 {
	return sigmoid(floats.Dot(m.Weights, m.Scaler.Transform(row)) + m.Bias)
}

// Probs scores every row.
func (m *Model) Probs(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.Prob(row)
	}
	return out
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus is log(1+e^z) without overflow.
func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}

// Split is a stratified train/test partition of row indices.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit puts a testFrac share of each class into the test set,
// at least one row per class. Each class needs two rows.
func StratifiedSplit(y []bool, testFrac float64, seed int64) (Split, error) {
	var pos, neg []int
	for i, v := range y {
		if v {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	if len(pos) < 2 || len(neg) < 2 {
		return Split{}, fmt.Errorf("linkpred: stratified split needs two rows per class, have %d positive and %d negative", len(pos), len(neg))
	}
	r := rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
	var s Split
	for _, class := range [][]int{pos, neg} {
		r.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		k := int(math.Round(testFrac * float64(len(class))))
		k = max(1, min(k, len(class)-1))
		s.Test = append(s.Test, class[:k]...)
		s.Train = append(s.Train, class[k:]...)
	}
	return s, nil
}

func take[T any](xs []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}
