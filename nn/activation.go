package nn

import (
	"fmt"
	"math"

	"go-mixer/tensor"
)

// exact (erf based) GELU: out = x * Φ(x)
func GELU(t *tensor.Tensor) (*tensor.Tensor, error) {
	tData := t.GetData()
	outData := make([]float64, len(tData))
	for i, v := range tData {
		outData[i] = 0.5 * v * (1 + math.Erf(v/math.Sqrt2))
	}

	r, err := tensor.NewTensor(t.GetShape(), outData)
	if err != nil {
		return nil, fmt.Errorf("gelu failed to create output tensor: %w", err)
	}

	if t.RequiresGrad {
		r.RequiresGrad = true
		r.Parents = []*tensor.Tensor{t}
		r.Operation = "gelu"

		r.BackwardFunc = func(grad *tensor.Tensor) {
			// d/dx x*Φ(x) = Φ(x) + x*φ(x)
			gradData := grad.GetData()
			gradDataForT := make([]float64, len(gradData))
			for i, v := range tData {
				cdf := 0.5 * (1 + math.Erf(v/math.Sqrt2))
				pdf := math.Exp(-0.5*v*v) / math.Sqrt(2*math.Pi)
				gradDataForT[i] = gradData[i] * (cdf + v*pdf)
			}

			gradTensorForT, err := tensor.NewTensor(t.GetShape(), gradDataForT)
			if err != nil {
				return
			}
			t.AccumulateGrad(gradTensorForT)
		}
	}
	return r, nil
}

type GELUActivation struct{ noParams }

func NewGELU() *GELUActivation { return &GELUActivation{} }

func (g *GELUActivation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) { return GELU(input) }
func (g *GELUActivation) Name() string                                        { return "GELU" }
