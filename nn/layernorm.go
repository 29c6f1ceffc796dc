package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"go-mixer/tensor"
)

const normEps = 1e-5

// LayerNorm normalizes over the last axis and applies a learned scale and shift:
//
//	y = (x - mean) / sqrt(var + eps) * gamma + beta
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *tensor.Tensor
	beta  *tensor.Tensor
}

// NewLayerNorm starts from the identity transform (gamma=1, beta=0).
func NewLayerNorm(dim int) (*LayerNorm, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("layernorm dimension must be positive, got %d", dim)
	}
	gamma, err := constParam([]int{dim}, 1)
	if err != nil {
		return nil, err
	}
	beta, err := constParam([]int{dim}, 0)
	if err != nil {
		return nil, err
	}
	return &LayerNorm{dim: dim, eps: normEps, gamma: gamma, beta: beta}, nil
}

func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.GetShape()
	if len(shape) == 0 || shape[len(shape)-1] != ln.dim {
		return nil, fmt.Errorf("layernorm expects last dimension %d, got shape %v", ln.dim, shape)
	}

	d := ln.dim
	xData := x.GetData()
	gamma, beta := ln.gamma.GetData(), ln.beta.GetData()
	rows := len(xData) / d

	xhat := make([]float64, len(xData))
	invStd := make([]float64, rows)
	outData := make([]float64, len(xData))
	for r := 0; r < rows; r++ {
		row := xData[r*d : (r+1)*d]
		mean := floats.Sum(row) / float64(d)
		variance := 0.0
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(d)

		invStd[r] = 1 / math.Sqrt(variance+ln.eps)
		for j, v := range row {
			xh := (v - mean) * invStd[r]
			xhat[r*d+j] = xh
			outData[r*d+j] = xh*gamma[j] + beta[j]
		}
	}

	out, err := tensor.NewTensor(shape, outData)
	if err != nil {
		return nil, fmt.Errorf("layernorm failed to create output tensor: %w", err)
	}
	if !(x.RequiresGrad || ln.gamma.RequiresGrad || ln.beta.RequiresGrad) {
		return out, nil
	}

	out.RequiresGrad = true
	out.Parents = []*tensor.Tensor{x, ln.gamma, ln.beta}
	out.Operation = "layernorm"
	out.BackwardFunc = func(grad *tensor.Tensor) {
		gradData := grad.GetData()
		gradX := make([]float64, len(xData))
		gradGamma := make([]float64, d)
		gradBeta := make([]float64, d)
		dxhat := make([]float64, d)

		for r := 0; r < rows; r++ {
			dy := gradData[r*d : (r+1)*d]
			xh := xhat[r*d : (r+1)*d]
			for j := range dy {
				dxhat[j] = dy[j] * gamma[j]
				gradGamma[j] += dy[j] * xh[j]
				gradBeta[j] += dy[j]
			}
			sumDxhat := floats.Sum(dxhat)
			sumDxhatXhat := floats.Dot(dxhat, xh)
			scale := invStd[r] / float64(d)
			for j := range dxhat {
				gradX[r*d+j] = scale * (float64(d)*dxhat[j] - sumDxhat - xh[j]*sumDxhatXhat)
			}
		}

		if g, err := tensor.NewTensor(shape, gradX); err == nil {
			x.AccumulateGrad(g)
		}
		if g, err := tensor.NewTensor([]int{d}, gradGamma); err == nil {
			ln.gamma.AccumulateGrad(g)
		}
		if g, err := tensor.NewTensor([]int{d}, gradBeta); err == nil {
			ln.beta.AccumulateGrad(g)
		}
	}
	return out, nil
}

func (ln *LayerNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{ln.gamma, ln.beta}
}

func (ln *LayerNorm) ZeroGrad() { zeroGrad(ln.Parameters()) }

func (ln *LayerNorm) Name() string { return "LayerNorm" }
