package nn

import (
	"fmt"
	"math/rand"

	"go-mixer/tensor"
)

// PointwiseConv1D is a kernel-size-1 Conv1d over [B, C, L]: it projects the
// channel axis C independently for every position along L.
type PointwiseConv1D struct {
	proj *Linear
}

func NewPointwiseConv1D(inChannels, outChannels int, rng *rand.Rand) (*PointwiseConv1D, error) {
	proj, err := NewLinear(inChannels, outChannels, rng)
	if err != nil {
		return nil, fmt.Errorf("pointwise conv1d: %w", err)
	}
	return &PointwiseConv1D{proj: proj}, nil
}

func (c *PointwiseConv1D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.GetShape()) != 3 {
		return nil, fmt.Errorf("pointwise conv1d expects a 3D input [B, C, L], got %v", input.GetShape())
	}
	// b c l -> b l c, project c, and back
	x, err := tensor.Permute(input, []int{0, 2, 1})
	if err != nil {
		return nil, err
	}
	x, err = c.proj.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("pointwise conv1d: %w", err)
	}
	return tensor.Permute(x, []int{0, 2, 1})
}

func (c *PointwiseConv1D) Parameters() []*tensor.Tensor { return c.proj.Parameters() }
func (c *PointwiseConv1D) ZeroGrad()                    { c.proj.ZeroGrad() }
func (c *PointwiseConv1D) Name() string                 { return "PointwiseConv1D" }

// NewFeedForward builds dense(dim, inner) -> GELU -> Dropout -> dense(inner, dim) -> Dropout
// with inner = int(dim * expansionFactor).
func NewFeedForward(dim int, expansionFactor, dropout float64, dense DenseFactory, rng *rand.Rand) (*Sequential, error) {
	innerDim := int(float64(dim) * expansionFactor)
	if innerDim <= 0 {
		return nil, fmt.Errorf("feedforward hidden width int(%d * %v) must be positive", dim, expansionFactor)
	}

	expand, err := dense(dim, innerDim, rng)
	if err != nil {
		return nil, fmt.Errorf("feedforward expand: %w", err)
	}
	contract, err := dense(innerDim, dim, rng)
	if err != nil {
		return nil, fmt.Errorf("feedforward contract: %w", err)
	}
	drop1, err := NewDropout(dropout, rng)
	if err != nil {
		return nil, err
	}
	drop2, err := NewDropout(dropout, rng)
	if err != nil {
		return nil, err
	}
	return NewNamedSequential("FeedForward", expand, NewGELU(), drop1, contract, drop2), nil
}

// PreNormResidual computes fn(LayerNorm(x)) + x.
type PreNormResidual struct {
	norm *LayerNorm
	fn   Layer
}

func NewPreNormResidual(dim int, fn Layer) (*PreNormResidual, error) {
	norm, err := NewLayerNorm(dim)
	if err != nil {
		return nil, err
	}
	return &PreNormResidual{norm: norm, fn: fn}, nil
}

func (r *PreNormResidual) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	normed, err := r.norm.Forward(x)
	if err != nil {
		return nil, err
	}
	y, err := r.fn.Forward(normed)
	if err != nil {
		return nil, err
	}
	return Residual(y, x)
}

// Residual adds the block input back onto the block output.
func Residual(y, x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.AddTensor(y, x)
	if err != nil {
		return nil, fmt.Errorf("residual: block changed shape %v -> %v: %w", x.GetShape(), y.GetShape(), err)
	}
	return out, nil
}

func (r *PreNormResidual) Parameters() []*tensor.Tensor {
	return append(r.norm.Parameters(), r.fn.Parameters()...)
}

func (r *PreNormResidual) ZeroGrad() {
	r.norm.ZeroGrad()
	r.fn.ZeroGrad()
}

func (r *PreNormResidual) SetTraining(training bool) {
	if m, ok := r.fn.(Modal); ok {
		m.SetTraining(training)
	}
}

func (r *PreNormResidual) Name() string      { return "PreNormResidual" }
func (r *PreNormResidual) Layers() []Layer   { return []Layer{r.norm, r.fn} }
func (r *PreNormResidual) Norm() *LayerNorm { return r.norm }
func (r *PreNormResidual) Fn() Layer        { return r.fn }

// PatchPartition turns [B, C, H, W] into patch tokens [B, N, p*p*C].
type PatchPartition struct {
	noParams
	patch int
}

func NewPatchPartition(patch int) *PatchPartition { return &PatchPartition{patch: patch} }

func (p *PatchPartition) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Patchify(input, p.patch)
}

func (p *PatchPartition) Name() string { return "PatchPartition" }

// PatchMerge reassembles tokens [B, gridH*gridW, p*p*C] into [B, C, gridH*p, gridW*p].
type PatchMerge struct {
	noParams
	patch        int
	gridH, gridW int
}

func NewPatchMerge(patch, gridH, gridW int) *PatchMerge {
	return &PatchMerge{patch: patch, gridH: gridH, gridW: gridW}
}

func (p *PatchMerge) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Unpatchify(input, p.patch, p.gridH, p.gridW)
}

func (p *PatchMerge) Name() string { return "PatchMerge" }
