package nn

import (
	"fmt"
	"math/rand"

	"go-mixer/tensor"
)

// FlattenSpatial reshapes a feature map [B, C, H, W] into a token sequence [B, H*W, C].
type FlattenSpatial struct{ noParams }

func NewFlattenSpatial() *FlattenSpatial {
	return &FlattenSpatial{}
}

func (f *FlattenSpatial) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	shape := input.GetShape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("flatten expects a 4D input [B, C, H, W], got %v", shape)
	}
	x, err := tensor.Reshape(input, []int{shape[0], shape[1], shape[2] * shape[3]})
	if err != nil {
		return nil, err
	}
	return tensor.Permute(x, []int{0, 2, 1})
}

func (f *FlattenSpatial) Name() string {
	return "FlattenSpatial"
}

// TokensToMap is the inverse of FlattenSpatial: [B, H*W, C] -> [B, C, H, W].
func TokensToMap(tokens *tensor.Tensor, height, width int) (*tensor.Tensor, error) {
	shape := tokens.GetShape()
	if len(shape) != 3 || shape[1] != height*width {
		return nil, fmt.Errorf("tokens %v do not cover a %dx%d map", shape, height, width)
	}
	x, err := tensor.Permute(tokens, []int{0, 2, 1})
	if err != nil {
		return nil, err
	}
	return tensor.Reshape(x, []int{shape[0], -1, height, width})
}

// ChannelProjection flattens a feature map into tokens and projects every
// token from inChannels to outChannels: [B, C, H, W] -> [B, H*W, out].
type ChannelProjection struct {
	flatten *FlattenSpatial
	proj    *Linear
}

func NewChannelProjection(inChannels, outChannels int, rng *rand.Rand) (*ChannelProjection, error) {
	proj, err := NewLinear(inChannels, outChannels, rng)
	if err != nil {
		return nil, fmt.Errorf("channel projection: %w", err)
	}
	return &ChannelProjection{flatten: NewFlattenSpatial(), proj: proj}, nil
}

func (c *ChannelProjection) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	tokens, err := c.flatten.Forward(input)
	if err != nil {
		return nil, err
	}
	return c.proj.Forward(tokens)
}

func (c *ChannelProjection) Parameters() []*tensor.Tensor { return c.proj.Parameters() }
func (c *ChannelProjection) ZeroGrad()                    { c.proj.ZeroGrad() }
func (c *ChannelProjection) Name() string                 { return "ChannelProjection" }
func (c *ChannelProjection) Layers() []Layer              { return []Layer{c.flatten, c.proj} }

// NewLinearFuse is a 1x1 convolution followed by batch normalization, used to
// fuse concatenated feature maps down to outChannels.
func NewLinearFuse(inChannels, outChannels int, rng *rand.Rand) (*Sequential, error) {
	conv, err := NewConv2D(inChannels, outChannels, 1, 1, 0, rng)
	if err != nil {
		return nil, fmt.Errorf("linear fuse: %w", err)
	}
	bn, err := NewBatchNorm2D(outChannels)
	if err != nil {
		return nil, fmt.Errorf("linear fuse: %w", err)
	}
	return NewNamedSequential("LinearFuse", conv, bn), nil
}
