// Package mixer assembles the MLP-Mixer: patch partition, linear embedding,
// a stack of token-mixing and channel-mixing residual blocks, and the
// inverse projection back onto the input's spatial layout.
package mixer

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go-mixer/nn"
	"go-mixer/tensor"
)

// Model maps [B, C, H, W] to a tensor of the same shape.
type Model struct {
	cfg          Config
	gridH, gridW int
	net          *nn.Sequential
}

// New validates cfg and builds the layer stack. no tensor is allocated
// before validation succeeds.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	gridH, gridW := cfg.GridSize()
	numPatches, patchDim := cfg.NumPatches(), cfg.PatchDim()

	embed, err := nn.NewLinear(patchDim, cfg.Dim, rng)
	if err != nil {
		return nil, fmt.Errorf("patch embedding: %w", err)
	}
	net := nn.NewNamedSequential("MLPMixer", nn.NewPatchPartition(cfg.PatchSize), embed)

	for i := 0; i < cfg.Depth; i++ {
		stage, err := newStage(cfg, numPatches, rng)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		net.Add(stage)
	}

	norm, err := nn.NewLayerNorm(cfg.Dim)
	if err != nil {
		return nil, err
	}
	unembed, err := nn.NewLinear(cfg.Dim, patchDim, rng)
	if err != nil {
		return nil, fmt.Errorf("patch projection: %w", err)
	}
	net.Add(norm)
	net.Add(unembed)
	net.Add(nn.NewPatchMerge(cfg.PatchSize, gridH, gridW))

	slog.Debug("assembled mixer", "image", cfg.ImageSize, "channels", cfg.Channels, "patch", cfg.PatchSize,
		"patches", numPatches, "dim", cfg.Dim, "depth", cfg.Depth, "seed", seed)

	return &Model{cfg: cfg, gridH: gridH, gridW: gridW, net: net}, nil
}

// newStage is one token-mixing block followed by one channel-mixing block.
// both normalize over the embedding axis; the token block projects across
// patches, the channel block across embedding features.
func newStage(cfg Config, numPatches int, rng *rand.Rand) (*nn.Sequential, error) {
	tokenFF, err := nn.NewFeedForward(numPatches, cfg.TokenExpansion, cfg.Dropout, nn.DensePointwise, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: token mixing: %v", ErrConfig, err)
	}
	tokenMix, err := nn.NewPreNormResidual(cfg.Dim, tokenFF)
	if err != nil {
		return nil, err
	}

	channelFF, err := nn.NewFeedForward(cfg.Dim, cfg.ChannelExpansion, cfg.Dropout, nn.DenseLinear, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: channel mixing: %v", ErrConfig, err)
	}
	channelMix, err := nn.NewPreNormResidual(cfg.Dim, channelFF)
	if err != nil {
		return nil, err
	}

	return nn.NewNamedSequential("MixerStage", tokenMix, channelMix), nil
}

// Forward checks that x is [B, Channels, Height, Width] and runs the stack.
func (m *Model) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.GetShape()
	if len(shape) != 4 || shape[1] != m.cfg.Channels ||
		shape[2] != m.cfg.ImageSize.Height || shape[3] != m.cfg.ImageSize.Width {
		return nil, fmt.Errorf("%w: expected [B, %d, %d, %d], got %v", ErrShape,
			m.cfg.Channels, m.cfg.ImageSize.Height, m.cfg.ImageSize.Width, shape)
	}
	return m.net.Forward(x)
}

func (m *Model) Parameters() []*tensor.Tensor { return m.net.Parameters() }
func (m *Model) ZeroGrad()                    { m.net.ZeroGrad() }
func (m *Model) Name() string                 { return m.net.Name() }
func (m *Model) Layers() []nn.Layer           { return m.net.Layers() }
func (m *Model) Sequential() *nn.Sequential   { return m.net }
func (m *Model) SetTraining(training bool)    { m.net.SetTraining(training) }

// Train enables dropout.
func (m *Model) Train() { m.SetTraining(true) }

// Eval disables dropout.
func (m *Model) Eval() { m.SetTraining(false) }

func (m *Model) Config() Config { return m.cfg }

func (m *Model) GridSize() (height, width int) { return m.gridH, m.gridW }

func (m *Model) NumPatches() int { return m.gridH * m.gridW }

func (m *Model) PatchDim() int { return m.cfg.PatchDim() }
