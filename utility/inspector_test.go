package utility

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-mixer/mixer"
	"go-mixer/nn"
)

func smallMixer(t *testing.T) *mixer.Model {
	t.Helper()
	cfg := mixer.DefaultConfig()
	cfg.ImageSize = mixer.Pair(4)
	cfg.Channels = 2
	cfg.PatchSize = 2
	cfg.Dim = 4
	cfg.Depth = 1
	cfg.Seed = 1
	m, err := mixer.New(cfg)
	require.NoError(t, err)
	m.Eval()
	return m
}

func TestSummary(t *testing.T) {
	m := smallMixer(t)
	before := append([]float64{}, m.Parameters()[0].GetData()...)

	var buf bytes.Buffer
	require.NoError(t, NewModelInspector(m).Summary(&buf, []int{1, 2, 4, 4}))
	out := buf.String()

	for _, want := range []string{
		"Layer (type:depth-idx)",
		"MLPMixer",
		"└─PatchPartition: 1-1",
		"└─Linear: 1-2",
		"└─MixerStage: 1-3",
		"│    └─PreNormResidual: 2-1",
		"│    │    └─LayerNorm: 3-1",
		"│    │    └─FeedForward: 3-2",
		"│    │    │    └─PointwiseConv1D: 4-1",
		"└─PatchMerge: 1-6",
		"[1 4 8]",
		"[1 2 4 4]",
		"Total params: 162",
		"Trainable params: 162",
		"Non-trainable params: 0",
	} {
		assert.Contains(t, out, want)
	}

	// the patch embedding holds 8*4+4 of 162 parameters
	var embed string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Linear: 1-2") {
			embed = line
		}
	}
	assert.Contains(t, embed, "36")
	assert.Contains(t, embed, "22.22%")

	assert.Equal(t, before, m.Parameters()[0].GetData(), "summary must not modify parameters")
}

func TestSummaryThousandsSeparator(t *testing.T) {
	cfg, err := mixer.Preset("feat4-8x8")
	require.NoError(t, err)
	cfg.Seed = 1
	m, err := mixer.New(cfg)
	require.NoError(t, err)

	total, trainable := NewModelInspector(m).CountParameters()
	assert.Equal(t, total, trainable)

	if testing.Short() {
		t.Skip("forward pass over 512 channels")
	}
	m.Eval()
	var buf bytes.Buffer
	require.NoError(t, NewModelInspector(m).Summary(&buf, []int{1, 512, 8, 8}))
	// 2048*512 + 512 weights in the patch embedding
	assert.Contains(t, buf.String(), "1,049,088")
}

func TestSummaryErrors(t *testing.T) {
	m := smallMixer(t)
	var buf bytes.Buffer

	err := NewModelInspector(m).Summary(&buf, []int{1, 3, 4, 4})
	assert.ErrorIs(t, err, mixer.ErrShape)

	err = NewModelInspector(m).Summary(&buf, []int{1, 0, 4, 4})
	assert.Error(t, err)
}

func TestCountParameters(t *testing.T) {
	l, err := nn.NewLinear(3, 2, nil)
	require.NoError(t, err)
	l.Bias().RequiresGrad = false

	total, trainable := NewModelInspector(nn.NewSequential(l, nn.NewGELU())).CountParameters()
	assert.Equal(t, int64(8), total)
	assert.Equal(t, int64(6), trainable)
}

func TestSummaryPlainSequential(t *testing.T) {
	a, err := nn.NewLinear(3, 4, nil)
	require.NoError(t, err)
	b, err := nn.NewLinear(4, 1, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewModelInspector(nn.NewSequential(a, nn.NewGELU(), b)).Summary(&buf, []int{2, 3}))
	out := buf.String()
	assert.Contains(t, out, "└─GELU: 1-2")
	assert.Contains(t, out, "[2 1]")
	assert.Contains(t, out, "Total params: 21")
}
