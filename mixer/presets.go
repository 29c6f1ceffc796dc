package mixer

import (
	"fmt"
	"slices"
)

// presets reproduce the mixer instances used on the feature pyramid of a
// segmentation backbone: two image-level mixers and the stage-3/stage-4
// feature mixers.
var presets = map[string]Config{
	"mixer-224-p32": {ImageSize: Pair(224), Channels: 3, PatchSize: 32, Dim: 512, Depth: 8},
	"mixer-224-p56": {ImageSize: Pair(224), Channels: 3, PatchSize: 56, Dim: 512, Depth: 1},
	"feat4-8x8":     {ImageSize: Pair(8), Channels: 512, PatchSize: 2, Dim: 512, Depth: 1},
	"feat3-16x16":   {ImageSize: Pair(16), Channels: 320, PatchSize: 4, Dim: 512, Depth: 1},
}

// Preset returns a copy of the named configuration with default expansion factors.
func Preset(name string) (Config, error) {
	p, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q", ErrConfig, name)
	}
	cfg := DefaultConfig()
	cfg.ImageSize, cfg.Channels, cfg.PatchSize, cfg.Dim, cfg.Depth = p.ImageSize, p.Channels, p.PatchSize, p.Dim, p.Depth
	return cfg, nil
}

// PresetNames lists the presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
