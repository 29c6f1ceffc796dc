package mixer

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfig is returned, wrapped, for any configuration that cannot be assembled.
	ErrConfig = errors.New("mixer: invalid configuration")
	// ErrShape is returned, wrapped, when a forward input does not match the configuration.
	ErrShape = errors.New("mixer: input shape mismatch")
)

// Size is an image height and width. in YAML it is either a single edge
// length, a [height, width] pair or a {height, width} mapping.
type Size struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// Pair applies one edge length to both dimensions.
func Pair(n int) Size {
	return Size{Height: n, Width: n}
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var n int
		if err := node.Decode(&n); err != nil {
			return err
		}
		*s = Pair(n)
	case yaml.SequenceNode:
		var hw []int
		if err := node.Decode(&hw); err != nil {
			return err
		}
		if len(hw) != 2 {
			return fmt.Errorf("line %d: image size needs [height, width], got %d values", node.Line, len(hw))
		}
		*s = Size{Height: hw[0], Width: hw[1]}
	case yaml.MappingNode:
		type plain Size
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*s = Size(p)
	default:
		return fmt.Errorf("line %d: unsupported image size value", node.Line)
	}
	return nil
}

// Config is the construction surface of the mixer.
type Config struct {
	ImageSize Size `yaml:"image_size"`
	Channels  int  `yaml:"channels"`
	PatchSize int  `yaml:"patch_size"`
	Dim       int  `yaml:"dim"`
	Depth     int  `yaml:"depth"`

	// TokenExpansion sizes the hidden width of the token-mixing block
	// relative to the number of patches.
	TokenExpansion float64 `yaml:"token_expansion"`
	// ChannelExpansion sizes the hidden width of the channel-mixing block
	// relative to Dim.
	ChannelExpansion float64 `yaml:"channel_expansion"`
	Dropout          float64 `yaml:"dropout"`

	// Seed makes parameter initialization and dropout reproducible. 0 seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig holds the default expansion factors and no dropout; the
// geometry still has to be filled in.
func DefaultConfig() Config {
	return Config{
		TokenExpansion:   1,
		ChannelExpansion: 0.5,
	}
}

func (c Config) Validate() error {
	switch {
	case c.ImageSize.Height <= 0 || c.ImageSize.Width <= 0:
		return fmt.Errorf("%w: image size %s must be positive", ErrConfig, c.ImageSize)
	case c.Channels <= 0:
		return fmt.Errorf("%w: channels must be positive, got %d", ErrConfig, c.Channels)
	case c.PatchSize <= 0:
		return fmt.Errorf("%w: patch size must be positive, got %d", ErrConfig, c.PatchSize)
	case c.ImageSize.Height%c.PatchSize != 0 || c.ImageSize.Width%c.PatchSize != 0:
		return fmt.Errorf("%w: image must be divisible by patch size (image %s, patch %d)", ErrConfig, c.ImageSize, c.PatchSize)
	case c.Dim <= 0:
		return fmt.Errorf("%w: dim must be positive, got %d", ErrConfig, c.Dim)
	case c.Depth < 0:
		return fmt.Errorf("%w: depth must not be negative, got %d", ErrConfig, c.Depth)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0, 1), got %v", ErrConfig, c.Dropout)
	}

	if int(float64(c.NumPatches())*c.TokenExpansion) <= 0 {
		return fmt.Errorf("%w: token expansion %v leaves no hidden units for %d patches", ErrConfig, c.TokenExpansion, c.NumPatches())
	}
	if int(float64(c.Dim)*c.ChannelExpansion) <= 0 {
		return fmt.Errorf("%w: channel expansion %v leaves no hidden units for dim %d", ErrConfig, c.ChannelExpansion, c.Dim)
	}
	return nil
}

// GridSize is the number of patch rows and columns.
func (c Config) GridSize() (height, width int) {
	if c.PatchSize <= 0 {
		return 0, 0
	}
	return c.ImageSize.Height / c.PatchSize, c.ImageSize.Width / c.PatchSize
}

func (c Config) NumPatches() int {
	h, w := c.GridSize()
	return h * w
}

// PatchDim is the length of one flattened patch token.
func (c Config) PatchDim() int {
	return c.PatchSize * c.PatchSize * c.Channels
}

// LoadConfig reads a YAML file. a top-level "preset" key selects the base
// configuration, any other key overrides it; without a preset the defaults apply.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg := DefaultConfig()
	if head.Preset != "" {
		p, err := Preset(head.Preset)
		if err != nil {
			return Config{}, err
		}
		cfg = p
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, cfg.Validate()
}
