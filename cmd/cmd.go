package cmd

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"go-mixer/mixer"
	"go-mixer/tensor"
	"go-mixer/utility"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "go-mixer",
		Short: "MLP-Mixer feature mixer",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			level := slog.LevelInfo
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cobra.EnableCommandSorting = false

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "List built-in mixer configurations",
		Args:  cobra.NoArgs,
		RunE:  presetsHandler,
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print output shapes and parameter counts layer by layer",
		Args:  cobra.NoArgs,
		RunE:  summaryHandler,
	}
	addModelFlags(summaryCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Forward a random batch through the mixer",
		Args:  cobra.NoArgs,
		RunE:  runHandler,
	}
	addModelFlags(runCmd)

	rootCmd.AddCommand(presetsCmd, summaryCmd, runCmd)
	return rootCmd
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("preset", "", "Start from a built-in configuration (see 'presets')")
	cmd.Flags().String("config", "", "Read the configuration from a YAML file")
	cmd.Flags().String("image-size", "", "Image size as N or HxW")
	cmd.Flags().Int("channels", 0, "Input channels")
	cmd.Flags().Int("patch-size", 0, "Patch edge length")
	cmd.Flags().Int("dim", 0, "Embedding width")
	cmd.Flags().Int("depth", 0, "Number of mixing stages")
	cmd.Flags().Float64("token-expansion", 0, "Hidden width factor of the token-mixing block")
	cmd.Flags().Float64("channel-expansion", 0, "Hidden width factor of the channel-mixing block")
	cmd.Flags().Float64("dropout", 0, "Dropout probability")
	cmd.Flags().Int64("seed", 0, "Initialization seed, 0 seeds from the clock")
	cmd.Flags().Int("batch", 1, "Batch size of the sample input")
}

// resolveConfig layers preset, config file and explicit flags, in that order.
func resolveConfig(cmd *cobra.Command) (mixer.Config, error) {
	cfg := mixer.DefaultConfig()

	if name, _ := cmd.Flags().GetString("preset"); name != "" {
		p, err := mixer.Preset(name)
		if err != nil {
			return mixer.Config{}, err
		}
		cfg = p
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		c, err := mixer.LoadConfig(path)
		if err != nil {
			return mixer.Config{}, fmt.Errorf("loading %s: %w", path, err)
		}
		cfg = c
	}

	flags := cmd.Flags()
	if flags.Changed("image-size") {
		s, _ := flags.GetString("image-size")
		size, err := parseSize(s)
		if err != nil {
			return mixer.Config{}, err
		}
		cfg.ImageSize = size
	}
	for name, dst := range map[string]*int{
		"channels":   &cfg.Channels,
		"patch-size": &cfg.PatchSize,
		"dim":        &cfg.Dim,
		"depth":      &cfg.Depth,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	for name, dst := range map[string]*float64{
		"token-expansion":   &cfg.TokenExpansion,
		"channel-expansion": &cfg.ChannelExpansion,
		"dropout":           &cfg.Dropout,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetFloat64(name)
		}
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}

	return cfg, cfg.Validate()
}

func parseSize(s string) (mixer.Size, error) {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == 'x' || r == ',' })
	switch len(parts) {
	case 1:
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return mixer.Size{}, fmt.Errorf("%w: image size %q: %v", mixer.ErrConfig, s, err)
		}
		return mixer.Pair(n), nil
	case 2:
		h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return mixer.Size{}, fmt.Errorf("%w: image height %q: %v", mixer.ErrConfig, s, err)
		}
		w, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return mixer.Size{}, fmt.Errorf("%w: image width %q: %v", mixer.ErrConfig, s, err)
		}
		return mixer.Size{Height: h, Width: w}, nil
	default:
		return mixer.Size{}, fmt.Errorf("%w: image size %q is not N or HxW", mixer.ErrConfig, s)
	}
}

func inputShape(cmd *cobra.Command, cfg mixer.Config) ([]int, error) {
	batch, _ := cmd.Flags().GetInt("batch")
	if batch <= 0 {
		return nil, fmt.Errorf("batch must be positive, got %d", batch)
	}
	return []int{batch, cfg.Channels, cfg.ImageSize.Height, cfg.ImageSize.Width}, nil
}

func presetsHandler(cmd *cobra.Command, args []string) error {
	var data [][]string
	for _, name := range mixer.PresetNames() {
		cfg, err := mixer.Preset(name)
		if err != nil {
			return err
		}
		data = append(data, []string{
			name,
			cfg.ImageSize.String(),
			strconv.Itoa(cfg.Channels),
			strconv.Itoa(cfg.PatchSize),
			strconv.Itoa(cfg.Dim),
			strconv.Itoa(cfg.Depth),
			strconv.Itoa(cfg.NumPatches()),
		})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"NAME", "IMAGE", "CHANNELS", "PATCH", "DIM", "DEPTH", "PATCHES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func summaryHandler(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	shape, err := inputShape(cmd, cfg)
	if err != nil {
		return err
	}

	model, err := mixer.New(cfg)
	if err != nil {
		return err
	}
	model.Eval()
	return utility.NewModelInspector(model).Summary(cmd.OutOrStdout(), shape)
}

func runHandler(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	shape, err := inputShape(cmd, cfg)
	if err != nil {
		return err
	}

	model, err := mixer.New(cfg)
	if err != nil {
		return err
	}
	model.Eval()

	input, err := tensor.Zeros(shape...)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	data := input.GetData()
	for i := range data {
		data[i] = rng.NormFloat64()
	}

	start := time.Now()
	output, err := model.Forward(input)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	slog.Debug("forward pass", "patches", model.NumPatches(), "patch_dim", model.PatchDim(), "elapsed", elapsed)

	fmt.Fprintf(cmd.OutOrStdout(), "input:   %v\noutput:  %v\npatches: %d\nelapsed: %v\n",
		input.GetShape(), output.GetShape(), model.NumPatches(), elapsed.Round(time.Microsecond))
	return nil
}
