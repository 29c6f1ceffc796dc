package utility

import (
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"go-mixer/nn"
	"go-mixer/tensor"
)

// sequencer is implemented by models that wrap a Sequential stack behind
// their own input checks.
type sequencer interface {
	Sequential() *nn.Sequential
}

type summaryRow struct {
	name      string
	depth     int
	index     int
	shape     []int
	params    int
	container bool
}

// provides utility functions to analyze and log details of a model.
type ModelInspector struct {
	model nn.Layer
	rows  []summaryRow
}

// creates a new inspector for the given model.
func NewModelInspector(model nn.Layer) *ModelInspector {
	return &ModelInspector{model: model}
}

// Summary runs one forward pass on a random input of inputShape and writes
// the output shape and parameter count of every layer in the hierarchy.
// parameters are read, never written.
func (mi *ModelInspector) Summary(w io.Writer, inputShape []int) error {
	input, err := randomInput(inputShape)
	if err != nil {
		return fmt.Errorf("summary input: %w", err)
	}

	mi.rows = mi.rows[:0]
	if _, err := mi.model.Forward(input); err != nil {
		return fmt.Errorf("summary forward pass: %w", err)
	}
	if _, err := mi.trace(mi.model, input, 0, 0); err != nil {
		return fmt.Errorf("summary trace: %w", err)
	}

	total, trainable := mi.CountParameters()
	p := message.NewPrinter(language.English)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Layer (type:depth-idx)", "Output Shape", "Param #", "Param %"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, r := range mi.rows {
		name := r.name
		if r.depth > 0 {
			name = fmt.Sprintf("%s└─%s: %d-%d", strings.Repeat("│    ", r.depth-1), r.name, r.depth, r.index)
		}
		count, percent := "--", "--"
		if !r.container {
			count = p.Sprintf("%d", r.params)
			if total > 0 && r.params > 0 {
				percent = fmt.Sprintf("%.2f%%", 100*float64(r.params)/float64(total))
			}
		}
		table.Append([]string{name, fmt.Sprint(r.shape), count, percent})
	}
	table.Render()

	fmt.Fprintln(w, strings.Repeat("=", 60))
	p.Fprintf(w, "Total params: %d\n", total)
	p.Fprintf(w, "Trainable params: %d\n", trainable)
	p.Fprintf(w, "Non-trainable params: %d\n", total-trainable)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Input size (MB): %.2f\n", megabytes(tensor.Numel(input)))
	fmt.Fprintf(w, "Params size (MB): %.2f\n", megabytes(int(total)))
	fmt.Fprintln(w, strings.Repeat("=", 60))
	return nil
}

// trace re-runs the forward pass layer by layer, recording one row per layer.
func (mi *ModelInspector) trace(layer nn.Layer, x *tensor.Tensor, depth, index int) (*tensor.Tensor, error) {
	if s, ok := layer.(sequencer); ok {
		return mi.trace(s.Sequential(), x, depth, index)
	}

	pos := len(mi.rows)
	mi.rows = append(mi.rows, summaryRow{name: layer.Name(), depth: depth, index: index})

	var out *tensor.Tensor
	var err error
	switch l := layer.(type) {
	case *nn.Sequential:
		mi.rows[pos].container = true
		out = x
		for i, child := range l.Layers() {
			if out, err = mi.trace(child, out, depth+1, i+1); err != nil {
				return nil, err
			}
		}
	case *nn.PreNormResidual:
		mi.rows[pos].container = true
		normed, err := mi.trace(l.Norm(), x, depth+1, 1)
		if err != nil {
			return nil, err
		}
		y, err := mi.trace(l.Fn(), normed, depth+1, 2)
		if err != nil {
			return nil, err
		}
		if out, err = nn.Residual(y, x); err != nil {
			return nil, err
		}
	default:
		if out, err = layer.Forward(x); err != nil {
			return nil, fmt.Errorf("%s: %w", layer.Name(), err)
		}
		mi.rows[pos].params = paramCount(layer)
	}

	mi.rows[pos].shape = out.GetShape()
	return out, nil
}

// parameter counts for the model.
func (mi *ModelInspector) CountParameters() (total int64, trainable int64) {
	for _, p := range mi.model.Parameters() {
		numel := int64(tensor.Numel(p))
		total += numel
		if p.RequiresGrad {
			trainable += numel
		}
	}
	return total, trainable
}

func paramCount(layer nn.Layer) int {
	n := 0
	for _, p := range layer.Parameters() {
		n += tensor.Numel(p)
	}
	return n
}

func randomInput(shape []int) (*tensor.Tensor, error) {
	t, err := tensor.Zeros(shape...)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(1))
	data := t.GetData()
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return t, nil
}

// float64 storage
func megabytes(elements int) float64 {
	return float64(elements) * 8 / 1e6
}
