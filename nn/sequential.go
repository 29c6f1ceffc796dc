package nn

import "go-mixer/tensor"

// Sequential is a container for layers arranged in a sequential order.
type Sequential struct {
	name   string
	layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{
		name:   "Sequential",
		layers: append(make([]Layer, 0, len(layers)), layers...),
	}
}

// NewNamedSequential is NewSequential with a display name for summaries.
func NewNamedSequential(name string, layers ...Layer) *Sequential {
	s := NewSequential(layers...)
	s.name = name
	return s
}

// Add adds a new layer to the sequential model.
func (s *Sequential) Add(layer Layer) {
	s.layers = append(s.layers, layer)
}

// Forward performs the forward pass for the entire sequence of layers.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, layer := range s.layers {
		x, err = layer.Forward(x)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Parameters returns a slice of all parameters from all layers in the model.
func (s *Sequential) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{}
	for _, layer := range s.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// ZeroGrad calls ZeroGrad on all layers in the model.
func (s *Sequential) ZeroGrad() {
	for _, layer := range s.layers {
		layer.ZeroGrad()
	}
}

// SetTraining switches every nested layer that has a training mode.
func (s *Sequential) SetTraining(training bool) {
	for _, layer := range s.layers {
		if m, ok := layer.(Modal); ok {
			m.SetTraining(training)
		}
	}
}

func (s *Sequential) Layers() []Layer {
	return s.layers
}

func (s *Sequential) Name() string {
	return s.name
}
