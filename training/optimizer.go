package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/cascademl/cascade/checkpoints"
	"github.com/cascademl/cascade/models"
	"github.com/cascademl/cascade/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate

	// Parameters exposes the tensors being optimized, for gradient clipping
	// and cross-replica synchronization.
	Parameters() []*tensor.Tensor

	// State and LoadState round-trip the optimizer through the checkpoint
	// store.
	State() (checkpoints.OptimizerState, error)
	LoadState(state checkpoints.OptimizerState) error
}

// AdamW implements Adam with decoupled weight decay. Unlike classic L2
// regularization the decay is applied directly to the parameter, not folded
// into the gradient.
type AdamW struct {
	parameters  []models.Parameter
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int
	m           map[string][]float32 // First moment estimates
	v           map[string][]float32 // Second moment estimates
	mutex       sync.Mutex
}

// NewAdamW creates an AdamW optimizer over named parameters. The names key
// the serialized moment estimates, so they must stay stable across restarts.
func NewAdamW(parameters []models.Parameter, lr, beta1, beta2, eps, weightDecay float64) *AdamW {
	opt := &AdamW{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make(map[string][]float32),
		v:           make(map[string][]float32),
	}
	for _, p := range parameters {
		if p.Tensor.RequiresGrad() {
			opt.m[p.Name] = make([]float32, p.Tensor.NumElems)
			opt.v[p.Name] = make([]float32, p.Tensor.NumElems)
		}
	}
	return opt
}

// Step performs a single optimization step
func (opt *AdamW) Step() error {
	opt.mutex.Lock()
	defer opt.mutex.Unlock()

	opt.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.step))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.step))

	for _, p := range opt.parameters {
		if !p.Tensor.RequiresGrad() || p.Tensor.Grad() == nil {
			continue
		}

		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to access parameter %s: %v", p.Name, err)
		}
		grad, err := p.Tensor.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to access gradient of %s: %v", p.Name, err)
		}

		m := opt.m[p.Name]
		v := opt.v[p.Name]
		if m == nil || v == nil {
			return fmt.Errorf("no moment estimates for parameter %s", p.Name)
		}

		for i := range data {
			g := float64(grad[i])
			mi := opt.beta1*float64(m[i]) + (1-opt.beta1)*g
			vi := opt.beta2*float64(v[i]) + (1-opt.beta2)*g*g
			m[i] = float32(mi)
			v[i] = float32(vi)

			update := (mi / bias1) / (math.Sqrt(vi/bias2) + opt.eps)
			x := float64(data[i])
			// Decoupled weight decay.
			x -= opt.lr * opt.weightDecay * x
			x -= opt.lr * update
			data[i] = float32(x)
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (opt *AdamW) ZeroGrad() {
	opt.mutex.Lock()
	defer opt.mutex.Unlock()
	tensors := make([]*tensor.Tensor, 0, len(opt.parameters))
	for _, p := range opt.parameters {
		tensors = append(tensors, p.Tensor)
	}
	tensor.ZeroGrad(tensors)
}

// GetLR returns the current learning rate
func (opt *AdamW) GetLR() float64 {
	opt.mutex.Lock()
	defer opt.mutex.Unlock()
	return opt.lr
}

// SetLR sets the learning rate
func (opt *AdamW) SetLR(lr float64) {
	opt.mutex.Lock()
	defer opt.mutex.Unlock()
	opt.lr = lr
}

// Parameters returns the tensors this optimizer updates, for gradient
// clipping and collective synchronization.
func (opt *AdamW) Parameters() []*tensor.Tensor {
	tensors := make([]*tensor.Tensor, 0, len(opt.parameters))
	for _, p := range opt.parameters {
		tensors = append(tensors, p.Tensor)
	}
	return tensors
}

// State snapshots the moment estimates and hyperparameters.
func (opt *AdamW) State() (checkpoints.OptimizerState, error) {
	opt.mutex.Lock()
	defer opt.mutex.Unlock()

	state := checkpoints.OptimizerState{
		Type: "AdamW",
		Step: opt.step,
		Parameters: map[string]float64{
			"lr":           opt.lr,
			"beta1":        opt.beta1,
			"beta2":        opt.beta2,
			"eps":          opt.eps,
			"weight_decay": opt.weightDecay,
		},
	}
	for _, p := range opt.parameters {
		m, ok := opt.m[p.Name]
		if !ok {
			continue
		}
		v := opt.v[p.Name]
		state.StateData = append(state.StateData,
			checkpoints.OptimizerTensor{
				Name:      p.Name,
				Shape:     append([]int(nil), p.Tensor.Shape...),
				Data:      append([]float32(nil), m...),
				StateType: "m",
			},
			checkpoints.OptimizerTensor{
				Name:      p.Name,
				Shape:     append([]int(nil), p.Tensor.Shape...),
				Data:      append([]float32(nil), v...),
				StateType: "v",
			})
	}
	return state, nil
}

// LoadState restores the moment estimates from a checkpoint snapshot.
func (opt *AdamW) LoadState(state checkpoints.OptimizerState) error {
	opt.mutex.Lock()
	defer opt.mutex.Unlock()

	if state.Type != "AdamW" {
		return fmt.Errorf("state is for optimizer type %q, not AdamW", state.Type)
	}
	opt.step = state.Step
	if lr, ok := state.Parameters["lr"]; ok {
		opt.lr = lr
	}

	for _, st := range state.StateData {
		var dst []float32
		switch st.StateType {
		case "m":
			dst = opt.m[st.Name]
		case "v":
			dst = opt.v[st.Name]
		default:
			return fmt.Errorf("unknown state type %q for parameter %s", st.StateType, st.Name)
		}
		if dst == nil {
			return fmt.Errorf("state references unknown parameter %s", st.Name)
		}
		if len(dst) != len(st.Data) {
			return fmt.Errorf("state size mismatch for %s: %d vs %d", st.Name, len(dst), len(st.Data))
		}
		copy(dst, st.Data)
	}
	return nil
}
