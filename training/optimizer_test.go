package training

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cascademl/cascade/models"
	"github.com/cascademl/cascade/tensor"
)

func quadraticParam(t *testing.T, start float32) models.Parameter {
	t.Helper()
	p, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{start})
	if err != nil {
		t.Fatalf("failed to build parameter: %v", err)
	}
	p.SetRequiresGrad(true)
	return models.Parameter{Name: "w", Tensor: p}
}

// setQuadraticGrad writes the gradient of (w - target)^2 into the parameter.
func setQuadraticGrad(t *testing.T, p models.Parameter, target float64) {
	t.Helper()
	data, _ := p.Tensor.GetFloat32Data()
	g, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{float32(2 * (float64(data[0]) - target))})
	if err != nil {
		t.Fatalf("failed to build gradient: %v", err)
	}
	p.Tensor.SetGrad(g)
}

func TestAdamWConvergesOnQuadratic(t *testing.T) {
	p := quadraticParam(t, 0)
	opt := NewAdamW([]models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8, 0)

	for i := 0; i < 500; i++ {
		setQuadraticGrad(t, p, 3.0)
		if err := opt.Step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	data, _ := p.Tensor.GetFloat32Data()
	if math.Abs(float64(data[0])-3.0) > 0.05 {
		t.Errorf("expected convergence to 3.0, got %f", data[0])
	}
}

func TestAdamWDecoupledWeightDecay(t *testing.T) {
	// With zero gradient and nonzero decay the parameter must shrink
	// multiplicatively; classic L2 folded into a zero gradient would not
	// move it at all through the adaptive denominator.
	p := quadraticParam(t, 1.0)
	zero, _ := tensor.Zeros([]int{1}, tensor.Float32)
	p.Tensor.SetGrad(zero)

	opt := NewAdamW([]models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8, 0.5)
	if err := opt.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	data, _ := p.Tensor.GetFloat32Data()
	if math.Abs(float64(data[0])-0.95) > 1e-5 {
		t.Errorf("expected 1 - lr·wd·1 = 0.95, got %f", data[0])
	}
}

func TestAdamWLearningRate(t *testing.T) {
	opt := NewAdamW(nil, 1e-4, 0.9, 0.999, 1e-8, 0)
	if opt.GetLR() != 1e-4 {
		t.Errorf("expected lr 1e-4, got %g", opt.GetLR())
	}
	opt.SetLR(5e-5)
	if opt.GetLR() != 5e-5 {
		t.Errorf("expected lr 5e-5 after SetLR, got %g", opt.GetLR())
	}
}

func TestAdamWZeroGrad(t *testing.T) {
	p := quadraticParam(t, 1)
	setQuadraticGrad(t, p, 0)
	opt := NewAdamW([]models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8, 0)

	opt.ZeroGrad()
	g, _ := p.Tensor.Grad().GetFloat32Data()
	if g[0] != 0 {
		t.Errorf("gradient not zeroed: %f", g[0])
	}
}

func TestAdamWStateRoundTrip(t *testing.T) {
	p := quadraticParam(t, 0)
	opt := NewAdamW([]models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8, 0.01)
	for i := 0; i < 10; i++ {
		setQuadraticGrad(t, p, 3.0)
		if err := opt.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}

	state, err := opt.State()
	if err != nil {
		t.Fatalf("state snapshot failed: %v", err)
	}

	// A fresh optimizer restored from the snapshot must continue with
	// identical moments: the next step on both must match exactly.
	restoredParam := quadraticParam(t, 0)
	data, _ := p.Tensor.GetFloat32Data()
	restoredData, _ := restoredParam.Tensor.GetFloat32Data()
	restoredData[0] = data[0]

	restored := NewAdamW([]models.Parameter{restoredParam}, 0.1, 0.9, 0.999, 1e-8, 0.01)
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	restoredState, err := restored.State()
	if err != nil {
		t.Fatalf("state snapshot failed: %v", err)
	}
	if diff := cmp.Diff(state, restoredState); diff != "" {
		t.Errorf("restored state differs (-saved +restored):\n%s", diff)
	}

	setQuadraticGrad(t, p, 3.0)
	setQuadraticGrad(t, restoredParam, 3.0)
	if err := opt.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if err := restored.Step(); err != nil {
		t.Fatalf("restored step failed: %v", err)
	}

	a, _ := p.Tensor.GetFloat32Data()
	b, _ := restoredParam.Tensor.GetFloat32Data()
	if a[0] != b[0] {
		t.Errorf("restored optimizer diverged: %f vs %f", a[0], b[0])
	}
}

func TestAdamWLoadStateRejectsMismatch(t *testing.T) {
	p := quadraticParam(t, 0)
	opt := NewAdamW([]models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8, 0)

	state, _ := opt.State()
	state.Type = "SGD"
	if err := opt.LoadState(state); err == nil {
		t.Fatal("wrong optimizer type accepted")
	}

	state, _ = opt.State()
	state.StateData[0].Name = "unknown"
	if err := opt.LoadState(state); err == nil {
		t.Fatal("unknown parameter name accepted")
	}
}
