package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewTensorValidation(t *testing.T) {
	_, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3})
	if err == nil {
		t.Error("expected error for mismatched data length")
	}

	_, err = NewTensor([]int{2, 0}, Float32, []float32{})
	if err == nil {
		t.Error("expected error for zero dimension")
	}

	tensor, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tensor.NumElems != 6 {
		t.Errorf("expected 6 elements, got %d", tensor.NumElems)
	}
	if tensor.Strides[0] != 3 || tensor.Strides[1] != 1 {
		t.Errorf("unexpected strides: %v", tensor.Strides)
	}
}

func TestBroadcastAdd(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3}, Float32, []float32{10, 20, 30})

	result, err := Add(a, b)
	if err != nil {
		t.Fatalf("broadcast add failed: %v", err)
	}

	expected := []float32{11, 22, 33, 14, 25, 36}
	data := result.Data.([]float32)
	for i, want := range expected {
		if data[i] != want {
			t.Errorf("element %d: expected %f, got %f", i, want, data[i])
		}
	}
}

func TestBroadcastSampleScale(t *testing.T) {
	// Per-sample scalar shaped [2,1,1] against data shaped [2,2,2].
	x, _ := NewTensor([]int{2, 2, 2}, Float32, []float32{1, 1, 1, 1, 2, 2, 2, 2})
	s, _ := NewTensor([]int{2, 1, 1}, Float32, []float32{3, 5})

	result, err := Mul(x, s)
	if err != nil {
		t.Fatalf("broadcast mul failed: %v", err)
	}

	data := result.Data.([]float32)
	for i := 0; i < 4; i++ {
		if data[i] != 3 {
			t.Errorf("sample 0 element %d: expected 3, got %f", i, data[i])
		}
	}
	for i := 4; i < 8; i++ {
		if data[i] != 10 {
			t.Errorf("sample 1 element %d: expected 10, got %f", i, data[i])
		}
	}
}

func TestBroadcastIncompatible(t *testing.T) {
	a, _ := Zeros([]int{2, 3}, Float32)
	b, _ := Zeros([]int{2, 4}, Float32)

	if _, err := Add(a, b); err == nil {
		t.Error("expected error for incompatible shapes")
	}
}

func TestSampleMean(t *testing.T) {
	x, _ := NewTensor([]int{2, 4}, Float32, []float32{1, 2, 3, 4, 10, 20, 30, 40})

	result, err := SampleMean(x)
	if err != nil {
		t.Fatalf("sample mean failed: %v", err)
	}

	data := result.Data.([]float32)
	if data[0] != 2.5 || data[1] != 25 {
		t.Errorf("expected [2.5, 25], got %v", data)
	}
}

func TestMeanAndSum(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, []float32{1, 2, 3, 4})

	s, err := Sum(x)
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if v, _ := s.Item(); v != 10 {
		t.Errorf("expected sum 10, got %f", v)
	}

	m, err := Mean(x)
	if err != nil {
		t.Fatalf("mean failed: %v", err)
	}
	if v, _ := m.Item(); v != 2.5 {
		t.Errorf("expected mean 2.5, got %f", v)
	}
}

func TestClamp(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, []float32{-1, 0.5, 2, 0})

	result, err := Clamp(x, 0, 1)
	if err != nil {
		t.Fatalf("clamp failed: %v", err)
	}

	expected := []float32{0, 0.5, 1, 0}
	data := result.Data.([]float32)
	for i, want := range expected {
		if data[i] != want {
			t.Errorf("element %d: expected %f, got %f", i, want, data[i])
		}
	}
}

func TestRandnDeterminism(t *testing.T) {
	a, err := Randn([]int{8}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("randn failed: %v", err)
	}
	b, _ := Randn([]int{8}, rand.New(rand.NewSource(7)))

	equal := true
	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	for i := range aData {
		if aData[i] != bData[i] {
			equal = false
		}
	}
	if !equal {
		t.Error("same seed should produce identical noise")
	}
}

func TestIsFinite(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	if !IsFinite(x) {
		t.Error("finite tensor reported non-finite")
	}

	x.Data.([]float32)[1] = float32(math.NaN())
	if IsFinite(x) {
		t.Error("NaN tensor reported finite")
	}

	x.Data.([]float32)[1] = float32(math.Inf(1))
	if IsFinite(x) {
		t.Error("Inf tensor reported finite")
	}
}

func TestReshape(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})

	r, err := x.Reshape([]int{3, -1})
	if err != nil {
		t.Fatalf("reshape failed: %v", err)
	}
	if r.Shape[0] != 3 || r.Shape[1] != 2 {
		t.Errorf("unexpected shape: %v", r.Shape)
	}

	if _, err := x.Reshape([]int{4, 2}); err == nil {
		t.Error("expected error for size mismatch")
	}
}
