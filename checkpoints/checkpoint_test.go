package checkpoints

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testModelState() ModelState {
	return ModelState{
		Name: "generator",
		Weights: []WeightTensor{
			{Name: "proj.weight", Shape: []int{4, 2}, Data: []float32{0.1, -0.2, 0.3, 0.4, -0.5, 0.6, 0.7, -0.8}},
			{Name: "proj.bias", Shape: []int{4}, Data: []float32{0, 0.01, -0.01, 0.5}},
		},
	}
}

func testOptimizerState() OptimizerState {
	return OptimizerState{
		Type: "AdamW",
		Step: 1234,
		Parameters: map[string]float64{
			"lr":           1e-4,
			"beta1":        0.9,
			"beta2":        0.999,
			"weight_decay": 0.01,
		},
		StateData: []OptimizerTensor{
			{Name: "proj.weight", Shape: []int{4, 2}, Data: []float32{0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07, 0.08}, StateType: "m"},
			{Name: "proj.weight", Shape: []int{4, 2}, Data: []float32{0.001, 0.002, 0.003, 0.004, 0.005, 0.006, 0.007, 0.008}, StateType: "v"},
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	saved := testModelState()
	if err := store.Save("generator", saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var loaded ModelState
	found, err := store.Load("generator", &loaded)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !found {
		t.Fatal("saved entry not found")
	}
	if diff := cmp.Diff(saved, loaded); diff != "" {
		t.Errorf("round-trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestFileStoreMissingKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	var state ModelState
	found, err := store.Load("never-saved", &state)
	if err != nil {
		t.Fatalf("missing key must not be an error, got: %v", err)
	}
	if found {
		t.Fatal("missing key reported as found")
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	first := testOptimizerState()
	if err := store.Save("optim", first); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second := first
	second.Step = 5678
	if err := store.Save("optim", second); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	var loaded OptimizerState
	if _, err := store.Load("optim", &loaded); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Step != 5678 {
		t.Errorf("expected overwritten step 5678, got %d", loaded.Step)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	tests := []string{"", "a/b", "../escape", "has space"}

	store := NewMemStore()
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			err := store.Save(key, testModelState())
			if err == nil {
				t.Fatalf("key %q accepted", key)
			}
			var cerr *CheckpointError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected CheckpointError, got %T", err)
			}
			if cerr.Key != key {
				t.Errorf("error carries key %q, want %q", cerr.Key, key)
			}
		})
	}
}

func TestMemStoreRoundTrip(t *testing.T) {
	store := NewMemStore()

	saved := testOptimizerState()
	if err := store.Save("optim", saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var loaded OptimizerState
	found, err := store.Load("optim", &loaded)
	if err != nil || !found {
		t.Fatalf("load failed: found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(saved, loaded); diff != "" {
		t.Errorf("round-trip mismatch (-saved +loaded):\n%s", diff)
	}

	if len(store.Keys()) != 1 {
		t.Errorf("expected one entry, got %v", store.Keys())
	}
}

func TestMetadata(t *testing.T) {
	meta := NewMetadata()
	if meta.RunID == "" {
		t.Error("run ID not assigned")
	}
	if NewMetadata().RunID == meta.RunID {
		t.Error("run IDs must be unique")
	}

	store := NewMemStore()
	if err := store.Save("meta", meta); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	var loaded Metadata
	if _, err := store.Load("meta", &loaded); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.RunID != meta.RunID {
		t.Errorf("run ID changed across round-trip: %q vs %q", loaded.RunID, meta.RunID)
	}
}
