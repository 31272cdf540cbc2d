// Package checkpoints persists training state as named entries in a keyed
// store. Model weights, optimizer state, and run bookkeeping are saved under
// separate keys so a partial restore (weights only, fresh optimizer) stays
// possible.
package checkpoints

import (
	"time"

	"github.com/google/uuid"
)

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ModelState is the serializable weight set of one named model.
type ModelState struct {
	Name    string         `json:"name"`
	Weights []WeightTensor `json:"weights"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", etc.
}

// OptimizerState captures optimizer-specific state
type OptimizerState struct {
	Type       string             `json:"type"` // "AdamW", etc.
	Step       int                `json:"step"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// Metadata identifies a training run in the store.
type Metadata struct {
	RunID     string    `json:"run_id"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMetadata stamps a fresh run identifier.
func NewMetadata() Metadata {
	now := time.Now().UTC()
	return Metadata{
		RunID:     uuid.NewString(),
		Version:   "1.0.0",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the modification timestamp before a save.
func (m *Metadata) Touch() {
	m.UpdatedAt = time.Now().UTC()
}
