package gdf

import (
	"math"
)

// Scaler converts logSNR into the (signal, noise) coefficients used to form a
// noised sample: noised = a·data + b·noise.
type Scaler interface {
	Scaling(logSNR float64) (a, b float64)
}

// VPScaler is the variance-preserving scaler: a = √sigmoid(logSNR),
// b = √sigmoid(−logSNR), so a² + b² = 1 for all logSNR.
type VPScaler struct{}

func (VPScaler) Scaling(logSNR float64) (float64, float64) {
	a := math.Sqrt(sigmoid(logSNR))
	b := math.Sqrt(sigmoid(-logSNR))
	return a, b
}
