package gdf

import (
	"math"
)

// NoiseConditioner maps logSNR to the conditioning value fed into the network,
// decoupling the network's input scale from the raw logSNR scale.
type NoiseConditioner interface {
	Cond(logSNR float64) float64
}

// CosineTNoiseCond conditions on the cosine schedule's progress value: it maps
// logSNR back through the inverse squared-cosine transform, yielding a value
// in [0,1].
type CosineTNoiseCond struct {
	S        float64
	ClampMin float64
	ClampMax float64
}

func NewCosineTNoiseCond() *CosineTNoiseCond {
	return &CosineTNoiseCond{S: 0.008, ClampMin: 0, ClampMax: 1}
}

func (nc *CosineTNoiseCond) Cond(logSNR float64) float64 {
	v := sigmoid(logSNR)
	if v < nc.ClampMin {
		v = nc.ClampMin
	}
	if v > nc.ClampMax {
		v = nc.ClampMax
	}
	return math.Acos(math.Sqrt(v))/(math.Pi*0.5)*(1+nc.S) - nc.S
}
