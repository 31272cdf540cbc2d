package training

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the global step so a restored run resumes
// the schedule exactly where it left off.
type LRScheduler interface {
	// GetLR returns the learning rate for the given global step
	// This is a pure function - no state modifications
	GetLR(step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// GradualWarmupScheduler ramps the learning rate linearly from zero to baseLR
// over the warmup window, then holds it.
type GradualWarmupScheduler struct {
	WarmupSteps int
}

// NewGradualWarmupScheduler creates a linear warmup scheduler
func NewGradualWarmupScheduler(warmupSteps int) *GradualWarmupScheduler {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	return &GradualWarmupScheduler{WarmupSteps: warmupSteps}
}

func (s *GradualWarmupScheduler) GetLR(step int, baseLR float64) float64 {
	if s.WarmupSteps == 0 || step >= s.WarmupSteps {
		return baseLR
	}
	return baseLR * float64(step+1) / float64(s.WarmupSteps)
}

func (s *GradualWarmupScheduler) GetName() string {
	return "GradualWarmup"
}

// ConstantLRScheduler holds the base learning rate for the whole run
type ConstantLRScheduler struct{}

func (s *ConstantLRScheduler) GetLR(step int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLRScheduler) GetName() string {
	return "ConstantLR"
}
