package mixer

import (
	"fmt"
	"math"
	"time"
)

// LimiterConfig holds dynamics parameters for the master bus.
type LimiterConfig struct {
	Threshold float64 // dB
	Knee      float64 // dB
	Ratio     float64
	Attack    time.Duration
	Release   time.Duration
}

// DefaultLimiter caps combined pad peaks without squashing single hits.
func DefaultLimiter() LimiterConfig {
	return LimiterConfig{
		Threshold: -12,
		Knee:      30,
		Ratio:     12,
		Attack:    3 * time.Millisecond,
		Release:   200 * time.Millisecond,
	}
}

// Limiter is a stereo-linked soft-knee feed-forward compressor.
type Limiter struct {
	cfg         LimiterConfig
	attackCoef  float64
	releaseCoef float64
	reduction   float64 // smoothed gain reduction, dB (<= 0)
}

// NewLimiter validates cfg and builds a limiter for the sample rate.
func NewLimiter(cfg LimiterConfig, sampleRate int) (*Limiter, error) {
	switch {
	case sampleRate <= 0:
		return nil, fmt.Errorf("limiter: invalid sample rate %d", sampleRate)
	case cfg.Threshold > 0 || cfg.Threshold < -100:
		return nil, fmt.Errorf("limiter: threshold %.1f dB out of range [-100, 0]", cfg.Threshold)
	case cfg.Knee < 0 || cfg.Knee > 40:
		return nil, fmt.Errorf("limiter: knee %.1f dB out of range [0, 40]", cfg.Knee)
	case cfg.Ratio < 1 || cfg.Ratio > 20:
		return nil, fmt.Errorf("limiter: ratio %.1f out of range [1, 20]", cfg.Ratio)
	case cfg.Attack <= 0 || cfg.Release <= 0:
		return nil, fmt.Errorf("limiter: attack and release must be positive")
	}
	return &Limiter{
		cfg:         cfg,
		attackCoef:  math.Exp(-1 / (cfg.Attack.Seconds() * float64(sampleRate))),
		releaseCoef: math.Exp(-1 / (cfg.Release.Seconds() * float64(sampleRate))),
	}, nil
}

// curve is the static input/output characteristic in dB.
func (l *Limiter) curve(in float64) float64 {
	t, k, r := l.cfg.Threshold, l.cfg.Knee, l.cfg.Ratio
	over := in - t
	switch {
	case 2*over < -k:
		return in
	case k > 0 && 2*math.Abs(over) <= k:
		x := over + k/2
		return in + (1/r-1)*x*x/(2*k)
	default:
		return t + over/r
	}
}

// Process compresses the two channels in place.
func (l *Limiter) Process(left, right []float32) {
	for i := range left {
		peak := math.Max(math.Abs(float64(left[i])), math.Abs(float64(right[i])))
		target := 0.0
		if peak > 1e-6 {
			in := 20 * math.Log10(peak)
			target = l.curve(in) - in
		}
		coef := l.releaseCoef
		if target < l.reduction {
			coef = l.attackCoef
		}
		l.reduction = coef*l.reduction + (1-coef)*target
		g := float32(math.Pow(10, l.reduction/20))
		left[i] *= g
		right[i] *= g
	}
}

// Reduction returns the current gain reduction in dB (zero or negative).
func (l *Limiter) Reduction() float64 { return l.reduction }
