package monitor

import (
	"context"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/retry"
)

// Pacer shapes the gap between loop iterations. Perlin noise drives the
// jitter so successive intervals wander smoothly instead of stepping
// uniformly or flickering around the base like white noise would.
type Pacer struct {
	cfg   config.PacingConfig
	noise *perlin.Perlin
	x     float64
}

// noiseStep advances the sample point per interval; small enough that
// consecutive intervals stay correlated.
const noiseStep = 0.17

// NewPacer builds a pacer for one profile. Loops sharing a seed would pulse
// in step, so every profile gets its own.
func NewPacer(cfg config.PacingConfig, seed int64) *Pacer {
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Pacer{
		cfg:   cfg,
		noise: perlin.NewPerlin(alpha, beta, n, seed),
	}
}

// Next returns the upcoming inter-iteration interval. quiet inflates the
// interval while the page keeps reporting nothing sellable or transient
// trouble.
func (p *Pacer) Next(tier schemas.SpeedTier, quiet bool) time.Duration {
	base := p.cfg.Interval(string(tier))
	if base <= 0 {
		base = 5 * time.Second
	}

	n := p.noise.Noise1D(p.x)
	p.x += noiseStep

	// Noise1D stays within roughly ±0.7 for these parameters; scaled by the
	// jitter fraction that keeps the interval inside (0, base*(1+fraction)].
	d := time.Duration(float64(base) * (1 + p.cfg.JitterFraction*n))
	if quiet && p.cfg.QuietMultiplier > 1 {
		d = time.Duration(float64(d) * p.cfg.QuietMultiplier)
	}
	if min := base / 4; d < min {
		d = min
	}
	return d
}

// Wait sleeps for the next interval or until ctx is canceled.
func (p *Pacer) Wait(ctx context.Context, tier schemas.SpeedTier, quiet bool) error {
	return retry.Sleep(ctx, p.Next(tier, quiet))
}
