package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/monitor"
)

func pacingConfig() config.PacingConfig {
	return config.PacingConfig{
		FastInterval:    2 * time.Second,
		NormalInterval:  5 * time.Second,
		SlowInterval:    12 * time.Second,
		JitterFraction:  0.35,
		QuietMultiplier: 1.6,
	}
}

func TestPacerStaysWithinJitterBand(t *testing.T) {
	cfg := pacingConfig()
	p := monitor.NewPacer(cfg, 42)

	lo := time.Duration(float64(cfg.FastInterval) * (1 - cfg.JitterFraction))
	hi := time.Duration(float64(cfg.FastInterval) * (1 + cfg.JitterFraction))
	for i := 0; i < 200; i++ {
		d := p.Next(schemas.SpeedFast, false)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestPacerVariesBetweenIterations(t *testing.T) {
	p := monitor.NewPacer(pacingConfig(), 42)

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 50; i++ {
		seen[p.Next(schemas.SpeedNormal, false)] = struct{}{}
	}
	assert.Greater(t, len(seen), 10, "fixed-interval polling is the signature the jitter exists to break")
}

func TestPacerSeedsDiverge(t *testing.T) {
	a := monitor.NewPacer(pacingConfig(), 1)
	b := monitor.NewPacer(pacingConfig(), 2)

	same := 0
	for i := 0; i < 20; i++ {
		if a.Next(schemas.SpeedFast, false) == b.Next(schemas.SpeedFast, false) {
			same++
		}
	}
	assert.Less(t, same, 20, "two profiles must not pulse in lockstep")
}

func TestPacerQuietMultiplier(t *testing.T) {
	cfg := pacingConfig()
	calm := monitor.NewPacer(cfg, 7)
	eager := monitor.NewPacer(cfg, 7)

	// Same seed, so each pair of draws differs only by the quiet stretch.
	for i := 0; i < 20; i++ {
		quiet := calm.Next(schemas.SpeedSlow, true)
		busy := eager.Next(schemas.SpeedSlow, false)
		assert.InDelta(t, float64(busy)*cfg.QuietMultiplier, float64(quiet), float64(time.Millisecond))
	}
}

func TestPacerTierSelection(t *testing.T) {
	cfg := pacingConfig()
	cfg.JitterFraction = 0
	p := monitor.NewPacer(cfg, 3)

	assert.Equal(t, cfg.FastInterval, p.Next(schemas.SpeedFast, false))
	assert.Equal(t, cfg.NormalInterval, p.Next(schemas.SpeedNormal, false))
	assert.Equal(t, cfg.SlowInterval, p.Next(schemas.SpeedSlow, false))
	assert.Equal(t, cfg.NormalInterval, p.Next(schemas.SpeedTier("made-up"), false),
		"an unknown tier falls back to the normal cadence")
}

func TestPacerZeroConfigFallsBack(t *testing.T) {
	p := monitor.NewPacer(config.PacingConfig{}, 9)
	d := p.Next(schemas.SpeedFast, false)
	assert.Greater(t, d, time.Duration(0))
}

func TestPacerWaitHonorsCancel(t *testing.T) {
	p := monitor.NewPacer(pacingConfig(), 11)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Wait(ctx, schemas.SpeedSlow, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"cancellation must win over a multi-second pause")
}
