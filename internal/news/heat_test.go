package news

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func growingSamples(n int) []HeatSample {
	out := make([]HeatSample, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		// newest-first, increasing into the past reversed: value grows over time
		out[i] = HeatSample{HeatScore: float64(n - i), Timestamp: now.Add(-time.Duration(i) * time.Hour)}
	}
	return out
}

func TestComputeFactors_TooFewSamples(t *testing.T) {
	p := NewHeatPredictor(zerolog.Nop())
	_, ok := p.ComputeFactors(growingSamples(5))
	assert.False(t, ok)
}

func TestComputeFactors_DetectsPositiveTrend(t *testing.T) {
	p := NewHeatPredictor(zerolog.Nop())
	factors, ok := p.ComputeFactors(growingSamples(30))
	require.True(t, ok)
	assert.Greater(t, factors.TrendDirection, 0.0)
}

func TestForecast_ProducesThreeHorizons(t *testing.T) {
	p := NewHeatPredictor(zerolog.Nop())
	factors, ok := p.ComputeFactors(growingSamples(30))
	require.True(t, ok)

	forecasts := p.Forecast(30, 5, factors)
	require.Len(t, forecasts, 3)
	horizons := map[int]bool{}
	for _, f := range forecasts {
		horizons[f.HorizonHours] = true
		assert.GreaterOrEqual(t, f.LowerBound, 0.0)
		assert.LessOrEqual(t, f.LowerBound, f.UpperBound)
	}
	assert.True(t, horizons[1] && horizons[6] && horizons[24])
}

func TestClassifyTrajectory_SpikingWhenBothHorizonsJumpSharply(t *testing.T) {
	forecasts := []Forecast{
		{HorizonHours: 1, Predicted: 130},
		{HorizonHours: 24, Predicted: 200},
	}
	traj := ClassifyTrajectory(100, forecasts, Factors{})
	assert.Equal(t, TrajectorySpiking, traj)
}

func TestClassifyTrajectory_StableWhenFlat(t *testing.T) {
	forecasts := []Forecast{
		{HorizonHours: 1, Predicted: 100.5},
		{HorizonHours: 24, Predicted: 101},
	}
	traj := ClassifyTrajectory(100, forecasts, Factors{})
	assert.Equal(t, TrajectoryStable, traj)
}
