package news

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// LifecycleStage is the closed enumeration of a cluster's position in its
// heat lifecycle.
type LifecycleStage string

const (
	StageEmerging LifecycleStage = "EMERGING"
	StageGrowing  LifecycleStage = "GROWING"
	StagePeak     LifecycleStage = "PEAK"
	StageDecaying LifecycleStage = "DECAYING"
	StageStable   LifecycleStage = "STABLE"
)

// Trajectory is the closed classification of a forecast's shape.
type Trajectory string

const (
	TrajectorySpiking  Trajectory = "SPIKING"
	TrajectoryCrashing Trajectory = "CRASHING"
	TrajectoryGrowing  Trajectory = "GROWING"
	TrajectoryDecaying Trajectory = "DECAYING"
	TrajectoryStable   Trajectory = "STABLE"
)

// Factors are the inputs HeatPredictor derives from a sample window
// before producing horizoned forecasts.
type Factors struct {
	TrendDirection float64 // linear-regression slope normalized by mean, clipped [-1,1]
	Volatility     float64 // stdDev / mean
	Momentum       float64 // (mean of newest 5 - mean of next 5) / mean of next 5
	Lifecycle      LifecycleStage
}

// Forecast is one horizon's predicted heat with a confidence interval.
type Forecast struct {
	HorizonHours int
	Predicted    float64
	Confidence   float64
	LowerBound   float64
	UpperBound   float64
}

// heatPredictorMinWindow is the minimum sample count spec §4.C9 requires.
const heatPredictorMinWindow = 24

var stageFactor = map[LifecycleStage]float64{
	StageEmerging: 1.05,
	StageGrowing:  1.02,
	StagePeak:     0.98,
	StageDecaying: 0.95,
	StageStable:   1.0,
}

// HeatPredictor is C9: trend + volatility + momentum + lifecycle stage
// combine into horizoned heat forecasts and a trajectory classification.
type HeatPredictor struct {
	log zerolog.Logger
}

// NewHeatPredictor builds the predictor.
func NewHeatPredictor(log zerolog.Logger) *HeatPredictor {
	return &HeatPredictor{log: log.With().Str("component", "heat_predictor").Logger()}
}

// ComputeFactors derives Factors from samples ordered most-recent-first.
// Returns false if fewer than heatPredictorMinWindow samples are present.
func (p *HeatPredictor) ComputeFactors(samples []HeatSample) (Factors, bool) {
	if len(samples) < heatPredictorMinWindow {
		return Factors{}, false
	}

	// chronological (oldest first) for regression
	n := len(samples)
	heats := make([]float64, n)
	xs := make([]float64, n)
	for i := 0; i < n; i++ {
		// samples[0] is newest; reverse index for chronological order
		heats[i] = samples[n-1-i].HeatScore
		xs[i] = float64(i)
	}

	mean := stat.Mean(heats, nil)
	sd := stat.StdDev(heats, nil)

	_, slope := stat.LinearRegression(xs, heats, nil, false)
	trend := 0.0
	if mean != 0 {
		trend = clipRange(slope/mean, -1, 1)
	}

	volatility := 0.0
	if mean != 0 {
		volatility = sd / mean
	}

	momentum := computeMomentum(samples)
	stage := classifyLifecycle(heats, trend)

	return Factors{TrendDirection: trend, Volatility: volatility, Momentum: momentum, Lifecycle: stage}, true
}

func computeMomentum(samplesNewestFirst []HeatSample) float64 {
	if len(samplesNewestFirst) < 10 {
		return 0
	}
	newest5 := make([]float64, 5)
	next5 := make([]float64, 5)
	for i := 0; i < 5; i++ {
		newest5[i] = samplesNewestFirst[i].HeatScore
		next5[i] = samplesNewestFirst[i+5].HeatScore
	}
	meanNewest := stat.Mean(newest5, nil)
	meanNext := stat.Mean(next5, nil)
	if meanNext == 0 {
		return 0
	}
	return (meanNewest - meanNext) / meanNext
}

// classifyLifecycle derives EMERGING/GROWING/PEAK/DECAYING/STABLE from
// the current value's position within the observed range, combined with
// the recent trend.
func classifyLifecycle(heatsChrono []float64, trend float64) LifecycleStage {
	minV, maxV := heatsChrono[0], heatsChrono[0]
	for _, h := range heatsChrono {
		if h < minV {
			minV = h
		}
		if h > maxV {
			maxV = h
		}
	}
	current := heatsChrono[len(heatsChrono)-1]
	rangeV := maxV - minV
	position := 0.5
	if rangeV > 0 {
		position = (current - minV) / rangeV
	}

	switch {
	case position < 0.25 && trend > 0.1:
		return StageEmerging
	case position < 0.75 && trend > 0.1:
		return StageGrowing
	case position >= 0.85 && math.Abs(trend) <= 0.1:
		return StagePeak
	case trend < -0.1:
		return StageDecaying
	default:
		return StageStable
	}
}

// horizonHours are the forecast points spec §4.C9 names.
var horizonHours = []int{1, 6, 24}

// Forecast produces horizoned predictions from the current heat value and
// computed Factors.
func (p *HeatPredictor) Forecast(current float64, stdDev float64, f Factors) []Forecast {
	out := make([]Forecast, 0, len(horizonHours))
	for _, h := range horizonHours {
		hf := float64(h)
		predicted := current + f.TrendDirection*stdDev*hf*0.5
		predicted *= math.Pow(stageFactor[f.Lifecycle], hf)
		predicted *= 1 + f.Momentum*0.1*hf
		if predicted < 0 {
			predicted = 0
		}

		confidence := math.Exp(-hf/12) * math.Exp(-2*f.Volatility)
		ciWidth := 1.96 * stdDev * math.Sqrt(hf) * (1 + f.Volatility)
		lower := predicted - ciWidth
		if lower < 0 {
			lower = 0
		}

		out = append(out, Forecast{
			HorizonHours: h,
			Predicted:    predicted,
			Confidence:   confidence,
			LowerBound:   lower,
			UpperBound:   predicted + ciWidth,
		})
	}
	return out
}

// ClassifyTrajectory labels the shape of a set of forecasts (must include
// the 1h and 24h horizons) relative to current heat.
func ClassifyTrajectory(current float64, forecasts []Forecast, f Factors) Trajectory {
	var h1, h24 *Forecast
	for i := range forecasts {
		switch forecasts[i].HorizonHours {
		case 1:
			h1 = &forecasts[i]
		case 24:
			h24 = &forecasts[i]
		}
	}
	if h1 == nil || h24 == nil || current == 0 {
		return TrajectoryStable
	}

	change1 := (h1.Predicted - current) / current
	change24 := (h24.Predicted - current) / current

	switch {
	case change1 > 0.20 && change24 > 0.50:
		return TrajectorySpiking
	case change1 < -0.20 && change24 < -0.50:
		return TrajectoryCrashing
	case change1 > 0.05 || (f.TrendDirection > 0.1 && f.Momentum > 0.1):
		return TrajectoryGrowing
	case change1 < -0.05 || (f.TrendDirection < -0.1 && f.Momentum < -0.1):
		return TrajectoryDecaying
	default:
		return TrajectoryStable
	}
}

func clipRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
